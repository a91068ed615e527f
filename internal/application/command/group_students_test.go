package command

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/class-grouper/internal/domain/grouping"
	"github.com/alem-hub/class-grouper/internal/domain/shared"
	"github.com/alem-hub/class-grouper/internal/domain/student"
)

type fakeRosters struct {
	rosters map[string][]student.Record
	err     error
}

func (f *fakeRosters) Load(_ context.Context, id string) ([]student.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.rosters[id]
	if !ok {
		return nil, shared.ErrRosterNotFound
	}
	return r, nil
}

func (f *fakeRosters) List(context.Context) ([]student.RosterInfo, error) { return nil, nil }
func (f *fakeRosters) Name() string                                       { return "fake" }

type failingClusterer struct{}

func (failingClusterer) Cluster([]grouping.FeatureVector, int) (grouping.ClusterResult, error) {
	return grouping.ClusterResult{}, errors.New("boom")
}

func makeRoster(n int) []student.Record {
	out := make([]student.Record, n)
	for i := range out {
		out[i] = student.Record{
			student.FieldStudentID: strconv.Itoa(i + 1),
			student.FieldAge:       strconv.Itoa(8 + i%10),
		}
	}
	return out
}

func newHandler(rosters student.RosterSource, opts ...grouping.Option) *GroupStudentsHandler {
	engine := grouping.NewEngine(opts...)
	return NewGroupStudentsHandler(engine, rosters, GroupStudentsConfig{DefaultGroupSize: 6, MaxStudents: 20}, nil)
}

func TestGroupStudents_Inline(t *testing.T) {
	h := newHandler(nil)

	res, err := h.Handle(context.Background(), GroupStudentsCommand{Students: makeRoster(13), GroupSize: 5})
	require.NoError(t, err)

	assert.Equal(t, []int{5, 5, 3}, res.Groups.Sizes())
	assert.Equal(t, 13, res.StudentCount)
	assert.Equal(t, 5, res.GroupSize)
	assert.Len(t, res.ClusterSizes, 3)
	assert.False(t, res.Degraded)
	assert.Equal(t, 6, h.DefaultGroupSize())
}

func TestGroupStudents_Roster(t *testing.T) {
	src := &fakeRosters{rosters: map[string][]student.Record{"winter": makeRoster(7)}}
	h := newHandler(src)

	res, err := h.Handle(context.Background(), GroupStudentsCommand{RosterID: "winter", GroupSize: 3})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 3, 1}, res.Groups.Sizes())
	assert.Equal(t, "winter", res.RosterID)

	_, err = h.Handle(context.Background(), GroupStudentsCommand{RosterID: "summer", GroupSize: 3})
	assert.True(t, shared.IsNotFound(err))
}

func TestGroupStudents_NoRosterSource(t *testing.T) {
	h := newHandler(nil)
	_, err := h.Handle(context.Background(), GroupStudentsCommand{RosterID: "winter", GroupSize: 3})
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

func TestGroupStudents_InvalidArguments(t *testing.T) {
	h := newHandler(&fakeRosters{})

	tests := []struct {
		name string
		cmd  GroupStudentsCommand
	}{
		{"zero group size", GroupStudentsCommand{Students: makeRoster(3), GroupSize: 0}},
		{"negative group size", GroupStudentsCommand{Students: makeRoster(3), GroupSize: -2}},
		{"empty roster", GroupStudentsCommand{GroupSize: 3}},
		{"too many students", GroupStudentsCommand{Students: makeRoster(21), GroupSize: 3}},
		{"nil record", GroupStudentsCommand{Students: []student.Record{nil}, GroupSize: 3}},
		{"both inputs", GroupStudentsCommand{Students: makeRoster(2), RosterID: "winter", GroupSize: 3}},
		{"bad roster id", GroupStudentsCommand{RosterID: "../x", GroupSize: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.Handle(context.Background(), tt.cmd)
			assert.Nil(t, res)
			assert.True(t, shared.IsInvalidArgument(err), "got %v", err)
		})
	}
}

func TestGroupStudents_TooManyStudentsIsDistinguishable(t *testing.T) {
	h := newHandler(nil)
	_, err := h.Handle(context.Background(), GroupStudentsCommand{Students: makeRoster(21), GroupSize: 3})
	assert.ErrorIs(t, err, shared.ErrTooManyStudents)
}

func TestGroupStudents_Degraded(t *testing.T) {
	h := newHandler(nil, grouping.WithClusterer(failingClusterer{}))

	roster := makeRoster(5)
	res, err := h.Handle(context.Background(), GroupStudentsCommand{Students: roster, GroupSize: 2})
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.Equal(t, []int{2, 2, 1}, res.Groups.Sizes())
	assert.Equal(t, roster[0], res.Groups[0][0])
}

func TestGroupStudents_CancelledContext(t *testing.T) {
	h := newHandler(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Handle(ctx, GroupStudentsCommand{Students: makeRoster(3), GroupSize: 2})
	assert.ErrorIs(t, err, context.Canceled)
}
