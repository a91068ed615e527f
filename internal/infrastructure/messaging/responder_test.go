package messaging

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/class-grouper/internal/application/command"
	"github.com/alem-hub/class-grouper/internal/domain/grouping"
	"github.com/alem-hub/class-grouper/internal/domain/shared"
	"github.com/alem-hub/class-grouper/internal/domain/student"
)

func startNATS(t *testing.T) *server.Server {
	t.Helper()

	ns, err := server.NewServer(&server.Options{
		Host:  "127.0.0.1",
		Port:  -1,
		NoLog: true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

type stubRosters struct{}

func (stubRosters) Load(_ context.Context, id string) ([]student.Record, error) {
	if id != "winter" {
		return nil, shared.ErrRosterNotFound
	}
	return roster(4), nil
}
func (stubRosters) List(context.Context) ([]student.RosterInfo, error) { return nil, nil }
func (stubRosters) Name() string                                       { return "stub" }

type panicHandler struct{}

func (panicHandler) Handle(context.Context, command.GroupStudentsCommand) (*command.GroupStudentsResult, error) {
	panic("kaboom")
}

func roster(n int) []student.Record {
	out := make([]student.Record, n)
	for i := range out {
		out[i] = student.Record{student.FieldStudentID: strconv.Itoa(i + 1), student.FieldAge: strconv.Itoa(10 + i)}
	}
	return out
}

func setup(t *testing.T, handler GroupHandler) (*Client, *nats.Conn) {
	t.Helper()
	ns := startNATS(t)

	cfg := DefaultConfig()
	cfg.URL = ns.ClientURL()
	cfg.Subject = "test.grouping"
	cfg.RequestTimeout = 5 * time.Second

	nc, err := Connect(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	resp := NewResponder(nc, handler, cfg, nil)
	require.NoError(t, resp.Start())
	require.Error(t, resp.Start())
	t.Cleanup(func() { _ = resp.Stop() })

	require.NoError(t, nc.Flush())
	return NewClient(nc, cfg), nc
}

func newGroupHandler() GroupHandler {
	return command.NewGroupStudentsHandler(grouping.NewEngine(), stubRosters{},
		command.GroupStudentsConfig{DefaultGroupSize: 6, MaxStudents: 100}, nil)
}

func TestResponder_InlineStudents(t *testing.T) {
	client, _ := setup(t, newGroupHandler())

	groups, err := client.Group(context.Background(), GroupRequest{Students: roster(7), GroupSize: 3})
	require.NoError(t, err)

	sizes := make([]int, len(groups))
	total := 0
	for i, g := range groups {
		sizes[i] = len(g)
		total += len(g)
	}
	assert.Equal(t, []int{3, 3, 1}, sizes)
	assert.Equal(t, 7, total)
}

func TestResponder_Roster(t *testing.T) {
	client, _ := setup(t, newGroupHandler())

	groups, err := client.Group(context.Background(), GroupRequest{RosterID: "winter", GroupSize: 2})
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	_, err = client.Group(context.Background(), GroupRequest{RosterID: "spring", GroupSize: 2})
	var re *ReplyError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, CodeNotFound, re.Code)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestResponder_InvalidArgument(t *testing.T) {
	client, _ := setup(t, newGroupHandler())

	_, err := client.Group(context.Background(), GroupRequest{Students: roster(3), GroupSize: 0})
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = client.Group(context.Background(), GroupRequest{GroupSize: 3})
	assert.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestResponder_MalformedPayload(t *testing.T) {
	_, nc := setup(t, newGroupHandler())

	msg, err := nc.Request("test.grouping", []byte(`{"students":[{"Age":{"nested":1}}],"groupSize":2}`), 5*time.Second)
	require.NoError(t, err)

	var reply GroupReply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, CodeInvalidArgument, reply.Error.Code)
	assert.NotEmpty(t, msg.Header.Get(HeaderRequestID))
}

func TestResponder_RecoversFromPanic(t *testing.T) {
	client, _ := setup(t, panicHandler{})

	_, err := client.Group(context.Background(), GroupRequest{Students: roster(2), GroupSize: 1})
	var re *ReplyError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, CodeInternal, re.Code)
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)

	assert.Empty(t, c.Get("traceparent"))
	assert.Nil(t, c.Keys())

	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, c.Keys())
}
