package csvsource

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/class-grouper/internal/domain/shared"
	"github.com/alem-hub/class-grouper/internal/domain/student"
)

const sample = `Student_ID,Age,First_Time_Skiing,Able_To_Stop,Skiing_Experience_Years
1,12,1,0,0

2,"14",0,1,3 years
3,9,1,0
`

func writeRoster(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestReadRecords(t *testing.T) {
	records, err := ReadRecords(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "1", records[0].ID())
	assert.Equal(t, "14", records[1].Get(student.FieldAge))
	assert.Equal(t, "3 years", records[1].Get(student.FieldSkiingExperienceYears))

	// short row leaves trailing fields unset
	_, ok := records[2][student.FieldSkiingExperienceYears]
	assert.False(t, ok)
	assert.Equal(t, "0", records[2].Get(student.FieldAbleToStop))
}

func TestReadRecords_BOMAndEmpty(t *testing.T) {
	records, err := ReadRecords(strings.NewReader("\ufeffStudent_ID,Age\n7,10\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "7", records[0].ID())

	records, err = ReadRecords(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = ReadRecords(strings.NewReader("Student_ID,Age\n"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestReadRecords_Malformed(t *testing.T) {
	_, err := ReadRecords(strings.NewReader("Student_ID,Age\n\"1,10\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidFormat)
}

func TestSource_Load(t *testing.T) {
	dir := t.TempDir()
	writeRoster(t, dir, "winter.csv", sample)
	src := New(dir, nil)

	records, err := src.Load(context.Background(), "winter")
	require.NoError(t, err)
	assert.Len(t, records, 3)

	_, err = src.Load(context.Background(), "summer")
	assert.True(t, shared.IsNotFound(err))

	_, err = src.Load(context.Background(), "../etc/passwd")
	assert.True(t, shared.IsInvalidArgument(err))
}

func TestSource_List(t *testing.T) {
	dir := t.TempDir()
	writeRoster(t, dir, "b-group.csv", sample)
	writeRoster(t, dir, "a-group.csv", "Student_ID\n1\n")
	writeRoster(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.csv"), 0o700))

	src := New(dir, nil)
	rosters, err := src.List(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []student.RosterInfo{
		{ID: "a-group", Name: "a-group", StudentCount: 1, Source: SourceName},
		{ID: "b-group", Name: "b-group", StudentCount: 3, Source: SourceName},
	}, rosters)
	assert.Equal(t, "csv", src.Name())
}

func TestSource_ListMissingDir(t *testing.T) {
	src := New(filepath.Join(t.TempDir(), "missing"), nil)
	_, err := src.List(context.Background())
	assert.Error(t, err)
}
