package events

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestRecorder(t *testing.T, sensors int) (*Recorder, *testClock, string) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
	r := NewRecorder(sensors)
	r.now = clock.Now
	path := filepath.Join(t.TempDir(), "events_test.csv")
	require.NoError(t, r.StartSession(path))
	return r, clock, path
}

func TestRecordWithoutSession(t *testing.T) {
	t.Parallel()

	r := NewRecorder(3)
	ok, err := r.Record(Event{Name: "开始训练", Code: "training_start", Stage: 1})
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrNoSession))
}

func TestHeaderWrittenOnce(t *testing.T) {
	t.Parallel()

	r, clock, path := newTestRecorder(t, 3)

	ok, err := r.Record(Event{Name: "开始训练", Code: "training_start", Stage: 1})
	require.NoError(t, err)
	require.True(t, ok)

	clock.advance(5 * time.Second)
	ok, err = r.Record(Event{Name: "完成阶段", Code: "stage_complete", Stage: 1})
	require.NoError(t, err)
	require.True(t, ok)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)

	assert.Equal(t, 1, strings.Count(content, "time(s),event_name,event_code,stage"))
	assert.Contains(t, content, "# Acquisition Start Time: 2026-03-14 09:30:00")
	assert.Contains(t, content, "# Data source: 事件数据")

	lines := strings.Split(content, "\n")
	require.GreaterOrEqual(t, len(lines), 7)
	assert.Equal(t, "", lines[4], "comment block should end with a blank separator")
	assert.Equal(t, "time(s),event_name,event_code,stage,sensor1,sensor2,sensor3,weight1,weight2,weight3,error_range", lines[5])
}

func TestRowFormat(t *testing.T) {
	t.Parallel()

	r, clock, path := newTestRecorder(t, 3)
	clock.advance(1500 * time.Millisecond)

	ok, err := r.Record(Event{
		Name:       "开始训练",
		Code:       "training_start",
		Stage:      1,
		Sensors:    []float64{2600.5, 2580},
		Weights:    []float64{1, 0.5},
		ErrorRange: 0.25,
	})
	require.NoError(t, err)
	require.True(t, ok)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	last := lines[len(lines)-1]

	assert.Equal(t, "1.5,开始训练,training_start,阶段1,2600.5,2580,,1,0.5,0,0.25", last)
}

func TestDefaultErrorRangeApplied(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRecorder(t, 2)
	ok, err := r.Record(Event{Name: "开始训练", Code: "training_start", Stage: 1})
	require.NoError(t, err)
	require.True(t, ok)

	history := r.History()
	require.Len(t, history, 1)
	assert.Equal(t, DefaultErrorRange, history[0].ErrorRange)
}

func TestDuplicateSuppression(t *testing.T) {
	t.Parallel()

	r, clock, _ := newTestRecorder(t, 3)

	ok, err := r.Record(Event{Name: "开始矫正", Code: "correction_start", Stage: 2})
	require.NoError(t, err)
	require.True(t, ok)

	clock.advance(500 * time.Millisecond)
	ok, err = r.Record(Event{Name: "开始矫正", Code: "correction_start", Stage: 2})
	require.NoError(t, err)
	assert.False(t, ok, "same name and stage within a second should be suppressed")
	assert.Equal(t, 1, r.Count())

	// A different stage is a different event even when the name matches.
	ok, err = r.Record(Event{Name: "开始矫正", Code: "correction_start", Stage: 3})
	require.NoError(t, err)
	assert.True(t, ok)

	clock.advance(2 * time.Second)
	ok, err = r.Record(Event{Name: "开始矫正", Code: "correction_start", Stage: 2})
	require.NoError(t, err)
	assert.True(t, ok, "the suppression window is one second, not the whole session")
	assert.Equal(t, 3, r.Count())
}

func TestDuplicateWindowOnlyScansRecentEvents(t *testing.T) {
	t.Parallel()

	r, clock, _ := newTestRecorder(t, 1)

	ok, err := r.Record(Event{Name: "开始训练", Code: "training_start", Stage: 1})
	require.NoError(t, err)
	require.True(t, ok)

	clock.advance(100 * time.Millisecond)
	for i := 0; i < duplicateWindow; i++ {
		ok, err = r.Record(Event{Name: "完成阶段", Code: "stage_complete", Stage: i + 2})
		require.NoError(t, err)
		require.True(t, ok)
	}

	// The first event has scrolled out of the window, so its echo lands.
	ok, err = r.Record(Event{Name: "开始训练", Code: "training_start", Stage: 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStartSessionResetsState(t *testing.T) {
	t.Parallel()

	r, clock, path := newTestRecorder(t, 2)

	ok, err := r.Record(Event{Name: "开始训练", Code: "training_start", Stage: 1})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, r.Count())

	clock.advance(time.Minute)
	require.NoError(t, r.StartSession(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, raw, "starting a session truncates the previous file")
	assert.Equal(t, 0, r.Count())

	// Ids restart from one and the duplicate window is clear.
	ok, err = r.Record(Event{Name: "开始训练", Code: "training_start", Stage: 1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, r.History()[0].ID)
}

func TestWriteFailureStillCountsEvent(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
	r := NewRecorder(2)
	r.now = clock.Now

	missing := filepath.Join(t.TempDir(), "missing", "events.csv")
	require.Error(t, r.StartSession(missing))
	assert.True(t, r.SessionActive(), "a file error must not block the session itself")

	ok, err := r.Record(Event{Name: "开始训练", Code: "training_start", Stage: 1})
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Equal(t, 1, r.Count(), "in-memory history advances even when the disk write fails")

	clock.advance(500 * time.Millisecond)
	ok, err = r.Record(Event{Name: "开始训练", Code: "training_start", Stage: 1})
	require.NoError(t, err)
	assert.False(t, ok, "duplicate detection still sees the unwritten event")
}

func TestSensorCountLockedAfterFirstRow(t *testing.T) {
	t.Parallel()

	r, _, _ := newTestRecorder(t, 3)
	require.NoError(t, r.SetSensorCount(4))

	ok, err := r.Record(Event{Name: "开始训练", Code: "training_start", Stage: 1})
	require.NoError(t, err)
	require.True(t, ok)

	assert.Error(t, r.SetSensorCount(5))
	assert.Equal(t, 4, r.SensorCount())
}

func TestEndSessionStopsRecordingKeepsHistory(t *testing.T) {
	t.Parallel()

	r, _, path := newTestRecorder(t, 2)
	ok, err := r.Record(Event{Name: "开始训练", Code: "training_start", Stage: 1})
	require.NoError(t, err)
	require.True(t, ok)

	r.EndSession()
	assert.False(t, r.SessionActive())

	ok, err = r.Record(Event{Name: "完成阶段", Code: "stage_complete", Stage: 1})
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrNoSession))

	assert.Equal(t, 1, r.Count(), "history survives the session end")
	assert.Equal(t, path, r.SessionPath())

	// With the session closed the channel count is free to change again.
	require.NoError(t, r.SetSensorCount(5))
}

func TestLatestReturnsNewestFirst(t *testing.T) {
	t.Parallel()

	r, clock, _ := newTestRecorder(t, 1)
	names := []string{"开始训练", "完成阶段", "开始矫正"}
	for i, name := range names {
		ok, err := r.Record(Event{Name: name, Code: "e", Stage: i + 1})
		require.NoError(t, err)
		require.True(t, ok)
		clock.advance(2 * time.Second)
	}

	latest := r.Latest(2)
	require.Len(t, latest, 2)
	assert.Equal(t, "开始矫正", latest[0].Name)
	assert.Equal(t, "完成阶段", latest[1].Name)
}
