package oplog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (*Logger, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := New(dir)
	require.NoError(t, err)
	l.now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	}
	return l, dir
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestLogAppendsJSONLines(t *testing.T) {
	t.Parallel()

	l, dir := newTestLogger(t)
	l.AcquisitionStarted("abc-123", "data/events_20260314_093000.csv")
	l.StageChanged(1, 2, "")
	l.StageChanged(2, 3, "hip")

	path := filepath.Join(dir, "operation_log_20260314.log")
	entries := readEntries(t, path)
	require.Len(t, entries, 3)

	assert.Equal(t, "acquisition_started", entries[0].Operation)
	assert.Equal(t, "abc-123", entries[0].Details["session_id"])
	assert.Equal(t, "2026-03-14 09:30:00.000", entries[0].Timestamp)

	assert.NotContains(t, entries[1].Details, "sub_stage")
	assert.Equal(t, "hip", entries[2].Details["sub_stage"])
}

func TestEventRecordedTruncatesSensorPreview(t *testing.T) {
	t.Parallel()

	l, dir := newTestLogger(t)
	l.EventRecorded(2, "开始矫正", "correction_start", []float64{2600, 2580, 2555, 2540, 2520})

	entries := readEntries(t, filepath.Join(dir, "operation_log_20260314.log"))
	require.Len(t, entries, 1)

	preview, ok := entries[0].Details["sensors"].([]interface{})
	require.True(t, ok)
	assert.Len(t, preview, sensorPreviewLimit)
}

func TestRotationRenamesOversizedDayFile(t *testing.T) {
	t.Parallel()

	l, dir := newTestLogger(t)
	day := filepath.Join(dir, "operation_log_20260314.log")

	// A sparse file at the cap stands in for a day of real entries.
	f, err := os.Create(day)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(maxFileSize))
	require.NoError(t, f.Close())

	l.Error("stage_changed", assert.AnError)

	rotated := filepath.Join(dir, "operation_log_20260314_093000.log")
	info, err := os.Stat(rotated)
	require.NoError(t, err)
	assert.Equal(t, int64(maxFileSize), info.Size())

	entries := readEntries(t, day)
	require.Len(t, entries, 1, "the fresh day file holds only the new entry")
	assert.Equal(t, "error", entries[0].Operation)
}

func TestPruneKeepsNewestFiles(t *testing.T) {
	t.Parallel()

	l, dir := newTestLogger(t)
	for i := 0; i < maxFiles+4; i++ {
		name := fmt.Sprintf("operation_log_202603%02d.log", i+1)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0644))
	}

	require.NoError(t, l.prune())

	remaining, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, remaining, maxFiles)

	_, err = os.Stat(filepath.Join(dir, "operation_log_20260301.log"))
	assert.True(t, os.IsNotExist(err), "the oldest journals are removed first")
}
