package training

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/posturelab/spine-trainer-station/events"
)

func TestBuildWorkbookSheets(t *testing.T) {
	recorded := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	history := []events.Event{
		{ID: 1, Stage: 2, Name: "矫正完成", Code: "correction_complete", Time: 20.5, ErrorRange: 0.1, Sensors: []float64{5, 6}, Weights: []float64{1, 0}, RecordedAt: recorded},
		{ID: 2, Stage: 1, Name: "开始训练", Code: "start_training", Time: 0.5, ErrorRange: 0.1, Sensors: []float64{100, 100, 50}, Weights: []float64{1, 1, 0}, RecordedAt: recorded},
	}
	labelFor := func(id int) string { return fmt.Sprintf("第%d阶段", id) }

	f, err := BuildWorkbook(history, labelFor)
	require.NoError(t, err)
	defer f.Close()

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	loaded, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer loaded.Close()

	assert.Equal(t, []string{allRecordsSheet, "第1阶段", "第2阶段"}, loaded.GetSheetList())

	rows, err := loaded.GetRows(allRecordsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "序号", rows[0][0])
	assert.Equal(t, "sensor1", rows[0][7])
	assert.Equal(t, "weight3", rows[0][12])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "阶段2", rows[1][1])
	assert.Equal(t, "矫正完成", rows[1][2])
	assert.Equal(t, "20.5", rows[1][4])
	assert.Equal(t, "2025-03-14 15:09:26", rows[1][5])
	assert.Equal(t, "100", rows[2][7])

	stageRows, err := loaded.GetRows("第1阶段")
	require.NoError(t, err)
	require.Len(t, stageRows, 2)
	assert.Equal(t, "开始训练", stageRows[1][2])
}

func TestBuildSessionBundle(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "events_20250314_150926.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("time,event\n0.5,start"), 0644))
	posePath := filepath.Join(dir, "standard_stage1_20250314_150930.json")
	require.NoError(t, os.WriteFile(posePath, []byte(`{"stage":1}`), 0644))

	buf, err := BuildSessionBundle(csvPath, []string{posePath})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "events_20250314_150926.csv", zr.File[0].Name)
	assert.Equal(t, "standard_stage1_20250314_150930.json", zr.File[1].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "time,event\n0.5,start", string(content))
}

func TestBuildSessionBundleSkipsEmptyLogPath(t *testing.T) {
	dir := t.TempDir()
	posePath := filepath.Join(dir, "standard_stage1_20250314_150930.json")
	require.NoError(t, os.WriteFile(posePath, []byte(`{"stage":1}`), 0644))

	buf, err := BuildSessionBundle("", []string{posePath})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
}

func TestBuildSessionBundleMissingFile(t *testing.T) {
	_, err := BuildSessionBundle(filepath.Join(t.TempDir(), "gone.csv"), nil)
	assert.Error(t, err)
}

func TestExportFilenames(t *testing.T) {
	name := WorkbookFilename("abcdef123456")
	assert.True(t, strings.HasPrefix(name, "training_records_abcdef12_"), name)
	assert.True(t, strings.HasSuffix(name, ".xlsx"), name)

	bundle := BundleFilename("")
	assert.True(t, strings.HasPrefix(bundle, "training_session_session_"), bundle)
	assert.True(t, strings.HasSuffix(bundle, ".zip"), bundle)
}
