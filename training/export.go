package training

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/posturelab/spine-trainer-station/events"
)

const allRecordsSheet = "所有记录"

// BuildWorkbook lays a session's events out as a workbook: one 所有记录
// sheet with every event, plus one sheet per stage that saw events. labelFor
// names the per-stage sheets.
func BuildWorkbook(history []events.Event, labelFor func(int) string) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", allRecordsSheet); err != nil {
		return nil, fmt.Errorf("failed to rename summary sheet: %w", err)
	}

	sensorColumns := 0
	for _, ev := range history {
		if len(ev.Sensors) > sensorColumns {
			sensorColumns = len(ev.Sensors)
		}
		if len(ev.Weights) > sensorColumns {
			sensorColumns = len(ev.Weights)
		}
	}

	if err := writeSheet(f, allRecordsSheet, history, sensorColumns); err != nil {
		return nil, err
	}

	stages := make([]int, 0, 8)
	seen := make(map[int]bool)
	for _, ev := range history {
		if !seen[ev.Stage] {
			seen[ev.Stage] = true
			stages = append(stages, ev.Stage)
		}
	}
	sort.Ints(stages)

	for _, id := range stages {
		sheet := labelFor(id)
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}
		var stageEvents []events.Event
		for _, ev := range history {
			if ev.Stage == id {
				stageEvents = append(stageEvents, ev)
			}
		}
		if err := writeSheet(f, sheet, stageEvents, sensorColumns); err != nil {
			return nil, err
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, history []events.Event, sensorColumns int) error {
	header := []interface{}{"序号", "阶段", "事件名称", "事件代码", "时间(s)", "记录时间", "误差范围"}
	for i := 1; i <= sensorColumns; i++ {
		header = append(header, fmt.Sprintf("sensor%d", i))
	}
	for i := 1; i <= sensorColumns; i++ {
		header = append(header, fmt.Sprintf("weight%d", i))
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header on %s: %w", sheet, err)
	}

	for n, ev := range history {
		row := []interface{}{
			ev.ID,
			events.StageLabel(ev.Stage),
			ev.Name,
			ev.Code,
			ev.Time,
			ev.RecordedAt.Format("2006-01-02 15:04:05"),
			ev.ErrorRange,
		}
		for i := 0; i < sensorColumns; i++ {
			if i < len(ev.Sensors) {
				row = append(row, ev.Sensors[i])
			} else {
				row = append(row, "")
			}
		}
		for i := 0; i < sensorColumns; i++ {
			if i < len(ev.Weights) {
				row = append(row, ev.Weights[i])
			} else {
				row = append(row, 0)
			}
		}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", n+2), &row); err != nil {
			return fmt.Errorf("failed to write row %d on %s: %w", n+2, sheet, err)
		}
	}
	return nil
}

// BuildSessionBundle packs the session's event log CSV and its standard-pose
// JSON files into one ZIP for download.
func BuildSessionBundle(csvPath string, poseFiles []string) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	add := func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		fw, err := w.Create(filepath.Base(path))
		if err != nil {
			return fmt.Errorf("failed to create %s in zip: %w", filepath.Base(path), err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("failed to write %s into zip: %w", filepath.Base(path), err)
		}
		return nil
	}

	if csvPath != "" {
		if err := add(csvPath); err != nil {
			return nil, err
		}
	}
	for _, path := range poseFiles {
		if err := add(path); err != nil {
			return nil, err
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip writer: %w", err)
	}
	return buf, nil
}

// WorkbookFilename generates a download name for the records workbook.
func WorkbookFilename(sessionID string) string {
	return fmt.Sprintf("training_records_%s_%s.xlsx", shortSession(sessionID), time.Now().Format("20060102_150405"))
}

// BundleFilename generates a download name for the session ZIP bundle.
func BundleFilename(sessionID string) string {
	return fmt.Sprintf("training_session_%s_%s.zip", shortSession(sessionID), time.Now().Format("20060102_150405"))
}

func shortSession(sessionID string) string {
	if sessionID == "" {
		return "session"
	}
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}
