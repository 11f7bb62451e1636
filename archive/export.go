package archive

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/posturelab/spine-trainer-station/events"
)

// ExportSessionArchive packs one archived session into a ZIP holding the
// events in the native log format plus a markers CSV. Exported event files
// re-import cleanly.
func ExportSessionArchive(sessionID int) (*bytes.Buffer, *Session, error) {
	session, err := SessionByID(sessionID)
	if err != nil {
		return nil, nil, err
	}
	sessionEvents, err := SessionEvents(sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session events: %w", err)
	}
	markers, err := MarkersForSession(sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load markers: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	eventData, err := generateEventLogCSV(session, sessionEvents)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate event CSV: %w", err)
	}
	eventFile, err := w.Create("events.csv")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create events CSV file in zip: %w", err)
	}
	if _, err := eventFile.Write(eventData); err != nil {
		return nil, nil, fmt.Errorf("failed to write events CSV data: %w", err)
	}

	if len(markers) > 0 {
		markerData, err := generateMarkersCSV(markers)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate markers CSV: %w", err)
		}
		markerFile, err := w.Create("markers.csv")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create markers CSV file in zip: %w", err)
		}
		if _, err := markerFile.Write(markerData); err != nil {
			return nil, nil, fmt.Errorf("failed to write markers CSV data: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, nil, fmt.Errorf("failed to close zip writer: %w", err)
	}

	return buf, session, nil
}

// generateEventLogCSV renders archived events back into the log format the
// recorder writes: comment block, blank line, column header, data rows.
func generateEventLogCSV(session *Session, sessionEvents []SessionEvent) ([]byte, error) {
	channels := 0
	for _, e := range sessionEvents {
		if len(e.Sensors) > channels {
			channels = len(e.Sensors)
		}
		if len(e.Weights) > channels {
			channels = len(e.Weights)
		}
	}

	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "# Exported from session archive: %s\n# Spine type: %s, variant: %s\n\n",
		session.Title, session.SpineType, session.Variant)

	writer := csv.NewWriter(buf)

	header := []string{"time(s)", "event_name", "event_code", "stage"}
	for i := 1; i <= channels; i++ {
		header = append(header, fmt.Sprintf("sensor%d", i))
	}
	for i := 1; i <= channels; i++ {
		header = append(header, fmt.Sprintf("weight%d", i))
	}
	header = append(header, "error_range")
	if err := writer.Write(header); err != nil {
		return nil, err
	}

	for _, e := range sessionEvents {
		row := []string{formatCell(e.Time), e.Name, e.Code, events.StageLabel(e.Stage)}
		for i := 0; i < channels; i++ {
			if i < len(e.Sensors) && e.SensorsSet[i] {
				row = append(row, formatCell(e.Sensors[i]))
			} else {
				row = append(row, "")
			}
		}
		for i := 0; i < channels; i++ {
			if i < len(e.Weights) && e.WeightsSet[i] {
				row = append(row, formatCell(e.Weights[i]))
			} else {
				row = append(row, "0")
			}
		}
		row = append(row, formatCell(e.ErrorRange))
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func generateMarkersCSV(markers []Marker) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	if err := writer.Write([]string{"time_seconds", "label", "type"}); err != nil {
		return nil, err
	}
	for _, m := range markers {
		if err := writer.Write([]string{formatCell(m.Time), m.Label, m.Type}); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func formatCell(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ArchiveFilename generates a download name for a session export.
func ArchiveFilename(session *Session) string {
	title := session.Title
	if title == "" {
		title = "session_" + strconv.Itoa(session.ID)
	}
	return fmt.Sprintf("%s_%s.zip", title, time.Now().Format("20060102_150405"))
}
