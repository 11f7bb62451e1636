package events

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/posturelab/spine-trainer-station/axis"
)

// columnMap locates the known columns inside a session file header. Sensor
// and weight columns are keyed by their one-based channel suffix.
type columnMap struct {
	time       int
	name       int
	code       int
	stage      int
	errorRange int
	sensors    map[int]int
	weights    map[int]int
}

func newColumnMap() columnMap {
	return columnMap{
		time:       -1,
		name:       -1,
		code:       -1,
		stage:      -1,
		errorRange: -1,
		sensors:    make(map[int]int),
		weights:    make(map[int]int),
	}
}

// channelCount returns the highest channel index seen in the header.
func (m columnMap) channelCount() int {
	max := 0
	for idx := range m.sensors {
		if idx > max {
			max = idx
		}
	}
	for idx := range m.weights {
		if idx > max {
			max = idx
		}
	}
	return max
}

// ParseFile reads a recorded session file back into events.
func ParseFile(path string) ([]ParsedEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads session rows from r. Comment lines and rows that predate the
// header are skipped; rows whose timestamp does not parse are dropped rather
// than failing the whole file, since hand-edited logs are common.
func Parse(r io.Reader) ([]ParsedEvent, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	headerIdx := -1
	for i, record := range records {
		line := strings.ToLower(strings.Join(record, ","))
		if strings.Contains(line, "event_name") && strings.Contains(line, "stage") {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 {
		return nil, fmt.Errorf("no header row found in session file")
	}

	cols := mapColumns(records[headerIdx])
	if cols.time == -1 || cols.name == -1 {
		return nil, fmt.Errorf("session file header is missing time or event_name")
	}
	channels := cols.channelCount()

	var events []ParsedEvent
	for _, record := range records[headerIdx+1:] {
		e, ok := parseRow(record, cols, channels)
		if !ok {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func mapColumns(header []string) columnMap {
	cols := newColumnMap()
	for i, col := range header {
		name := strings.ToLower(strings.TrimSpace(col))
		switch {
		case strings.Contains(name, "time"):
			cols.time = i
		case name == "event_name":
			cols.name = i
		case name == "event_code":
			cols.code = i
		case name == "stage":
			cols.stage = i
		case strings.Contains(name, "error_range"):
			cols.errorRange = i
		case strings.HasPrefix(name, "sensor"):
			if idx, err := strconv.Atoi(name[len("sensor"):]); err == nil && idx >= 1 {
				cols.sensors[idx] = i
			}
		case strings.HasPrefix(name, "weight"):
			if idx, err := strconv.Atoi(name[len("weight"):]); err == nil && idx >= 1 {
				cols.weights[idx] = i
			}
		}
	}
	return cols
}

func parseRow(record []string, cols columnMap, channels int) (ParsedEvent, bool) {
	cell := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	t, err := strconv.ParseFloat(cell(cols.time), 64)
	if err != nil {
		return ParsedEvent{}, false
	}

	e := ParsedEvent{
		Time:       t,
		Name:       cell(cols.name),
		Code:       cell(cols.code),
		Stage:      parseStage(cell(cols.stage)),
		Sensors:    make([]float64, channels),
		SensorsSet: make([]bool, channels),
		Weights:    make([]float64, channels),
		WeightsSet: make([]bool, channels),
	}

	for idx, col := range cols.sensors {
		if v, err := strconv.ParseFloat(cell(col), 64); err == nil {
			e.Sensors[idx-1] = v
			e.SensorsSet[idx-1] = true
		}
	}
	for idx, col := range cols.weights {
		if v, err := strconv.ParseFloat(cell(col), 64); err == nil {
			e.Weights[idx-1] = v
			e.WeightsSet[idx-1] = true
		}
	}
	if v, err := strconv.ParseFloat(cell(cols.errorRange), 64); err == nil {
		e.ErrorRange = v
	}
	return e, true
}

// parseStage accepts both the 阶段N label written by the recorder and a bare
// integer from hand-edited files.
func parseStage(raw string) int {
	trimmed := strings.TrimPrefix(raw, "阶段")
	if n, err := strconv.Atoi(trimmed); err == nil {
		return n
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return 0
}

// ApplyToController replays one parsed event into an axis controller. Start
// events restore the selection, the weights (as magnitudes, sign carries no
// meaning in a log row), and the original posture; finish events restore the
// target posture. Cells absent from the row leave the corresponding channel
// untouched. An out-of-range error_range is ignored so a damaged row cannot
// abort a restore.
func ApplyToController(e ParsedEvent, c *axis.Controller) error {
	switch {
	case strings.Contains(e.Name, "开始"):
		for i := range e.Sensors {
			if !e.SensorsSet[i] {
				continue
			}
			w := 0.0
			if i < len(e.Weights) && e.WeightsSet[i] {
				w = e.Weights[i]
			}
			if err := c.SetSelection(i, w != 0, math.Abs(w)); err != nil {
				return err
			}
			if err := c.SetOriginalChannel(i, e.Sensors[i]); err != nil {
				return err
			}
		}
	case strings.Contains(e.Name, "完成"):
		for i := range e.Sensors {
			if !e.SensorsSet[i] {
				continue
			}
			if err := c.SetTargetChannel(i, e.Sensors[i]); err != nil {
				return err
			}
		}
	}
	if e.ErrorRange > 0 {
		_ = c.SetErrorRange(e.ErrorRange)
	}
	return nil
}
