package events

import "time"

// Event is one recorded training event: an operator- or engine-triggered
// calibration moment with the axis weights and tolerance that were active.
// Events are immutable once recorded.
type Event struct {
	ID         int       `json:"id"`
	Time       float64   `json:"time_seconds"` // seconds since acquisition start
	Name       string    `json:"event_name"`
	Code       string    `json:"event_code"`
	Stage      int       `json:"stage"`
	SubStage   string    `json:"sub_stage,omitempty"`
	SpineType  string    `json:"spine_type,omitempty"`
	Sensors    []float64 `json:"sensors"`
	Weights    []float64 `json:"weights"`
	ErrorRange float64   `json:"error_range"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ParsedEvent is one data row recovered from an event log file. Cells can be
// absent in foreign or truncated files, so sensors and weights carry
// per-channel presence masks instead of sentinel values.
type ParsedEvent struct {
	Time       float64   `json:"time_seconds"`
	Name       string    `json:"event_name"`
	Code       string    `json:"event_code"`
	Stage      int       `json:"stage"`
	Sensors    []float64 `json:"sensors"`
	SensorsSet []bool    `json:"sensors_set"`
	Weights    []float64 `json:"weights"`
	WeightsSet []bool    `json:"weights_set"`
	ErrorRange float64   `json:"error_range"`
}

// Summary aggregates a session's recorded events for display.
type Summary struct {
	TotalEvents      int                `json:"total_events"`
	DurationMinutes  float64            `json:"duration_minutes"`
	StageCounts      map[string]int     `json:"stage_counts"`
	StageErrorRanges map[string]float64 `json:"stage_error_ranges"`
	FilePath         string             `json:"file_path,omitempty"`
}
