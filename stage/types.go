package stage

import (
	"github.com/posturelab/spine-trainer-station/axis"
)

// SpineType selects which stage vocabulary and axis-activation schedule
// governs a session.
type SpineType string

const (
	SpineC SpineType = "C"
	SpineS SpineType = "S"
)

// ParseSpineType normalizes user input; anything that is not "S" is "C".
func ParseSpineType(s string) SpineType {
	if s == "S" || s == "s" {
		return SpineS
	}
	return SpineC
}

// Variant names one of the two stage-count schemes found in the training
// protocol. They are never merged; the hosting application picks one.
type Variant string

const (
	// VariantCompact runs C-type in 3 stages with hip/shoulder sub-stages on
	// the joint-balance stage, and S-type in 4 stages.
	VariantCompact Variant = "compact"
	// VariantSplit runs C-type in 4 stages and S-type in 5, splitting the
	// curvature correction into upper and lower segments, without sub-stages.
	VariantSplit Variant = "split"
)

// ParseVariant normalizes user input; anything that is not "split" is
// "compact".
func ParseVariant(s string) Variant {
	if s == string(VariantSplit) {
		return VariantSplit
	}
	return VariantCompact
}

// SubStage is the optional refinement of a stage. Only the compact C-type
// joint-balance stage declares sub-stages.
type SubStage string

const (
	SubStageNone     SubStage = ""
	SubStageHip      SubStage = "hip"
	SubStageShoulder SubStage = "shoulder"
)

// EventSpec is one vocabulary entry: an operator-facing event name bound to
// an axis and the calibration snapshot it captures.
type EventSpec struct {
	Name string               `json:"name"`
	Code string               `json:"code"`
	Axis axis.Kind            `json:"-"`
	Kind axis.CalibrationKind `json:"-"`
}

// StageSpec describes one stage of a protocol variant.
type StageSpec struct {
	ID          int         `json:"id"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	ActiveAxes  []axis.Kind `json:"-"`
	SubStages   []SubStage  `json:"sub_stages,omitempty"`
	Events      []EventSpec `json:"events"`
}

// CountdownState is the externally visible countdown position.
type CountdownState struct {
	Active    bool `json:"active"`
	Remaining int  `json:"remaining_seconds"`
}

// State is the full visualization snapshot handed to renderers and the
// websocket hub. It is safe to serialize: all slices are copies taken under
// the engine lock.
type State struct {
	SessionID        string                `json:"session_id,omitempty"`
	Acquiring        bool                  `json:"acquiring"`
	Completed        bool                  `json:"completed"`
	SpineType        SpineType             `json:"spine_type"`
	Variant          Variant               `json:"variant"`
	Stage            int                   `json:"stage"`
	MaxStages        int                   `json:"max_stages"`
	SubStage         SubStage              `json:"sub_stage,omitempty"`
	StageLabel       string                `json:"stage_label"`
	StageDescription string                `json:"stage_description"`
	SensorCount      int                   `json:"sensor_count"`
	InRange          bool                  `json:"in_range"`
	Countdown        CountdownState        `json:"countdown"`
	Axes             map[string]axis.State `json:"axes"`
	SnapshotTime     string                `json:"snapshot_time,omitempty"`
	SnapshotValues   []float64             `json:"snapshot_values,omitempty"`
}
