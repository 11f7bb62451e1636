package axis

// Kind identifies one anatomical correction axis. The four axes exist once
// per session and are reused across spine types with relabeled semantics.
type Kind int

const (
	Rotation  Kind = iota // pelvis front/back rotation
	Curvature             // spinal curvature
	TiltA                 // pelvis left/right tilt
	TiltB                 // shoulder left/right tilt
)

var kindNames = map[Kind]string{
	Rotation:  "rotation",
	Curvature: "curvature",
	TiltA:     "tilt_a",
	TiltB:     "tilt_b",
}

// Kinds lists all axes in their fixed order.
var Kinds = []Kind{Rotation, Curvature, TiltA, TiltB}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind resolves an axis name from the API surface.
func ParseKind(name string) (Kind, bool) {
	for kind, n := range kindNames {
		if n == name {
			return kind, true
		}
	}
	return 0, false
}

// CalibrationKind says which calibration snapshot an event captures: the
// starting posture (original) or the corrected posture (target).
type CalibrationKind int

const (
	CalibrationOriginal CalibrationKind = iota
	CalibrationTarget
)

func (c CalibrationKind) String() string {
	if c == CalibrationOriginal {
		return "original"
	}
	return "target"
}

// State is a consistent read-only view of one controller, taken under the
// engine's writer lock.
type State struct {
	Kind          string    `json:"kind"`
	Selected      []bool    `json:"selected"`
	Weights       []float64 `json:"weights"`
	Original      []float64 `json:"original"`
	Target        []float64 `json:"target"`
	Current       []float64 `json:"current"`
	ErrorRange    float64   `json:"error_range"`
	Calibrated    bool      `json:"calibrated"`
	Deviation     float64   `json:"deviation"`
	InRange       bool      `json:"in_range"`
	NotCalibrated bool      `json:"not_calibrated,omitempty"`
}
