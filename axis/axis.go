package axis

import (
	"errors"
	"fmt"
	"math"
)

// divisionEpsilon guards the normalization divisor: channels whose original
// and target values differ by less than this contribute no information.
const divisionEpsilon = 1e-6

// NeutralDeviation is returned when no channel qualifies for normalization.
const NeutralDeviation = 0.5

// DefaultErrorRange is the tolerance fraction controllers start with.
const DefaultErrorRange = 0.1

var (
	ErrInvalidTolerance = errors.New("error range must be in (0,1]")
	ErrNotCalibrated    = errors.New("axis not calibrated")
	ErrIndexOutOfRange  = errors.New("sensor index out of range")
)

// Controller owns the calibration state of one anatomical axis: which
// sensors participate, their weights, the captured original and target
// postures, the last observed values, and the tolerance fraction.
//
// Calibration values are only meaningful once the corresponding original or
// target event has been captured in the current acquisition; uncaptured
// channels are tracked explicitly instead of holding sentinel values.
type Controller struct {
	kind        Kind
	sensorCount int

	selected []bool
	weights  []float64

	original    []float64
	originalSet []bool
	target      []float64
	targetSet   []bool

	current []float64

	errorRange float64
}

// NewController creates a controller for one axis with all channels
// deselected and no calibration captured.
func NewController(kind Kind, sensorCount int) *Controller {
	if sensorCount < 1 {
		sensorCount = 1
	}
	return &Controller{
		kind:        kind,
		sensorCount: sensorCount,
		selected:    make([]bool, sensorCount),
		weights:     make([]float64, sensorCount),
		original:    make([]float64, sensorCount),
		originalSet: make([]bool, sensorCount),
		target:      make([]float64, sensorCount),
		targetSet:   make([]bool, sensorCount),
		current:     make([]float64, sensorCount),
		errorRange:  DefaultErrorRange,
	}
}

func (c *Controller) Kind() Kind       { return c.kind }
func (c *Controller) SensorCount() int { return c.sensorCount }

// SetSelection marks one channel as participating. Selecting with weight 0
// is equivalent to deselecting it for normalization purposes.
func (c *Controller) SetSelection(index int, selected bool, weight float64) error {
	if index < 0 || index >= c.sensorCount {
		return fmt.Errorf("%w: %d (sensor count %d)", ErrIndexOutOfRange, index, c.sensorCount)
	}
	c.selected[index] = selected
	if selected {
		c.weights[index] = weight
	} else {
		c.weights[index] = 0
	}
	return nil
}

// SetOriginal overwrites per-channel original (OV) calibration values.
// Values beyond the sensor count are ignored; fewer values leave trailing
// channels unchanged and uncaptured.
func (c *Controller) SetOriginal(values []float64) {
	for i, v := range values {
		if i >= c.sensorCount {
			break
		}
		c.original[i] = v
		c.originalSet[i] = true
	}
}

// SetTarget overwrites per-channel target (BV) calibration values with the
// same length semantics as SetOriginal.
func (c *Controller) SetTarget(values []float64) {
	for i, v := range values {
		if i >= c.sensorCount {
			break
		}
		c.target[i] = v
		c.targetSet[i] = true
	}
}

// Calibrate captures values for the given calibration kind.
func (c *Controller) Calibrate(kind CalibrationKind, values []float64) {
	if kind == CalibrationOriginal {
		c.SetOriginal(values)
	} else {
		c.SetTarget(values)
	}
}

// SetOriginalChannel captures a single channel's original value. Used when
// restoring calibration from a log file with absent cells.
func (c *Controller) SetOriginalChannel(index int, v float64) error {
	if index < 0 || index >= c.sensorCount {
		return fmt.Errorf("%w: %d (sensor count %d)", ErrIndexOutOfRange, index, c.sensorCount)
	}
	c.original[index] = v
	c.originalSet[index] = true
	return nil
}

// SetTargetChannel captures a single channel's target value.
func (c *Controller) SetTargetChannel(index int, v float64) error {
	if index < 0 || index >= c.sensorCount {
		return fmt.Errorf("%w: %d (sensor count %d)", ErrIndexOutOfRange, index, c.sensorCount)
	}
	c.target[index] = v
	c.targetSet[index] = true
	return nil
}

// SetCurrent records the latest observed sensor values.
func (c *Controller) SetCurrent(values []float64) {
	for i, v := range values {
		if i >= c.sensorCount {
			break
		}
		c.current[i] = v
	}
}

// ResetCalibration clears captured original and target values. Selection,
// weights and the error range persist across acquisitions.
func (c *Controller) ResetCalibration() {
	for i := 0; i < c.sensorCount; i++ {
		c.originalSet[i] = false
		c.targetSet[i] = false
		c.original[i] = 0
		c.target[i] = 0
	}
}

// ErrorRange returns the tolerance fraction.
func (c *Controller) ErrorRange() float64 { return c.errorRange }

// SetErrorRange updates the tolerance fraction. Values outside (0,1] are
// rejected and the previous value is retained.
func (c *Controller) SetErrorRange(v float64) error {
	if v <= 0 || v > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidTolerance, v)
	}
	c.errorRange = v
	return nil
}

// Weights returns a copy of the weight vector.
func (c *Controller) Weights() []float64 {
	out := make([]float64, c.sensorCount)
	copy(out, c.weights)
	return out
}

// qualifies reports whether channel i participates in normalization.
func (c *Controller) qualifies(i int) bool {
	return c.selected[i] && c.weights[i] != 0
}

// Calibrated reports whether every qualifying channel has both calibration
// values captured. An axis with no qualifying channels counts as calibrated.
func (c *Controller) Calibrated() bool {
	for i := 0; i < c.sensorCount; i++ {
		if c.qualifies(i) && (!c.originalSet[i] || !c.targetSet[i]) {
			return false
		}
	}
	return true
}

// WeightedDeviation computes the signed progress measure from original
// (around 1.0) toward target (around 0.0): for each qualifying channel with
// |OV-BV| above the division guard, norm = (current-BV)/(OV-BV), combined as
// sum(norm*w)/sum(w). Returns the neutral value 0.5 when no channel
// qualifies. The result is not clamped. A qualifying channel without both
// calibration values captured yields ErrNotCalibrated.
func (c *Controller) WeightedDeviation() (float64, error) {
	var weightedSum, totalWeight float64
	for i := 0; i < c.sensorCount; i++ {
		if !c.qualifies(i) {
			continue
		}
		if !c.originalSet[i] || !c.targetSet[i] {
			return 0, fmt.Errorf("%w: %s sensor %d", ErrNotCalibrated, c.kind, i+1)
		}
		diff := c.original[i] - c.target[i]
		if math.Abs(diff) <= divisionEpsilon {
			continue
		}
		norm := (c.current[i] - c.target[i]) / diff
		weightedSum += norm * c.weights[i]
		totalWeight += c.weights[i]
	}
	if totalWeight <= 0 {
		return NeutralDeviation, nil
	}
	return weightedSum / totalWeight, nil
}

// InTargetRange reports whether every qualifying channel lies inside its
// tolerance band [BV-tol, BV+tol] with tol = |OV-BV|*errorRange. Bounds are
// inclusive. A single out-of-band channel fails the whole predicate; an axis
// with no qualifying channels passes vacuously. This test gates stage
// advancement and is independent of (and stricter than) WeightedDeviation.
func (c *Controller) InTargetRange() (bool, error) {
	for i := 0; i < c.sensorCount; i++ {
		if !c.qualifies(i) {
			continue
		}
		if !c.originalSet[i] || !c.targetSet[i] {
			return false, fmt.Errorf("%w: %s sensor %d", ErrNotCalibrated, c.kind, i+1)
		}
		tolerance := math.Abs(c.original[i]-c.target[i]) * c.errorRange
		if c.current[i] < c.target[i]-tolerance || c.current[i] > c.target[i]+tolerance {
			return false, nil
		}
	}
	return true, nil
}

// State snapshots the controller for rendering. Deviation and in-range are
// evaluated once; calibration problems surface as NotCalibrated instead of
// an error so the view stays renderable.
func (c *Controller) State() State {
	s := State{
		Kind:       c.kind.String(),
		Selected:   append([]bool(nil), c.selected...),
		Weights:    append([]float64(nil), c.weights...),
		Original:   append([]float64(nil), c.original...),
		Target:     append([]float64(nil), c.target...),
		Current:    append([]float64(nil), c.current...),
		ErrorRange: c.errorRange,
		Calibrated: c.Calibrated(),
	}
	if dev, err := c.WeightedDeviation(); err != nil {
		s.NotCalibrated = true
	} else {
		s.Deviation = dev
	}
	if in, err := c.InTargetRange(); err != nil {
		s.NotCalibrated = true
	} else {
		s.InRange = in
	}
	return s
}
