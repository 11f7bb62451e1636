package stage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/posturelab/spine-trainer-station/axis"
	"github.com/posturelab/spine-trainer-station/events"
	"github.com/posturelab/spine-trainer-station/oplog"
	"github.com/posturelab/spine-trainer-station/sensor"
)

// pollInterval is the sensor/range evaluation rate.
const pollInterval = 100 * time.Millisecond

var (
	ErrAcquisitionActive = errors.New("acquisition already running")
	ErrNotAcquiring      = errors.New("no acquisition running")
)

// RecordResult is what a manual event request produces: the event as
// recorded, whether it reached the log, and whether the vocabulary knew it.
// An unmapped event is still recorded (with merged stage weights) but
// mutates no axis.
type RecordResult struct {
	Event   events.Event `json:"event"`
	Written bool         `json:"written"`
	Mapped  bool         `json:"mapped"`
}

// Engine owns all mutable training state for one station: the four axis
// controllers, the stage machine, the hold countdown and the event recorder.
// Every mutation happens behind one lock; ticks and HTTP handlers all
// funnel through it. Callbacks fire outside the lock.
type Engine struct {
	mu sync.Mutex

	machine     *Machine
	countdown   *Countdown
	controllers map[axis.Kind]*axis.Controller
	sensorCount int

	recorder *events.Recorder
	journal  *oplog.Logger
	dataDir  string

	acquiring   bool
	sessionID   string
	lastInRange bool

	lastValues  []float64
	lastTime    time.Time
	hasSnapshot bool

	// OnState receives every state snapshot produced by a poll or a
	// mutation; the websocket hub subscribes here. OnEvent receives every
	// event that reached the log, with the state at record time; the
	// training store subscribes here. OnCompleted fires once when the
	// terminal stage confirms. Set these before Run starts.
	OnState     func(State)
	OnEvent     func(ev events.Event, st State)
	OnCompleted func(sessionID string, history []events.Event)

	now func() time.Time
}

// NewEngine assembles an engine over the chosen protocol. All four axis
// controllers exist regardless of variant; stages decide which of them are
// active at any time.
func NewEngine(v Variant, t SpineType, sensorCount int, dataDir string, rec *events.Recorder, journal *oplog.Logger) *Engine {
	if sensorCount < 1 {
		sensorCount = 1
	}
	controllers := make(map[axis.Kind]*axis.Controller, len(axis.Kinds))
	for _, kind := range axis.Kinds {
		controllers[kind] = axis.NewController(kind, sensorCount)
	}
	return &Engine{
		machine:     NewMachine(v, t),
		countdown:   NewCountdown(CountdownSeconds),
		controllers: controllers,
		sensorCount: sensorCount,
		recorder:    rec,
		journal:     journal,
		dataDir:     dataDir,
		now:         time.Now,
	}
}

// StartAcquisition opens a new session: fresh session id, a truncated event
// file under the data directory. Neither calibration nor the stage position
// reset here, so a loaded calibration file and a pre-selected stage survive
// into the session; ResetCalibration and SetStage are the explicit tools for
// that. A file error is returned after the in-memory session is already
// running; rows are retried on each record.
func (e *Engine) StartAcquisition() (State, error) {
	e.mu.Lock()

	if e.acquiring {
		st := e.stateLocked()
		e.mu.Unlock()
		return st, ErrAcquisitionActive
	}

	e.sessionID = uuid.New().String()
	e.acquiring = true
	e.lastInRange = false
	e.countdown.Cancel()

	path := filepath.Join(e.dataDir, fmt.Sprintf("events_%s.csv", e.now().Format("20060102_150405")))
	err := e.recorder.StartSession(path)
	if err != nil {
		err = fmt.Errorf("start acquisition: %w", err)
	}

	if e.journal != nil {
		e.journal.AcquisitionStarted(e.sessionID, path)
	}
	st := e.stateLocked()
	cb := e.OnState
	e.mu.Unlock()

	if cb != nil {
		cb(st)
	}
	return st, err
}

// StopAcquisition ends the session. The countdown cancels synchronously;
// recorded history stays readable until the next start.
func (e *Engine) StopAcquisition() (State, error) {
	e.mu.Lock()

	if !e.acquiring {
		st := e.stateLocked()
		e.mu.Unlock()
		return st, ErrNotAcquiring
	}

	e.acquiring = false
	e.lastInRange = false
	e.countdown.Cancel()
	e.recorder.EndSession()

	if e.journal != nil {
		e.journal.AcquisitionStopped(e.sessionID, e.recorder.Count())
	}
	st := e.stateLocked()
	cb := e.OnState
	e.mu.Unlock()

	if cb != nil {
		cb(st)
	}
	return st, nil
}

// SetSpineType switches the stage table. The machine resets to stage one and
// the countdown cancels; the four controllers keep their calibration, since
// the wearer has not moved.
func (e *Engine) SetSpineType(t SpineType) State {
	e.mu.Lock()

	from := e.machine.Config().Spine
	e.machine.SetSpine(t)
	e.countdown.Cancel()
	e.lastInRange = false

	if e.journal != nil && from != e.machine.Config().Spine {
		e.journal.ModeChanged("spine_type", string(from), string(e.machine.Config().Spine))
	}
	st := e.stateLocked()
	cb := e.OnState
	e.mu.Unlock()

	if cb != nil {
		cb(st)
	}
	return st
}

// SetVariant switches the stage-count scheme with spine-switch semantics.
func (e *Engine) SetVariant(v Variant) State {
	e.mu.Lock()

	from := e.machine.Config().Variant
	e.machine.SetVariant(v)
	e.countdown.Cancel()
	e.lastInRange = false

	if e.journal != nil && from != e.machine.Config().Variant {
		e.journal.ModeChanged("variant", string(from), string(e.machine.Config().Variant))
	}
	st := e.stateLocked()
	cb := e.OnState
	e.mu.Unlock()

	if cb != nil {
		cb(st)
	}
	return st
}

// SetStage is the operator override. A request outside [1, maxStages] is
// rejected without touching anything, reported through the second return.
// An accepted move cancels any running countdown.
func (e *Engine) SetStage(n int) (State, bool) {
	e.mu.Lock()

	from := e.machine.Stage()
	ok := e.machine.SetStage(n)
	if ok {
		e.countdown.Cancel()
		e.lastInRange = false
		if e.journal != nil {
			e.journal.StageChanged(from, e.machine.Stage(), string(e.machine.SubStage()))
		}
	}
	st := e.stateLocked()
	cb := e.OnState
	e.mu.Unlock()

	if ok && cb != nil {
		cb(st)
	}
	return st, ok
}

// NextStage steps the stage forward; at the last stage it is a no-op.
func (e *Engine) NextStage() (State, bool) {
	e.mu.Lock()
	n := e.machine.Stage() + 1
	e.mu.Unlock()
	return e.SetStage(n)
}

// PrevStage steps the stage back; at stage one it is a no-op.
func (e *Engine) PrevStage() (State, bool) {
	e.mu.Lock()
	n := e.machine.Stage() - 1
	e.mu.Unlock()
	return e.SetStage(n)
}

// ResetCalibration clears the captured posture values on all four axes.
// Selections, weights and tolerances stay.
func (e *Engine) ResetCalibration() State {
	e.mu.Lock()

	for _, c := range e.controllers {
		c.ResetCalibration()
	}
	e.countdown.Cancel()
	e.lastInRange = false

	if e.journal != nil {
		e.journal.Log("calibration_reset", nil)
	}
	st := e.stateLocked()
	cb := e.OnState
	e.mu.Unlock()

	if cb != nil {
		cb(st)
	}
	return st
}

// SetErrorRange updates one axis's tolerance fraction. Out-of-range values
// are rejected loudly and the previous tolerance stays in force.
func (e *Engine) SetErrorRange(kind axis.Kind, v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.controllers[kind]
	if !ok {
		return fmt.Errorf("unknown axis %q", kind)
	}
	if err := c.SetErrorRange(v); err != nil {
		return err
	}
	if e.journal != nil {
		e.journal.Log("error_range_changed", map[string]interface{}{
			"axis":  kind.String(),
			"value": v,
		})
	}
	return nil
}

// SetSensorCount rebuilds the station for a different channel count. All
// selections and calibration are lost, so it is rejected mid-acquisition.
func (e *Engine) SetSensorCount(n int) error {
	if n < 1 {
		return fmt.Errorf("sensor count must be positive, got %d", n)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.acquiring {
		return ErrAcquisitionActive
	}
	if err := e.recorder.SetSensorCount(n); err != nil {
		return err
	}

	e.sensorCount = n
	for _, kind := range axis.Kinds {
		e.controllers[kind] = axis.NewController(kind, n)
	}
	e.lastValues = nil
	e.hasSnapshot = false
	e.lastInRange = false

	if e.journal != nil {
		e.journal.Log("sensor_count_changed", map[string]interface{}{"count": n})
	}
	return nil
}

// HandleSnapshot is the sensor feed listener: it pushes the reading into all
// four controllers. Range evaluation happens on the poll tick, not here.
func (e *Engine) HandleSnapshot(snap sensor.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastValues = snap.Values
	e.lastTime = snap.Timestamp
	e.hasSnapshot = true
	for _, c := range e.controllers {
		c.SetCurrent(snap.Values)
	}
}

// Poll evaluates the combined in-range predicate of the active axes and arms
// or cancels the countdown on its transitions. Polling is inert unless a
// session is running and the protocol is not finished. An active axis that
// is not calibrated counts as out of range.
func (e *Engine) Poll() State {
	e.mu.Lock()

	inRange := false
	if e.acquiring && !e.machine.Completed() && e.hasSnapshot {
		inRange = true
		cfg := e.machine.Config()
		for _, kind := range cfg.ActiveAxesAt(e.machine.Stage(), e.machine.SubStage()) {
			in, err := e.controllers[kind].InTargetRange()
			if err != nil || !in {
				inRange = false
				break
			}
		}
	}

	if inRange {
		e.countdown.Start()
	} else {
		e.countdown.Cancel()
	}
	e.lastInRange = inRange

	st := e.stateLocked()
	cb := e.OnState
	e.mu.Unlock()

	if cb != nil {
		cb(st)
	}
	return st
}

// TickCountdown drives the one-second countdown tick. When the hold
// completes it records the stage's completion event, advances the machine,
// and on terminal completion fires OnCompleted and halts further polling.
func (e *Engine) TickCountdown() (State, bool) {
	e.mu.Lock()

	fired := e.countdown.Tick()
	var completedNow bool
	var recorded events.Event
	var recordedWritten bool
	if fired {
		stage := e.machine.Stage()
		sub := e.machine.SubStage()
		cfg := e.machine.Config()

		if spec, ok := cfg.CompletionEvent(stage, sub); ok {
			ev := e.buildEventLocked(spec, stage, sub)
			if written, err := e.recorder.Record(ev); err != nil {
				log.Printf("Failed to record completion event %q: %v", spec.Name, err)
				if e.journal != nil {
					e.journal.Error("record_completion_event", err)
				}
			} else if written {
				recorded = ev
				recordedWritten = true
				if e.journal != nil {
					e.journal.EventRecorded(stage, spec.Name, spec.Code, ev.Sensors)
				}
			}
		}

		completedNow = e.machine.Advance()
		e.lastInRange = false
		if e.journal != nil {
			e.journal.StageChanged(stage, e.machine.Stage(), string(e.machine.SubStage()))
			if completedNow {
				e.journal.TrainingCompleted(e.sessionID, e.machine.Stage())
			}
		}
	}

	st := e.stateLocked()
	cbState := e.OnState
	cbEvent := e.OnEvent
	cbDone := e.OnCompleted
	sessionID := e.sessionID
	var history []events.Event
	if completedNow {
		history = e.recorder.History()
	}
	e.mu.Unlock()

	if fired && cbState != nil {
		cbState(st)
	}
	if recordedWritten && cbEvent != nil {
		cbEvent(recorded, st)
	}
	if completedNow && cbDone != nil {
		cbDone(sessionID, history)
	}
	return st, fired
}

// RecordManualEvent handles an operator event button: a vocabulary hit
// captures the bound axis's calibration snapshot and logs the event with
// that axis's weights and tolerance; an unmapped name logs a warning and
// records the event with the stage's merged weights, touching no axis.
func (e *Engine) RecordManualEvent(name, code string) (RecordResult, error) {
	e.mu.Lock()

	if !e.acquiring {
		e.mu.Unlock()
		return RecordResult{}, ErrNotAcquiring
	}

	stage := e.machine.Stage()
	sub := e.machine.SubStage()
	cfg := e.machine.Config()

	var ev events.Event
	spec, err := cfg.Resolve(stage, name, code)
	mapped := err == nil
	if mapped {
		c := e.controllers[spec.Axis]
		c.Calibrate(spec.Kind, e.lastValues)
		ev = e.buildEventLocked(spec, stage, sub)
		ev.Name = name
		if code != "" {
			ev.Code = code
		}
	} else if errors.Is(err, ErrUnmappedEvent) {
		log.Printf("Unmapped event %q (stage %d): recorded without axis binding", name, stage)
		ev = e.mergedEventLocked(name, code, stage, sub)
	} else {
		e.mu.Unlock()
		return RecordResult{}, err
	}

	written, recErr := e.recorder.Record(ev)
	if written && e.journal != nil {
		e.journal.EventRecorded(stage, ev.Name, ev.Code, ev.Sensors)
	}
	if recErr != nil && e.journal != nil {
		e.journal.Error("record_event", recErr)
	}
	st := e.stateLocked()
	cb := e.OnState
	cbEvent := e.OnEvent
	e.mu.Unlock()

	if cb != nil {
		cb(st)
	}
	if written && cbEvent != nil {
		cbEvent(ev, st)
	}
	return RecordResult{Event: ev, Written: written, Mapped: mapped}, recErr
}

// ApplySelection installs a weight vector from the external selector on one
// axis; a zero weight deselects its channel. During acquisition the
// assignment is logged as the axis's target-capture event, stamped with the
// stage that entry belongs to, so a replay restores the same weights.
func (e *Engine) ApplySelection(kind axis.Kind, weights []float64) (State, error) {
	e.mu.Lock()

	c, ok := e.controllers[kind]
	if !ok {
		e.mu.Unlock()
		return State{}, fmt.Errorf("unknown axis %q", kind)
	}
	for i := 0; i < e.sensorCount && i < len(weights); i++ {
		if err := c.SetSelection(i, weights[i] != 0, weights[i]); err != nil {
			e.mu.Unlock()
			return State{}, err
		}
	}
	if e.journal != nil {
		e.journal.SelectionChanged(kind.String(), c.Weights())
	}

	var recorded events.Event
	var recordedWritten bool
	if e.acquiring {
		cfg := e.machine.Config()
		if stageID, spec, ok := cfg.TargetEventFor(kind); ok {
			sub := cfg.DefaultSubStage(stageID)
			if kind == axis.TiltB && sub != SubStageNone {
				sub = SubStageShoulder
			}
			ev := e.buildEventLocked(spec, stageID, sub)
			if written, err := e.recorder.Record(ev); err != nil {
				log.Printf("Failed to record weight assignment for %s: %v", kind, err)
			} else if written {
				recorded = ev
				recordedWritten = true
			}
		}
	}

	st := e.stateLocked()
	cb := e.OnState
	cbEvent := e.OnEvent
	e.mu.Unlock()

	if cb != nil {
		cb(st)
	}
	if recordedWritten && cbEvent != nil {
		cbEvent(recorded, st)
	}
	return st, nil
}

// LoadCalibrationFile replays a previous session's event log into the
// controllers, for patient-mode training against an operator-prepared
// calibration. Unmapped rows are skipped with a warning. The machine jumps
// to the stage of the last replayed event.
func (e *Engine) LoadCalibrationFile(path string) error {
	parsed, err := events.ParseFile(path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.acquiring {
		return ErrAcquisitionActive
	}

	cfg := e.machine.Config()
	lastStage := 0
	applied := 0
	for _, p := range parsed {
		spec, err := cfg.Resolve(p.Stage, p.Name, p.Code)
		if err != nil {
			log.Printf("Skipping unmapped event %q (stage %d) in %s", p.Name, p.Stage, path)
			continue
		}
		if err := events.ApplyToController(p, e.controllers[spec.Axis]); err != nil {
			return fmt.Errorf("apply event %q: %w", p.Name, err)
		}
		lastStage = p.Stage
		applied++
	}
	if applied == 0 {
		return fmt.Errorf("no usable events in %s", path)
	}
	e.machine.SetStage(lastStage)
	e.countdown.Cancel()
	e.lastInRange = false

	if e.journal != nil {
		e.journal.Log("calibration_loaded", map[string]interface{}{
			"file":   path,
			"events": applied,
			"stage":  lastStage,
		})
	}
	return nil
}

// GetStageDescription returns the operator-facing description of the
// current stage.
func (e *Engine) GetStageDescription() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Config().Description(e.machine.Stage())
}

// GetState snapshots everything a renderer needs.
func (e *Engine) GetState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Run drives the two periodic tasks until the context ends: the 10 Hz
// range poll and the 1 Hz countdown tick.
func (e *Engine) Run(ctx context.Context) {
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	countdown := time.NewTicker(time.Second)
	defer countdown.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			e.Poll()
		case <-countdown.C:
			e.TickCountdown()
		}
	}
}

// buildEventLocked assembles a recordable event for a vocabulary entry from
// the bound axis's weights and tolerance plus the latest sensor snapshot.
func (e *Engine) buildEventLocked(spec EventSpec, stage int, sub SubStage) events.Event {
	c := e.controllers[spec.Axis]
	return events.Event{
		Name:       spec.Name,
		Code:       spec.Code,
		Stage:      stage,
		SubStage:   string(sub),
		SpineType:  string(e.machine.Config().Spine),
		Sensors:    append([]float64(nil), e.lastValues...),
		Weights:    c.Weights(),
		ErrorRange: c.ErrorRange(),
	}
}

// mergedEventLocked builds the row for an event outside the vocabulary: the
// active axes' weight vectors summed elementwise and their tolerances
// averaged, affecting the log only.
func (e *Engine) mergedEventLocked(name, code string, stage int, sub SubStage) events.Event {
	weights := make([]float64, e.sensorCount)
	var toleranceSum float64
	var axes int

	if st, ok := e.machine.Config().StageByID(stage); ok {
		for _, kind := range st.ActiveAxes {
			c := e.controllers[kind]
			for i, w := range c.Weights() {
				weights[i] += w
			}
			toleranceSum += c.ErrorRange()
			axes++
		}
	}

	errorRange := 0.0
	if axes > 0 {
		errorRange = toleranceSum / float64(axes)
	}
	return events.Event{
		Name:       name,
		Code:       code,
		Stage:      stage,
		SubStage:   string(sub),
		SpineType:  string(e.machine.Config().Spine),
		Sensors:    append([]float64(nil), e.lastValues...),
		Weights:    weights,
		ErrorRange: errorRange,
	}
}

func (e *Engine) stateLocked() State {
	cfg := e.machine.Config()
	stage := e.machine.Stage()

	axes := make(map[string]axis.State, len(e.controllers))
	for kind, c := range e.controllers {
		axes[kind.String()] = c.State()
	}

	st := State{
		SessionID:        e.sessionID,
		Acquiring:        e.acquiring,
		Completed:        e.machine.Completed(),
		SpineType:        cfg.Spine,
		Variant:          cfg.Variant,
		Stage:            stage,
		MaxStages:        cfg.MaxStages(),
		SubStage:         e.machine.SubStage(),
		StageLabel:       cfg.Label(stage),
		StageDescription: cfg.Description(stage),
		SensorCount:      e.sensorCount,
		InRange:          e.lastInRange,
		Countdown:        e.countdown.State(),
		Axes:             axes,
	}
	if e.hasSnapshot {
		st.SnapshotTime = e.lastTime.Format("2006-01-02 15:04:05.000")
		st.SnapshotValues = append([]float64(nil), e.lastValues...)
	}
	return st
}
