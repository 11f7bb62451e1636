package stage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posturelab/spine-trainer-station/axis"
	"github.com/posturelab/spine-trainer-station/events"
	"github.com/posturelab/spine-trainer-station/sensor"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	rec := events.NewRecorder(3)
	return NewEngine(VariantCompact, SpineC, 3, t.TempDir(), rec, nil)
}

func feed(e *Engine, values ...float64) {
	e.HandleSnapshot(sensor.Snapshot{Values: values, Timestamp: time.Now()})
}

func writeCalibrationFile(t *testing.T) string {
	t.Helper()
	content := "# Acquisition Start Time: 2026-03-13 15:00:00\n" +
		"# Event recording for acquisition session\n" +
		"# Data source: 事件数据\n" +
		"# Contains error_range for patient training\n" +
		"\n" +
		"time(s),event_name,event_code,stage,sensor1,sensor2,sensor3,weight1,weight2,weight3,error_range\n" +
		"1.5,开始训练,training_start,阶段1,100,100,,1,1,0,0.5\n" +
		"30,完成阶段,stage_complete,阶段1,0,0,,1,1,0,0.5\n"
	path := filepath.Join(t.TempDir(), "calibration.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestPatientFlowAutoAdvance(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	require.NoError(t, e.LoadCalibrationFile(writeCalibrationFile(t)))

	st := e.GetState()
	rotation := st.Axes["rotation"]
	assert.True(t, rotation.Calibrated)
	assert.Equal(t, []bool{true, true, false}, rotation.Selected)
	assert.InDelta(t, 0.5, rotation.ErrorRange, 1e-9)

	_, err := e.StartAcquisition()
	require.NoError(t, err)

	// Holding midway: tolerance is |100-0|*0.5=50, band [-50,50], 50 is in.
	feed(e, 50, 50, 0)
	st = e.Poll()
	assert.True(t, st.InRange)
	require.True(t, st.Countdown.Active)
	require.Equal(t, CountdownSeconds, st.Countdown.Remaining)

	for i := 0; i < 4; i++ {
		_, fired := e.TickCountdown()
		assert.False(t, fired)
	}
	assert.Equal(t, 1, e.GetState().Countdown.Remaining)

	// Losing the position at the last second cancels outright.
	feed(e, 80, 80, 0)
	st = e.Poll()
	assert.False(t, st.InRange)
	assert.False(t, st.Countdown.Active)

	// Regaining it requires a fresh full hold.
	feed(e, 50, 50, 0)
	st = e.Poll()
	require.True(t, st.Countdown.Active)
	require.Equal(t, CountdownSeconds, st.Countdown.Remaining)

	var fired bool
	for i := 0; i < CountdownSeconds; i++ {
		st, fired = e.TickCountdown()
	}
	require.True(t, fired, "the fifth tick fires the advance")
	assert.Equal(t, 2, st.Stage)
	assert.Equal(t, SubStageNone, st.SubStage)
	assert.False(t, st.Countdown.Active)
	assert.Equal(t, "阶段2：脊柱曲率矫正", e.GetStageDescription())

	// The advance logged the stage's completion event with the axis's
	// weights and tolerance.
	history := e.recorder.History()
	require.Len(t, history, 1)
	assert.Equal(t, "完成阶段", history[0].Name)
	assert.Equal(t, 1, history[0].Stage)
	assert.Equal(t, []float64{50, 50, 0}, history[0].Sensors)
	assert.Equal(t, []float64{1, 1, 0}, history[0].Weights)
	assert.InDelta(t, 0.5, history[0].ErrorRange, 1e-9)

	// Stage two's curvature axis is uncalibrated, so polling stays cold.
	st = e.Poll()
	assert.False(t, st.InRange)
	assert.False(t, st.Countdown.Active)
}

func TestOperatorCalibrationFlow(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)

	// Weights arrive from the selector before the session starts, so no
	// synthetic event is recorded for them.
	_, err := e.ApplySelection(axis.Rotation, []float64{1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, 0, e.recorder.Count())

	_, err = e.StartAcquisition()
	require.NoError(t, err)

	feed(e, 100, 100, 0)
	result, err := e.RecordManualEvent("开始训练", "training_start")
	require.NoError(t, err)
	assert.True(t, result.Mapped)
	assert.True(t, result.Written)

	feed(e, 0, 0, 0)
	result, err = e.RecordManualEvent("完成阶段", "stage_complete")
	require.NoError(t, err)
	require.True(t, result.Written)

	feed(e, 50, 50, 0)
	rotation := e.GetState().Axes["rotation"]
	assert.InDelta(t, 0.5, rotation.Deviation, 1e-9)
	assert.False(t, rotation.InRange, "the default tolerance band is ±10 here")

	require.NoError(t, e.SetErrorRange(axis.Rotation, 0.5))
	rotation = e.GetState().Axes["rotation"]
	assert.True(t, rotation.InRange)

	err = e.SetErrorRange(axis.Rotation, 1.5)
	assert.ErrorIs(t, err, axis.ErrInvalidTolerance)
	assert.InDelta(t, 0.5, e.GetState().Axes["rotation"].ErrorRange, 1e-9, "a rejected tolerance keeps the previous value")
}

func TestUnmappedEventUsesMergedWeights(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	_, err := e.ApplySelection(axis.TiltA, []float64{1, 0, 0})
	require.NoError(t, err)
	_, err = e.ApplySelection(axis.TiltB, []float64{0, 2, 0})
	require.NoError(t, err)
	require.NoError(t, e.SetErrorRange(axis.TiltA, 0.2))
	require.NoError(t, e.SetErrorRange(axis.TiltB, 0.4))

	_, err = e.StartAcquisition()
	require.NoError(t, err)
	_, ok := e.SetStage(3)
	require.True(t, ok)

	feed(e, 10, 20, 30)
	result, err := e.RecordManualEvent("自由记录", "free_note")
	require.NoError(t, err)
	assert.False(t, result.Mapped)
	assert.True(t, result.Written)

	// Merge rule: elementwise weight sum across the stage's axes, averaged
	// tolerances, for the log row only.
	assert.Equal(t, []float64{1, 2, 0}, result.Event.Weights)
	assert.InDelta(t, 0.3, result.Event.ErrorRange, 1e-9)
	assert.Equal(t, []float64{10, 20, 30}, result.Event.Sensors)
	assert.Equal(t, 3, result.Event.Stage)

	// No axis captured anything from the unmapped event.
	st := e.GetState()
	assert.True(t, st.Axes["tilt_a"].NotCalibrated)
	assert.True(t, st.Axes["tilt_b"].NotCalibrated)
}

func TestHintedEventCapturesAxis(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	_, err := e.StartAcquisition()
	require.NoError(t, err)
	_, ok := e.SetStage(3)
	require.True(t, ok)

	feed(e, 10, 20, 30)
	result, err := e.RecordManualEvent("开始沉髋保持", "")
	require.NoError(t, err)
	assert.True(t, result.Mapped, "hip hint plus calibration verb resolves inside the multi-axis stage")

	assert.Equal(t, []float64{10, 20, 30}, e.GetState().Axes["tilt_a"].Original)
}

func TestSpineSwitchResetsStageKeepsCalibration(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	c := e.controllers[axis.Rotation]
	require.NoError(t, c.SetSelection(0, true, 1))
	c.SetOriginal([]float64{100, 0, 0})
	c.SetTarget([]float64{0, 0, 0})

	_, ok := e.SetStage(3)
	require.True(t, ok)
	require.Equal(t, SubStageHip, e.GetState().SubStage)

	st := e.SetSpineType(SpineS)
	assert.Equal(t, 1, st.Stage)
	assert.Equal(t, 4, st.MaxStages)
	assert.Equal(t, SubStageNone, st.SubStage)
	assert.False(t, st.Countdown.Active)
	assert.True(t, st.Axes["rotation"].Calibrated, "controllers survive a spine switch")

	st = e.SetVariant(VariantSplit)
	assert.Equal(t, 5, st.MaxStages)
	assert.True(t, st.Axes["rotation"].Calibrated)
}

func TestCountdownCanceledByStageOverride(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	c := e.controllers[axis.Rotation]
	require.NoError(t, c.SetSelection(0, true, 1))
	c.SetOriginal([]float64{100, 0, 0})
	c.SetTarget([]float64{0, 0, 0})
	require.NoError(t, c.SetErrorRange(0.5))

	_, err := e.StartAcquisition()
	require.NoError(t, err)

	feed(e, 50, 0, 0)
	st := e.Poll()
	require.True(t, st.Countdown.Active)

	st, ok := e.SetStage(2)
	require.True(t, ok)
	assert.False(t, st.Countdown.Active, "an operator override cancels the running hold")

	_, ok = e.SetStage(9)
	assert.False(t, ok)
	assert.Equal(t, 2, e.GetState().Stage, "an out-of-range request changes nothing")
}

func TestAcquisitionLifecycle(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)

	_, err := e.StopAcquisition()
	assert.ErrorIs(t, err, ErrNotAcquiring)

	_, err = e.RecordManualEvent("开始训练", "training_start")
	assert.ErrorIs(t, err, ErrNotAcquiring)

	st, err := e.StartAcquisition()
	require.NoError(t, err)
	assert.True(t, st.Acquiring)
	assert.NotEmpty(t, st.SessionID)

	_, err = e.StartAcquisition()
	assert.ErrorIs(t, err, ErrAcquisitionActive)

	err = e.SetSensorCount(4)
	assert.ErrorIs(t, err, ErrAcquisitionActive)

	st, err = e.StopAcquisition()
	require.NoError(t, err)
	assert.False(t, st.Acquiring)

	require.NoError(t, e.SetSensorCount(4))
	st = e.GetState()
	assert.Equal(t, 4, st.SensorCount)
	assert.Equal(t, []bool{false, false, false, false}, st.Axes["rotation"].Selected, "a channel change rebuilds the controllers")
}

func TestSelectionDuringAcquisitionRecordsSyntheticEvent(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	_, err := e.StartAcquisition()
	require.NoError(t, err)

	feed(e, 5, 6, 7)
	_, err = e.ApplySelection(axis.Curvature, []float64{0.5, 0.5, 0})
	require.NoError(t, err)

	history := e.recorder.History()
	require.Len(t, history, 1)
	assert.Equal(t, "矫正完成", history[0].Name, "the assignment is journaled under the axis's target event")
	assert.Equal(t, 2, history[0].Stage, "stamped with the stage the entry belongs to, not the current one")
	assert.Equal(t, []float64{0.5, 0.5, 0}, history[0].Weights)
	assert.Equal(t, []float64{5, 6, 7}, history[0].Sensors)
}

func TestLoadCalibrationRejectedDuringAcquisition(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	path := writeCalibrationFile(t)

	_, err := e.StartAcquisition()
	require.NoError(t, err)

	err = e.LoadCalibrationFile(path)
	assert.ErrorIs(t, err, ErrAcquisitionActive)

	_, err = e.StopAcquisition()
	require.NoError(t, err)
	assert.NoError(t, e.LoadCalibrationFile(path))
}

func TestResetCalibrationClearsPostures(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	require.NoError(t, e.LoadCalibrationFile(writeCalibrationFile(t)))
	require.True(t, e.GetState().Axes["rotation"].Calibrated)

	st := e.ResetCalibration()
	assert.False(t, st.Axes["rotation"].Calibrated)
	assert.Equal(t, []bool{true, true, false}, st.Axes["rotation"].Selected, "selection and weights survive the clear")
}
