package events

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posturelab/spine-trainer-station/axis"
)

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	clock := &testClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
	r := NewRecorder(3)
	r.now = clock.Now
	path := filepath.Join(t.TempDir(), "session.csv")
	require.NoError(t, r.StartSession(path))

	clock.advance(2 * time.Second)
	ok, err := r.Record(Event{
		Name:       "开始训练",
		Code:       "training_start",
		Stage:      1,
		Sensors:    []float64{2600.25, 2580, 2555.5},
		Weights:    []float64{1, 1, 0},
		ErrorRange: 0.1,
	})
	require.NoError(t, err)
	require.True(t, ok)

	clock.advance(30 * time.Second)
	ok, err = r.Record(Event{
		Name:       "完成阶段",
		Code:       "stage_complete",
		Stage:      1,
		Sensors:    []float64{2350, 2340.75},
		ErrorRange: 0.1,
	})
	require.NoError(t, err)
	require.True(t, ok)

	parsed, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, parsed, 2)

	first := parsed[0]
	assert.Equal(t, "开始训练", first.Name)
	assert.Equal(t, "training_start", first.Code)
	assert.Equal(t, 1, first.Stage)
	assert.InDelta(t, 2.0, first.Time, 1e-9)
	assert.Equal(t, []float64{2600.25, 2580, 2555.5}, first.Sensors)
	assert.Equal(t, []bool{true, true, true}, first.SensorsSet)
	assert.Equal(t, []float64{1, 1, 0}, first.Weights)
	assert.InDelta(t, 0.1, first.ErrorRange, 1e-9)

	second := parsed[1]
	assert.Equal(t, 1, second.Stage)
	assert.InDelta(t, 32.0, second.Time, 1e-9)
	assert.Equal(t, []bool{true, true, false}, second.SensorsSet, "the absent third cell stays unset")
}

func TestParseHandEditedFile(t *testing.T) {
	t.Parallel()

	raw := strings.Join([]string{
		"# Acquisition Start Time: 2026-03-14 10:00:00",
		"# Event recording for acquisition session",
		"",
		"time(s),event_name,event_code,stage,sensor1,sensor2,weight1,weight2,error_range",
		"1.25,开始训练,training_start,阶段1,2600,2580,1,1,0.1",
		"not-a-number,broken row,,阶段1,,,,,",
		"40,完成阶段,stage_complete,1,2350,,1,,0.2",
		"", // blank lines are tolerated
		"55.5,开始矫正,correction_start,阶段2,2400,2380,0.5,0.5,",
	}, "\n")

	parsed, err := Parse(strings.NewReader(raw))
	require.NoError(t, err)
	require.Len(t, parsed, 3, "the malformed row is dropped, not fatal")

	assert.Equal(t, 1, parsed[0].Stage)
	assert.Equal(t, 1, parsed[1].Stage, "a bare integer stage cell parses too")
	assert.Equal(t, 2, parsed[2].Stage)

	assert.Equal(t, []bool{true, false}, parsed[1].SensorsSet)
	assert.Equal(t, []bool{true, false}, parsed[1].WeightsSet)
	assert.InDelta(t, 0.2, parsed[1].ErrorRange, 1e-9)
	assert.Zero(t, parsed[2].ErrorRange, "an empty error_range cell stays zero")
}

func TestParseRequiresHeader(t *testing.T) {
	t.Parallel()

	_, err := Parse(strings.NewReader("# only comments in here\n"))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("a,b,c\n1,2,3\n"))
	assert.Error(t, err)
}

func TestApplyToController(t *testing.T) {
	t.Parallel()

	c := axis.NewController(axis.Curvature, 3)

	start := ParsedEvent{
		Time:       1,
		Name:       "开始矫正",
		Code:       "correction_start",
		Stage:      2,
		Sensors:    []float64{2600, 2580, 2555},
		SensorsSet: []bool{true, true, false},
		Weights:    []float64{-1, 0, 0},
		WeightsSet: []bool{true, true, false},
		ErrorRange: 0.2,
	}
	require.NoError(t, ApplyToController(start, c))

	finish := ParsedEvent{
		Time:       30,
		Name:       "矫正完成",
		Code:       "correction_complete",
		Stage:      2,
		Sensors:    []float64{2400, 0, 0},
		SensorsSet: []bool{true, false, false},
	}
	require.NoError(t, ApplyToController(finish, c))

	require.True(t, c.Calibrated())
	c.SetCurrent([]float64{2500, 0, 0})

	// Channel one is midway between original and target; channel two was
	// deselected by its zero weight, channel three never appeared.
	dev, err := c.WeightedDeviation()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, dev, 1e-9)

	state := c.State()
	assert.InDelta(t, 0.2, state.ErrorRange, 1e-9)
	assert.Equal(t, []bool{true, false, false}, state.Selected)
	assert.Equal(t, []float64{1, 0, 0}, state.Weights, "restored weights are magnitudes")
}

func TestApplyToControllerIgnoresBadErrorRange(t *testing.T) {
	t.Parallel()

	c := axis.NewController(axis.Rotation, 2)
	require.NoError(t, c.SetErrorRange(0.3))

	e := ParsedEvent{
		Name:       "开始训练",
		Sensors:    []float64{2600, 2580},
		SensorsSet: []bool{true, true},
		Weights:    []float64{1, 1},
		WeightsSet: []bool{true, true},
		ErrorRange: 7.5,
	}
	require.NoError(t, ApplyToController(e, c))
	assert.InDelta(t, 0.3, c.State().ErrorRange, 1e-9)
}
