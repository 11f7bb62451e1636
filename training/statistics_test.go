package training

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posturelab/spine-trainer-station/events"
	"github.com/posturelab/spine-trainer-station/sensor"
)

func TestCalculateSeriesStatistics(t *testing.T) {
	stats := calculateSeriesStatistics([]float64{4, 2, 8})
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 4.6667, stats.Mean, 0.001)
	assert.InDelta(t, 6.2222, stats.Variance, 0.001)
	assert.InDelta(t, 2.4944, stats.StdDev, 0.001)
	assert.Equal(t, 2.0, stats.Min)
	assert.Equal(t, 8.0, stats.Max)
	assert.Equal(t, 6.0, stats.Range)
	assert.Equal(t, 4.0, stats.Median)
}

func TestCalculateSeriesStatisticsEvenCount(t *testing.T) {
	stats := calculateSeriesStatistics([]float64{4, 1, 3, 2})
	require.NotNil(t, stats)
	assert.Equal(t, 2.5, stats.Median)
	assert.Equal(t, 2.5, stats.Mean)
	assert.InDelta(t, 1.25, stats.Variance, 1e-9)
}

func TestCalculateSeriesStatisticsEmpty(t *testing.T) {
	assert.Nil(t, calculateSeriesStatistics(nil))
}

func TestEventSensorStatistics(t *testing.T) {
	history := []events.Event{
		{ID: 1, Sensors: []float64{1, 2}},
		{ID: 2, Sensors: []float64{3}},
		{ID: 3, Sensors: []float64{5, 6, 7}},
	}

	got := EventSensorStatistics(history)

	want := map[string]*SeriesStatistics{
		"sensor1": {Count: 3, Mean: 3, Variance: 8.0 / 3.0, StdDev: 1.6330, Min: 1, Max: 5, Range: 4, Median: 3},
		"sensor2": {Count: 2, Mean: 4, Variance: 4, StdDev: 2, Min: 2, Max: 6, Range: 4, Median: 4},
		"sensor3": {Count: 1, Mean: 7, Min: 7, Max: 7, Median: 7},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 0.001)); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}
}

func TestEventSensorStatisticsEmptyHistory(t *testing.T) {
	assert.Empty(t, EventSensorStatistics(nil))
}

func TestSnapshotStatistics(t *testing.T) {
	now := time.Now()
	snapshots := []sensor.Snapshot{
		{Values: []float64{10, 20}, Timestamp: now},
		{Values: []float64{30, 40}, Timestamp: now},
	}

	got := SnapshotStatistics(snapshots)
	require.Contains(t, got, "sensor1")
	require.Contains(t, got, "sensor2")
	assert.Equal(t, 20.0, got["sensor1"].Mean)
	assert.Equal(t, 30.0, got["sensor2"].Mean)
	assert.Equal(t, 2, got["sensor1"].Count)
}

func TestSlidingVariance(t *testing.T) {
	data := []float64{1, 1, 1, 5, 5, 5}

	variances := SlidingVariance(data, 3)
	require.Len(t, variances, 4)
	assert.Equal(t, 0.0, variances[0])
	assert.InDelta(t, 32.0/9.0, variances[1], 1e-9)
	assert.InDelta(t, 32.0/9.0, variances[2], 1e-9)
	assert.Equal(t, 0.0, variances[3])
}

func TestSlidingVarianceDegenerateWindows(t *testing.T) {
	assert.Empty(t, SlidingVariance([]float64{1, 2}, 5))
	assert.Empty(t, SlidingVariance([]float64{1, 2, 3}, 1))
}
