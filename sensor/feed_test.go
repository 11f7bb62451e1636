package sensor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToListeners(t *testing.T) {
	t.Parallel()

	f := NewFeed(3)
	var first, second []Snapshot
	f.RegisterListener(func(s Snapshot) { first = append(first, s) })
	f.RegisterListener(func(s Snapshot) { second = append(second, s) })

	f.Publish([]float64{2600, 2580, 2555})
	f.Publish([]float64{2599, 2579, 2554})

	require.Len(t, first, 2)
	require.Len(t, second, 2)
	assert.Equal(t, []float64{2599, 2579, 2554}, first[1].Values)

	snap, ok := f.Current()
	require.True(t, ok)
	assert.Equal(t, []float64{2599, 2579, 2554}, snap.Values)
}

func TestPublishNormalizesVectorLength(t *testing.T) {
	t.Parallel()

	f := NewFeed(3)

	f.Publish([]float64{2600, 2580})
	snap, ok := f.Current()
	require.True(t, ok)
	assert.Equal(t, []float64{2600, 2580, 0}, snap.Values, "short vectors are zero-padded")

	f.Publish([]float64{1, 2, 3, 4, 5})
	snap, _ = f.Current()
	assert.Equal(t, []float64{1, 2, 3}, snap.Values, "long vectors are truncated")
}

func TestHistoryWindow(t *testing.T) {
	t.Parallel()

	f := NewFeed(1)
	for i := 0; i < 10; i++ {
		f.Publish([]float64{float64(i)})
	}

	recent := f.History(3)
	require.Len(t, recent, 3)
	assert.Equal(t, []float64{7}, recent[0].Values)
	assert.Equal(t, []float64{9}, recent[2].Values)

	assert.Len(t, f.History(0), 10, "a non-positive limit returns everything")
}

func TestHistoryBounded(t *testing.T) {
	t.Parallel()

	f := NewFeed(1)
	for i := 0; i < historyLimit+25; i++ {
		f.Publish([]float64{float64(i)})
	}

	all := f.History(0)
	require.Len(t, all, historyLimit)
	assert.Equal(t, []float64{25}, all[0].Values, "the oldest samples are dropped")
}

func TestSetSensorCountDropsBufferedSamples(t *testing.T) {
	t.Parallel()

	f := NewFeed(2)
	f.Publish([]float64{2600, 2580})

	f.SetSensorCount(4)
	assert.Equal(t, 4, f.SensorCount())
	assert.Empty(t, f.History(0))

	_, ok := f.Current()
	assert.False(t, ok)
}

func TestStatusTracksStaleness(t *testing.T) {
	t.Parallel()

	f := NewFeed(2)
	clock := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	f.now = func() time.Time { return clock }

	status := f.Status()
	assert.False(t, status.Connected, "no data yet")

	f.Publish([]float64{2600, 2580})
	status = f.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, 1, status.Samples)

	clock = clock.Add(staleAfter + time.Second)
	status = f.Status()
	assert.False(t, status.Connected)
	assert.InDelta(t, 6.0, status.StaleSeconds, 1e-9)
}
