package sensor

import (
	"context"
	"log"
	"sync"
	"time"
)

// historyLimit bounds the in-memory sample buffer (about eight minutes at
// the 10 Hz acquisition rate).
const historyLimit = 5000

// staleAfter is how long without a reading before the feed counts as
// disconnected.
const staleAfter = 5 * time.Second

// Listener receives every published snapshot. Listeners run on the
// publisher's goroutine and must not block.
type Listener func(Snapshot)

// Feed fans sensor readings out to listeners and keeps a bounded history.
// Readings arrive either from the hardware bridge endpoint or from the
// built-in simulator.
type Feed struct {
	mu          sync.Mutex
	sensorCount int
	current     Snapshot
	hasData     bool
	history     []Snapshot
	listeners   []Listener

	now func() time.Time
}

// NewFeed creates a feed for the given channel count.
func NewFeed(sensorCount int) *Feed {
	if sensorCount < 1 {
		sensorCount = 1
	}
	return &Feed{sensorCount: sensorCount, now: time.Now}
}

// RegisterListener adds a snapshot consumer. Registration order is delivery
// order.
func (f *Feed) RegisterListener(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

// SensorCount returns the channel count.
func (f *Feed) SensorCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sensorCount
}

// SetSensorCount resizes the feed and drops buffered samples, which have the
// old channel layout.
func (f *Feed) SetSensorCount(n int) {
	if n < 1 {
		n = 1
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sensorCount = n
	f.history = nil
	f.hasData = false
	f.current = Snapshot{}
}

// Publish records one reading and delivers it to every listener. Shorter
// value vectors are zero-padded, longer ones truncated, so listeners always
// see the configured channel count.
func (f *Feed) Publish(values []float64) {
	f.mu.Lock()

	fixed := make([]float64, f.sensorCount)
	copy(fixed, values)

	snap := Snapshot{Values: fixed, Timestamp: f.now()}
	f.current = snap
	f.hasData = true
	f.history = append(f.history, snap)
	if len(f.history) > historyLimit {
		f.history = f.history[len(f.history)-historyLimit:]
	}

	listeners := make([]Listener, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// Current returns the latest snapshot, if any reading has arrived yet.
func (f *Feed) Current() (Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.hasData
}

// History returns up to limit of the most recent samples in arrival order.
func (f *Feed) History(limit int) []Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > len(f.history) {
		limit = len(f.history)
	}
	out := make([]Snapshot, limit)
	copy(out, f.history[len(f.history)-limit:])
	return out
}

// Status summarizes feed liveness.
func (f *Feed) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Status{
		SensorCount: f.sensorCount,
		Samples:     len(f.history),
	}
	if f.hasData {
		s.LastUpdate = f.current.Timestamp
		s.StaleSeconds = f.now().Sub(f.current.Timestamp).Seconds()
		s.Connected = s.StaleSeconds < staleAfter.Seconds()
	}
	return s
}

// MonitorStalls logs when the feed goes quiet. It checks every interval and
// reports once per stall, not once per check.
func (f *Feed) MonitorStalls(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reported := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := f.Status()
			if !status.LastUpdate.IsZero() && !status.Connected {
				if !reported {
					log.Printf("Sensor feed stalled: no reading for %.1fs", status.StaleSeconds)
					reported = true
				}
			} else {
				reported = false
			}
		}
	}
}
