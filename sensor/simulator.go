package sensor

import (
	"context"
	"log"
	"math/rand"
	"time"
)

// Simulated resistance range: sensors read around 2600 ohm in the slouched
// posture and settle toward 2350 ohm as the wearer straightens up.
const (
	simulatedOriginal = 2600.0
	simulatedTarget   = 2350.0
	simulatedNoise    = 4.0
	simulatedRate     = 0.004
)

// Simulator feeds synthetic readings when no sensor hardware is attached.
// Each channel drifts from the slouched value toward the corrected one with
// per-channel offsets and jitter, which is enough to exercise calibration,
// polling and the countdown end to end.
type Simulator struct {
	feed     *Feed
	interval time.Duration
	rng      *rand.Rand
}

// NewSimulator creates a simulator publishing at the acquisition rate.
func NewSimulator(feed *Feed, interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Simulator{
		feed:     feed,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run publishes until the context ends.
func (s *Simulator) Run(ctx context.Context) {
	count := s.feed.SensorCount()
	values := make([]float64, count)
	for i := range values {
		values[i] = simulatedOriginal + float64(i)*15 + s.rng.Float64()*10
	}

	log.Printf("Sensor simulator started: %d channels at %v", count, s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Sensor simulator stopped")
			return
		case <-ticker.C:
			if n := s.feed.SensorCount(); n != len(values) {
				values = make([]float64, n)
				for i := range values {
					values[i] = simulatedOriginal + float64(i)*15
				}
			}
			for i := range values {
				target := simulatedTarget + float64(i)*15
				values[i] += (target - values[i]) * simulatedRate
				values[i] += (s.rng.Float64() - 0.5) * 2 * simulatedNoise
			}
			s.feed.Publish(values)
		}
	}
}
