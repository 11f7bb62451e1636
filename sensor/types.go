package sensor

import "time"

// Snapshot is one reading across all resistance channels.
type Snapshot struct {
	Values    []float64 `json:"values"`
	Timestamp time.Time `json:"timestamp"`
}

// Status describes feed liveness for the status endpoint.
type Status struct {
	SensorCount  int       `json:"sensor_count"`
	Connected    bool      `json:"connected"`
	LastUpdate   time.Time `json:"last_update"`
	StaleSeconds float64   `json:"stale_seconds"`
	Samples      int       `json:"samples"`
}
