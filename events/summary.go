package events

import "strings"

// Summary aggregates the active session for the status endpoints.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{
		TotalEvents:      len(r.history),
		StageCounts:      make(map[string]int),
		StageErrorRanges: make(map[string]float64),
		FilePath:         r.path,
	}
	for _, e := range r.history {
		label := StageLabel(e.Stage)
		s.StageCounts[label]++
		s.StageErrorRanges[label] = e.ErrorRange
	}
	if n := len(r.history); n > 0 {
		s.DurationMinutes = r.history[n-1].Time / 60.0
	}
	return s
}

// FormatEventCode renders a machine event code for display, e.g.
// "training_start" becomes "Training Start".
func FormatEventCode(code string) string {
	parts := strings.Split(code, "_")
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, " ")
}
