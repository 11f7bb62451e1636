package events

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"sync"
	"time"
)

// duplicateWindow is how many recent events the suppression check scans.
const duplicateWindow = 5

// duplicateThresholdSeconds is the time distance under which two events with
// the same name and stage count as one.
const duplicateThresholdSeconds = 1.0

// DefaultErrorRange mirrors the axis default for rows recorded without an
// explicit tolerance.
const DefaultErrorRange = 0.1

var ErrNoSession = errors.New("no active acquisition session")

// StageLabel formats the stage cell the way the log format expects it.
func StageLabel(stage int) string {
	return fmt.Sprintf("阶段%d", stage)
}

// Recorder persists training events for one acquisition session at a time.
// The file handle is opened, appended to, and closed per record, so a crash
// mid-session loses at most the in-flight row. In-memory state (event ids,
// the duplicate window, the session history) advances even when a write
// fails; the next record retries the file.
type Recorder struct {
	mu sync.Mutex

	sensorCount   int
	path          string
	startTime     time.Time
	active        bool
	nextID        int
	headerWritten bool
	history       []Event

	now func() time.Time
}

// NewRecorder creates a recorder for sessions with the given channel count.
func NewRecorder(sensorCount int) *Recorder {
	if sensorCount < 1 {
		sensorCount = 1
	}
	return &Recorder{
		sensorCount: sensorCount,
		nextID:      1,
		now:         time.Now,
	}
}

// SensorCount returns the current channel count.
func (r *Recorder) SensorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sensorCount
}

// SetSensorCount fixes the channel count for the next session. It is
// rejected while a session's header row is on disk, because that file's
// column layout is frozen.
func (r *Recorder) SetSensorCount(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 1 {
		return fmt.Errorf("sensor count must be positive, got %d", n)
	}
	if r.active && r.headerWritten {
		return fmt.Errorf("sensor count is fixed at %d for the active session", r.sensorCount)
	}
	r.sensorCount = n
	return nil
}

// StartSession begins a new acquisition: the file at path is truncated (or
// created), the event id counter and the duplicate window reset, and the
// start time is recorded. A file error is returned for the caller to
// surface, but the in-memory session still starts; the header is retried on
// the first record.
func (r *Recorder) StartSession(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.path = path
	r.startTime = r.now()
	r.active = true
	r.nextID = 1
	r.history = nil
	r.headerWritten = false

	f, err := os.Create(path)
	if err != nil {
		log.Printf("Failed to create event log %s: %v", path, err)
		return fmt.Errorf("create event log: %w", err)
	}
	return f.Close()
}

// EndSession closes the session for writing. The history, path and start
// time remain readable until the next StartSession.
func (r *Recorder) EndSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
}

// SessionActive reports whether a session is open for recording.
func (r *Recorder) SessionActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SessionPath returns the active session's file path.
func (r *Recorder) SessionPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// SessionStart returns the acquisition start time.
func (r *Recorder) SessionStart() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startTime
}

// Record appends one training event. The relative timestamp and event id are
// assigned here. Returns (false, nil) when the event was suppressed as a
// near-duplicate, (false, err) when the row could not be written (the event
// still counts in memory), and (true, nil) on success.
func (r *Recorder) Record(e Event) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return false, ErrNoSession
	}

	e.RecordedAt = r.now()
	e.Time = e.RecordedAt.Sub(r.startTime).Seconds()
	if e.ErrorRange == 0 {
		e.ErrorRange = DefaultErrorRange
	}

	if r.isDuplicate(e) {
		log.Printf("Suppressed duplicate event %q at stage %d (%.2fs)", e.Name, e.Stage, e.Time)
		return false, nil
	}

	e.ID = r.nextID
	r.nextID++
	r.history = append(r.history, e)

	if err := r.writeRow(e); err != nil {
		log.Printf("Failed to persist event %q: %v", e.Name, err)
		return false, fmt.Errorf("persist event: %w", err)
	}
	return true, nil
}

// isDuplicate scans the most recent events, newest first, for an identical
// (name, stage) pair recorded within the suppression threshold.
func (r *Recorder) isDuplicate(e Event) bool {
	start := len(r.history) - duplicateWindow
	if start < 0 {
		start = 0
	}
	for i := len(r.history) - 1; i >= start; i-- {
		h := r.history[i]
		if h.Name == e.Name && h.Stage == e.Stage &&
			math.Abs(e.Time-h.Time) < duplicateThresholdSeconds {
			return true
		}
	}
	return false
}

func (r *Recorder) writeRow(e Event) error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if !r.headerWritten {
		if err := r.writeHeader(f); err != nil {
			return err
		}
		r.headerWritten = true
	}

	w := csv.NewWriter(f)
	if err := w.Write(r.rowFields(e)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// writeHeader emits the comment block, the blank separator, and the column
// header row. It runs exactly once per session, on the first record that
// reaches the file.
func (r *Recorder) writeHeader(f *os.File) error {
	comments := fmt.Sprintf(
		"# Acquisition Start Time: %s\n"+
			"# Event recording for acquisition session\n"+
			"# Data source: 事件数据\n"+
			"# Contains error_range for patient training\n\n",
		r.startTime.Format("2006-01-02 15:04:05"))
	if _, err := f.WriteString(comments); err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(r.headerFields()); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (r *Recorder) headerFields() []string {
	fields := make([]string, 0, 5+2*r.sensorCount)
	fields = append(fields, "time(s)", "event_name", "event_code", "stage")
	for i := 1; i <= r.sensorCount; i++ {
		fields = append(fields, fmt.Sprintf("sensor%d", i))
	}
	for i := 1; i <= r.sensorCount; i++ {
		fields = append(fields, fmt.Sprintf("weight%d", i))
	}
	return append(fields, "error_range")
}

// rowFields renders one event at full float precision. Absent sensor cells
// stay empty; absent weights default to zero.
func (r *Recorder) rowFields(e Event) []string {
	fields := make([]string, 0, 5+2*r.sensorCount)
	fields = append(fields, formatFloat(e.Time), e.Name, e.Code, StageLabel(e.Stage))
	for i := 0; i < r.sensorCount; i++ {
		if i < len(e.Sensors) {
			fields = append(fields, formatFloat(e.Sensors[i]))
		} else {
			fields = append(fields, "")
		}
	}
	for i := 0; i < r.sensorCount; i++ {
		if i < len(e.Weights) {
			fields = append(fields, formatFloat(e.Weights[i]))
		} else {
			fields = append(fields, "0")
		}
	}
	return append(fields, formatFloat(e.ErrorRange))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// History returns a copy of every event recorded in the current session.
func (r *Recorder) History() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.history))
	copy(out, r.history)
	return out
}

// Latest returns the most recent events, newest first, up to limit.
func (r *Recorder) Latest(limit int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	out := make([]Event, 0, limit)
	for i := len(r.history) - 1; i >= len(r.history)-limit; i-- {
		out = append(out, r.history[i])
	}
	return out
}

// StageEvents returns the session's events for one stage, in recording order.
func (r *Recorder) StageEvents(stage int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.history {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of events recorded this session.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}
