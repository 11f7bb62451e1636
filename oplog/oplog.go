package oplog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix = "operation_log_"
	fileSuffix = ".log"

	// maxFileSize triggers rotation of the day file.
	maxFileSize = 10 * 1024 * 1024
	// maxFiles bounds how many rotated files are kept.
	maxFiles = 10

	// sensorPreviewLimit caps how many raw values an entry carries.
	sensorPreviewLimit = 3
)

// Entry is one line of the operation journal.
type Entry struct {
	Timestamp string                 `json:"timestamp"`
	Operation string                 `json:"operation"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Logger appends operator actions to a date-named JSON-lines file. Logging
// never fails the caller: file problems are reported on the process log and
// the action proceeds.
type Logger struct {
	mu  sync.Mutex
	dir string

	now func() time.Time
}

// New creates the journal directory if needed.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create operation log directory: %w", err)
	}
	return &Logger{dir: dir, now: time.Now}, nil
}

// Log appends one entry.
func (l *Logger) Log(operation string, details map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now()
	entry := Entry{
		Timestamp: ts.Format("2006-01-02 15:04:05.000"),
		Operation: operation,
		Details:   details,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		log.Printf("Failed to marshal operation log entry: %v", err)
		return
	}

	path := l.dayFile(ts)
	if err := l.rotateIfNeeded(path, ts); err != nil {
		log.Printf("Failed to rotate operation log: %v", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("Failed to open operation log: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Printf("Failed to write operation log entry: %v", err)
	}
}

func (l *Logger) dayFile(ts time.Time) string {
	return filepath.Join(l.dir, filePrefix+ts.Format("20060102")+fileSuffix)
}

// rotateIfNeeded renames the day file once it exceeds the size cap and
// prunes the oldest journals beyond the retention count.
func (l *Logger) rotateIfNeeded(path string, ts time.Time) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() < maxFileSize {
		return nil
	}

	rotated := filepath.Join(l.dir, filePrefix+ts.Format("20060102_150405")+fileSuffix)
	if err := os.Rename(path, rotated); err != nil {
		return err
	}
	return l.prune()
}

func (l *Logger) prune() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			names = append(names, name)
		}
	}
	if len(names) <= maxFiles {
		return nil
	}

	// Date-stamped names sort chronologically.
	sort.Strings(names)
	for _, name := range names[:len(names)-maxFiles] {
		if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// sensorPreview truncates raw values so journal lines stay small.
func sensorPreview(values []float64) []float64 {
	if len(values) <= sensorPreviewLimit {
		return append([]float64(nil), values...)
	}
	return append([]float64(nil), values[:sensorPreviewLimit]...)
}

// AcquisitionStarted journals a new session.
func (l *Logger) AcquisitionStarted(sessionID, path string) {
	l.Log("acquisition_started", map[string]interface{}{
		"session_id": sessionID,
		"file":       path,
	})
}

// AcquisitionStopped journals the end of a session.
func (l *Logger) AcquisitionStopped(sessionID string, eventCount int) {
	l.Log("acquisition_stopped", map[string]interface{}{
		"session_id":  sessionID,
		"event_count": eventCount,
	})
}

// StageChanged journals a stage transition.
func (l *Logger) StageChanged(from, to int, subStage string) {
	details := map[string]interface{}{
		"from": from,
		"to":   to,
	}
	if subStage != "" {
		details["sub_stage"] = subStage
	}
	l.Log("stage_changed", details)
}

// ModeChanged journals spine type or stage layout switches.
func (l *Logger) ModeChanged(setting, from, to string) {
	l.Log("mode_changed", map[string]interface{}{
		"setting": setting,
		"from":    from,
		"to":      to,
	})
}

// EventRecorded journals a training event with a short sensor preview.
func (l *Logger) EventRecorded(stage int, name, code string, sensors []float64) {
	l.Log("event_recorded", map[string]interface{}{
		"stage":   stage,
		"name":    name,
		"code":    code,
		"sensors": sensorPreview(sensors),
	})
}

// SelectionChanged journals a collaborator weight assignment.
func (l *Logger) SelectionChanged(kind string, weights []float64) {
	l.Log("selection_changed", map[string]interface{}{
		"axis":    kind,
		"weights": weights,
	})
}

// TrainingCompleted journals terminal stage completion.
func (l *Logger) TrainingCompleted(sessionID string, stage int) {
	l.Log("training_completed", map[string]interface{}{
		"session_id": sessionID,
		"stage":      stage,
	})
}

// Error journals a failed operation.
func (l *Logger) Error(operation string, err error) {
	l.Log("error", map[string]interface{}{
		"operation": operation,
		"message":   err.Error(),
	})
}
