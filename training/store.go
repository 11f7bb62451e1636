package training

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

	"github.com/posturelab/spine-trainer-station/events"
	"github.com/posturelab/spine-trainer-station/stage"
)

// deviationHistoryLimit bounds the in-memory deviation trace fed to the
// report charts.
const deviationHistoryLimit = 5000

// Record is one completed training step: a persisted 完成 event together
// with the pose file it produced.
type Record struct {
	ID         int       `json:"id"`
	SessionID  string    `json:"session_id"`
	Stage      int       `json:"stage"`
	SubStage   string    `json:"sub_stage,omitempty"`
	StageLabel string    `json:"stage_label"`
	EventName  string    `json:"event_name"`
	EventCode  string    `json:"event_code"`
	SpineType  string    `json:"spine_type"`
	Variant    string    `json:"variant"`
	Time       float64   `json:"time_seconds"`
	RecordedAt time.Time `json:"recorded_at"`
	PoseFile   string    `json:"pose_file,omitempty"`
}

// StandardPose is the JSON document written when a stage completes: the
// captured posture plus enough context to re-create the calibration later.
type StandardPose struct {
	SessionID  string      `json:"session_id"`
	Stage      int         `json:"stage"`
	SubStage   string      `json:"sub_stage,omitempty"`
	StageLabel string      `json:"stage_label"`
	EventName  string      `json:"event_name"`
	EventCode  string      `json:"event_code"`
	SpineType  string      `json:"spine_type"`
	Variant    string      `json:"variant"`
	Timestamp  string      `json:"timestamp"`
	Time       float64     `json:"time_seconds"`
	Sensors    []float64   `json:"sensor_values"`
	Weights    []float64   `json:"weights"`
	ErrorRange float64     `json:"error_range"`
	State      stage.State `json:"state"`
}

// DeviationSample is one point of the per-axis deviation trace.
type DeviationSample struct {
	Time       string             `json:"time"`
	Stage      int                `json:"stage"`
	InRange    bool               `json:"in_range"`
	Deviations map[string]float64 `json:"deviations"`
}

// Store collects completion records and writes standard-pose files. It
// subscribes to the engine's event and state callbacks; failures to persist
// a pose are logged and never propagate back into the engine.
type Store struct {
	mu         sync.RWMutex
	dir        string
	records    []Record
	deviations []DeviationSample
	nextID     int

	now func() time.Time
}

// NewStore creates a store writing pose files under dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, nextID: 1, now: time.Now}
}

// HandleEvent is wired to the engine's event callback. Events whose name
// marks a completion (完成) become a training record and a standard-pose
// file; everything else passes through untouched.
func (s *Store) HandleEvent(ev events.Event, st stage.State) {
	if !strings.Contains(ev.Name, "完成") {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		ID:         s.nextID,
		SessionID:  st.SessionID,
		Stage:      ev.Stage,
		SubStage:   ev.SubStage,
		StageLabel: events.StageLabel(ev.Stage),
		EventName:  ev.Name,
		EventCode:  ev.Code,
		SpineType:  ev.SpineType,
		Variant:    string(st.Variant),
		Time:       ev.Time,
		RecordedAt: ev.RecordedAt,
	}
	s.nextID++

	pose := StandardPose{
		SessionID:  st.SessionID,
		Stage:      ev.Stage,
		SubStage:   ev.SubStage,
		StageLabel: rec.StageLabel,
		EventName:  ev.Name,
		EventCode:  ev.Code,
		SpineType:  ev.SpineType,
		Variant:    string(st.Variant),
		Timestamp:  ev.RecordedAt.Format("2006-01-02 15:04:05"),
		Time:       ev.Time,
		Sensors:    ev.Sensors,
		Weights:    ev.Weights,
		ErrorRange: ev.ErrorRange,
		State:      st,
	}
	name := fmt.Sprintf("standard_stage%d_%s.json", ev.Stage, s.now().Format("20060102_150405"))
	if path, err := s.writePose(name, pose); err != nil {
		log.Printf("Failed to write standard pose file %s: %v", name, err)
	} else {
		rec.PoseFile = path
	}

	s.records = append(s.records, rec)
}

// HandleState is wired to the engine's state callback and keeps a bounded
// deviation trace for the report charts. Only snapshots taken during an
// acquisition count, and only axes with a computable deviation appear.
func (s *Store) HandleState(st stage.State) {
	if !st.Acquiring || st.SnapshotTime == "" {
		return
	}

	deviations := make(map[string]float64, len(st.Axes))
	for name, a := range st.Axes {
		if a.NotCalibrated || !a.Calibrated {
			continue
		}
		deviations[name] = a.Deviation
	}
	if len(deviations) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviations = append(s.deviations, DeviationSample{
		Time:       st.SnapshotTime,
		Stage:      st.Stage,
		InRange:    st.InRange,
		Deviations: deviations,
	})
	if len(s.deviations) > deviationHistoryLimit {
		s.deviations = s.deviations[len(s.deviations)-deviationHistoryLimit:]
	}
}

func (s *Store) writePose(name string, pose StandardPose) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(pose, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// ExportCalibration writes the current per-axis calibration to a standalone
// JSON file and returns its path. Operator-triggered, unlike pose files.
func (s *Store) ExportCalibration(st stage.State) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", err
	}
	doc := map[string]interface{}{
		"exported_at":  s.now().Format("2006-01-02 15:04:05"),
		"spine_type":   st.SpineType,
		"variant":      st.Variant,
		"stage":        st.Stage,
		"sensor_count": st.SensorCount,
		"axes":         st.Axes,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, fmt.Sprintf("calibration_%s.json", s.now().Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Records returns all completion records, oldest first.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.records...)
}

// Deviations returns the recorded deviation trace, oldest first.
func (s *Store) Deviations() []DeviationSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DeviationSample(nil), s.deviations...)
}

// PoseFiles lists the standard-pose files currently on disk, sorted by name
// so the timestamp suffix orders them chronologically.
func (s *Store) PoseFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "standard_stage") && strings.HasSuffix(name, ".json") {
			files = append(files, filepath.Join(s.dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Dir returns the pose directory.
func (s *Store) Dir() string { return s.dir }
