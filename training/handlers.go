package training

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/posturelab/spine-trainer-station/events"
	"github.com/posturelab/spine-trainer-station/sensor"
	"github.com/posturelab/spine-trainer-station/stage"
)

var (
	handlerStore    *Store
	handlerEngine   *stage.Engine
	handlerRecorder *events.Recorder
	handlerFeed     *sensor.Feed
)

// SetupHandlers registers the training record and report surface on the
// default mux.
func SetupHandlers(store *Store, e *stage.Engine, rec *events.Recorder, feed *sensor.Feed) {
	handlerStore = store
	handlerEngine = e
	handlerRecorder = rec
	handlerFeed = feed

	http.HandleFunc("/training/records", handleGetRecords)
	http.HandleFunc("/training/poses", handleGetPoses)
	http.HandleFunc("/training/report", handleReportPage)
	http.HandleFunc("/training/report/data", handleReportData)
	http.HandleFunc("/training/statistics", handleStatistics)
	http.HandleFunc("/training/export", handleWorkbookExport)
	http.HandleFunc("/training/bundle", handleBundleExport)
	http.HandleFunc("/training/export-calibration", handleCalibrationExport)
}

func handleGetRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records := handlerStore.Records()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func handleGetPoses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	files, err := handlerStore.PoseFiles()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list pose files: %v", err), http.StatusInternalServerError)
		return
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"poses": names,
		"count": len(names),
	})
}

func buildCurrentReport() Report {
	st := handlerEngine.GetState()
	cfg := stage.ConfigFor(st.Variant, st.SpineType)
	rep := BuildReport(handlerRecorder.History(), cfg)
	rep.SessionID = st.SessionID
	return rep
}

func handleReportData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(buildCurrentReport())
}

func handleReportPage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rep := buildCurrentReport()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := RenderReportPage(w, rep, handlerStore.Deviations(), handlerRecorder.History()); err != nil {
		http.Error(w, fmt.Sprintf("Failed to render report: %v", err), http.StatusInternalServerError)
	}
}

func handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	source := r.URL.Query().Get("source")
	var stats map[string]*SeriesStatistics
	switch source {
	case "", "events":
		source = "events"
		stats = EventSensorStatistics(handlerRecorder.History())
	case "feed":
		stats = SnapshotStatistics(handlerFeed.History(0))
	default:
		http.Error(w, "Invalid source. Use 'events' or 'feed'", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"source":     source,
		"statistics": stats,
	})
}

func handleWorkbookExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	history := handlerRecorder.History()
	if len(history) == 0 {
		http.Error(w, "No events recorded", http.StatusNotFound)
		return
	}

	st := handlerEngine.GetState()
	cfg := stage.ConfigFor(st.Variant, st.SpineType)
	f, err := BuildWorkbook(history, cfg.Label)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to build workbook: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to serialize workbook: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", WorkbookFilename(st.SessionID)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

func handleBundleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	csvPath := handlerRecorder.SessionPath()
	if csvPath == "" {
		http.Error(w, "No session recorded", http.StatusNotFound)
		return
	}
	poses, err := handlerStore.PoseFiles()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list pose files: %v", err), http.StatusInternalServerError)
		return
	}

	buf, err := BuildSessionBundle(csvPath, poses)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to build bundle: %v", err), http.StatusInternalServerError)
		return
	}

	st := handlerEngine.GetState()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", BundleFilename(st.SessionID)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

func handleCalibrationExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path, err := handlerStore.ExportCalibration(handlerEngine.GetState())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to export calibration: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"file": filepath.Base(path)})
}
