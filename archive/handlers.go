package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var uploadDir string

// SetupHandlers registers the session archive surface on the default mux.
// Init must have run first.
func SetupHandlers() {
	http.HandleFunc("/archive/upload", handleLogUpload)
	http.HandleFunc("/archive/sessions", handleListSessions)
	http.HandleFunc("/archive/events", handleSessionEvents)
	http.HandleFunc("/archive/markers", handleMarkers)
	http.HandleFunc("/archive/trim-markers", handleTrimMarkers)
	http.HandleFunc("/archive/duplicate", handleDuplicateSession)
	http.HandleFunc("/archive/delete", handleDeleteSession)
	http.HandleFunc("/archive/export", handleSessionExport)
	http.HandleFunc("/archive/stats", handleStats)
}

func handleLogUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("logfile")
	if err != nil {
		http.Error(w, "Failed to get file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if strings.ToLower(filepath.Ext(filename)) != ".csv" {
		http.Error(w, "Invalid file format. Please upload an event log file (.csv).", http.StatusBadRequest)
		return
	}

	// Keep the original name so re-uploads of the same log are detected.
	tempDir := filepath.Join(uploadDir, time.Now().Format("20060102_150405.000"))
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	defer os.RemoveAll(tempDir)

	tempPath := filepath.Join(tempDir, filename)
	dst, err := os.Create(tempPath)
	if err != nil {
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		http.Error(w, "Failed to save file", http.StatusInternalServerError)
		return
	}
	dst.Close()

	session, err := ImportEventLog(tempPath, r.FormValue("title"), r.FormValue("spine_type"), r.FormValue("variant"))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to import event log: %v", err), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "success",
		"message": fmt.Sprintf("Successfully imported %d events from %s", session.EventCount, filename),
		"session": session,
	})
}

func handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions, err := ListSessions()
	if err != nil {
		http.Error(w, "Failed to get sessions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

func sessionIDParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("sessionId")
	if raw == "" {
		return 0, fmt.Errorf("session ID required")
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid session ID")
	}
	return id, nil
}

func handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID, err := sessionIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, err := SessionByID(sessionID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get session: %v", err), http.StatusNotFound)
		return
	}
	sessionEvents, err := SessionEvents(sessionID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get session events: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"session": session,
		"events":  sessionEvents,
	})
}

func handleMarkers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		handleGetMarkers(w, r)
	case http.MethodPost:
		handleCreateMarker(w, r)
	case http.MethodDelete:
		handleDeleteMarker(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func handleGetMarkers(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	markers, err := MarkersForSession(sessionID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get markers: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markers)
}

func handleCreateMarker(w http.ResponseWriter, r *http.Request) {
	var marker Marker
	if err := json.NewDecoder(r.Body).Decode(&marker); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if marker.SessionID == 0 || marker.Label == "" {
		http.Error(w, "Session ID and label are required", http.StatusBadRequest)
		return
	}

	created, err := CreateMarker(marker)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create marker: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(created)
}

func handleDeleteMarker(w http.ResponseWriter, r *http.Request) {
	markerIDStr := r.URL.Query().Get("id")
	if markerIDStr == "" {
		http.Error(w, "Marker ID required", http.StatusBadRequest)
		return
	}

	markerID, err := strconv.Atoi(markerIDStr)
	if err != nil {
		http.Error(w, "Invalid marker ID", http.StatusBadRequest)
		return
	}

	if err := DeleteMarker(markerID); err != nil {
		http.Error(w, fmt.Sprintf("Failed to delete marker: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func handleTrimMarkers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		handleGetTrimMarkers(w, r)
	case http.MethodPost:
		handleCreateTrimMarker(w, r)
	case http.MethodDelete:
		handleDeleteTrimMarkers(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func handleGetTrimMarkers(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	trimStart, trimEnd := TrimMarkers(sessionID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]*Marker{
		"trim_start": trimStart,
		"trim_end":   trimEnd,
	})
}

func handleCreateTrimMarker(w http.ResponseWriter, r *http.Request) {
	var request struct {
		SessionID int     `json:"session_id"`
		Type      string  `json:"type"`
		Time      float64 `json:"time"`
		Label     string  `json:"label"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if request.SessionID == 0 || request.Type == "" {
		http.Error(w, "Session ID and type are required", http.StatusBadRequest)
		return
	}

	marker, err := CreateOrUpdateTrimMarker(request.SessionID, request.Type, request.Time, request.Label)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create trim marker: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(marker)
}

func handleDeleteTrimMarkers(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := DeleteTrimMarkers(sessionID); err != nil {
		http.Error(w, fmt.Sprintf("Failed to delete trim markers: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func handleDuplicateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		SessionID int    `json:"session_id"`
		NewTitle  string `json:"new_title"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON request", http.StatusBadRequest)
		return
	}

	if request.SessionID == 0 || request.NewTitle == "" {
		http.Error(w, "Session ID and new title are required", http.StatusBadRequest)
		return
	}

	exists, err := sessionTitleExists(request.NewTitle)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to check title uniqueness: %v", err), http.StatusInternalServerError)
		return
	}
	if exists {
		http.Error(w, "A session with this title already exists", http.StatusConflict)
		return
	}

	newSessionID, err := DuplicateSession(request.SessionID, request.NewTitle)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to duplicate session: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "success",
		"message":        fmt.Sprintf("Session duplicated successfully with ID %d", newSessionID),
		"new_session_id": newSessionID,
	})
}

func handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request struct {
		SessionID int `json:"session_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON request", http.StatusBadRequest)
		return
	}
	if request.SessionID == 0 {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	if err := DeleteSession(request.SessionID); err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to delete session: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

func handleSessionExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID, err := sessionIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	buf, session, err := ExportSessionArchive(sessionID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to export session: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", ArchiveFilename(session)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

func handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := Stats()
	if err != nil {
		http.Error(w, "Failed to get archive stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
