package archive

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/posturelab/spine-trainer-station/events"
)

// Session is one archived training session: an imported event log plus its
// derived metadata.
type Session struct {
	ID              int     `json:"id"`
	Title           string  `json:"title"`
	SpineType       string  `json:"spine_type"`
	Variant         string  `json:"variant"`
	SourceFile      string  `json:"source_file,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	EventCount      int     `json:"event_count"`
	ImportedAt      string  `json:"imported_at"`
}

// SessionEvent is one archived event row. Sensor and weight cells keep the
// per-channel presence masks from the original log.
type SessionEvent struct {
	ID         int       `json:"id"`
	SessionID  int       `json:"session_id"`
	Time       float64   `json:"time_seconds"`
	Name       string    `json:"event_name"`
	Code       string    `json:"event_code"`
	Stage      int       `json:"stage"`
	Sensors    []float64 `json:"sensors"`
	SensorsSet []bool    `json:"sensors_set"`
	Weights    []float64 `json:"weights"`
	WeightsSet []bool    `json:"weights_set"`
	ErrorRange float64   `json:"error_range"`
}

// ImportEventLog parses a recorded event log and stores it as a new archived
// session. A file that was already imported (same source name and event
// count) is rejected.
func ImportEventLog(path, title, spineType, variant string) (*Session, error) {
	parsed, err := events.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse event log: %w", err)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("no events found in log file")
	}

	sourceFile := filepath.Base(path)
	if title == "" {
		title = strings.TrimSuffix(sourceFile, filepath.Ext(sourceFile))
	}
	if spineType == "" {
		spineType = "C"
	}
	if variant == "" {
		variant = "compact"
	}

	var duration float64
	for _, e := range parsed {
		if e.Time > duration {
			duration = e.Time
		}
	}

	imported, err := logAlreadyImported(sourceFile, len(parsed))
	if err != nil {
		return nil, err
	}
	if imported {
		return nil, fmt.Errorf("log %s was already imported", sourceFile)
	}

	tx, err := archiveDB.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		"INSERT INTO sessions (title, spine_type, variant, source_file, duration_seconds, event_count) VALUES (?, ?, ?, ?, ?, ?)",
		title, spineType, variant, sourceFile, duration, len(parsed),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	sessionID, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO session_events (
			session_id, time_seconds, event_name, event_code, stage,
			sensors, weights, error_range
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, e := range parsed {
		_, err = stmt.Exec(
			sessionID, e.Time, e.Name, e.Code, e.Stage,
			joinSeries(e.Sensors, e.SensorsSet),
			joinSeries(e.Weights, e.WeightsSet),
			e.ErrorRange,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	session, err := SessionByID(int(sessionID))
	if err != nil {
		return nil, err
	}

	log.Printf("Successfully imported %d events from %s as session %d", len(parsed), sourceFile, session.ID)
	return session, nil
}

func logAlreadyImported(sourceFile string, eventCount int) (bool, error) {
	var count int
	err := archiveDB.QueryRow(
		"SELECT COUNT(*) FROM sessions WHERE source_file = ? AND event_count = ?",
		sourceFile, eventCount,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check for duplicate import: %w", err)
	}
	return count > 0, nil
}

func sessionTitleExists(title string) (bool, error) {
	var count int
	err := archiveDB.QueryRow("SELECT COUNT(*) FROM sessions WHERE title = ?", title).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListSessions returns all archived sessions, newest first.
func ListSessions() ([]Session, error) {
	query := `
		SELECT id, title, spine_type, variant, source_file, duration_seconds, event_count, imported_at
		FROM sessions
		ORDER BY imported_at DESC, id DESC
	`

	rows, err := archiveDB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// SessionByID returns one archived session.
func SessionByID(sessionID int) (*Session, error) {
	query := `
		SELECT id, title, spine_type, variant, source_file, duration_seconds, event_count, imported_at
		FROM sessions
		WHERE id = ?
	`

	s, err := scanSession(archiveDB.QueryRow(query, sessionID).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session with ID %d not found", sessionID)
		}
		return nil, err
	}
	return &s, nil
}

func scanSession(scan func(...interface{}) error) (Session, error) {
	var s Session
	var sourceFile sql.NullString
	var importedAt sql.NullString

	err := scan(&s.ID, &s.Title, &s.SpineType, &s.Variant, &sourceFile, &s.DurationSeconds, &s.EventCount, &importedAt)
	if err != nil {
		return Session{}, err
	}

	s.SourceFile = sourceFile.String
	s.ImportedAt = importedAt.String
	return s, nil
}

// SessionEvents returns all events of one archived session in time order.
func SessionEvents(sessionID int) ([]SessionEvent, error) {
	query := `
		SELECT id, session_id, time_seconds, event_name, event_code, stage,
		       sensors, weights, error_range
		FROM session_events
		WHERE session_id = ?
		ORDER BY time_seconds, id
	`

	rows, err := archiveDB.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessionEvents []SessionEvent
	for rows.Next() {
		var e SessionEvent
		var code, sensors, weights sql.NullString
		var errorRange sql.NullFloat64

		err := rows.Scan(&e.ID, &e.SessionID, &e.Time, &e.Name, &code, &e.Stage, &sensors, &weights, &errorRange)
		if err != nil {
			return nil, err
		}

		e.Code = code.String
		e.Sensors, e.SensorsSet = splitSeries(sensors.String)
		e.Weights, e.WeightsSet = splitSeries(weights.String)
		e.ErrorRange = errorRange.Float64

		sessionEvents = append(sessionEvents, e)
	}

	return sessionEvents, rows.Err()
}

// DeleteSession deletes a session with its events and markers.
func DeleteSession(sessionID int) error {
	if sessionID <= 0 {
		return fmt.Errorf("invalid session ID: %d", sessionID)
	}

	tx, err := archiveDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM markers WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete markers for session %d: %w", sessionID, err)
	}

	if _, err := tx.Exec("DELETE FROM session_events WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete events for session %d: %w", sessionID, err)
	}

	result, err := tx.Exec("DELETE FROM sessions WHERE id = ?", sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session %d: %w", sessionID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session with ID %d not found", sessionID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletion transaction: %w", err)
	}

	log.Printf("Successfully deleted session %d with all associated data", sessionID)
	return nil
}

// DuplicateSession copies a session, its events, and its markers under a new
// title and returns the new session ID.
func DuplicateSession(sessionID int, newTitle string) (int, error) {
	exists, err := sessionTitleExists(newTitle)
	if err != nil {
		return 0, fmt.Errorf("failed to check title uniqueness: %w", err)
	}
	if exists {
		return 0, fmt.Errorf("a session titled %q already exists", newTitle)
	}

	original, err := SessionByID(sessionID)
	if err != nil {
		return 0, err
	}

	tx, err := archiveDB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		"INSERT INTO sessions (title, spine_type, variant, source_file, duration_seconds, event_count) VALUES (?, ?, ?, ?, ?, ?)",
		newTitle, original.SpineType, original.Variant, original.SourceFile, original.DurationSeconds, original.EventCount,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to duplicate session record: %w", err)
	}
	newID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	if err := duplicateSessionEvents(tx, sessionID, int(newID)); err != nil {
		return 0, fmt.Errorf("failed to duplicate events: %w", err)
	}
	if err := duplicateMarkers(tx, sessionID, int(newID)); err != nil {
		return 0, fmt.Errorf("failed to duplicate markers: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("Successfully duplicated session %d as session %d with title '%s'", sessionID, newID, newTitle)
	return int(newID), nil
}

func duplicateSessionEvents(tx *sql.Tx, originalID, newID int) error {
	rows, err := tx.Query(`
		SELECT time_seconds, event_name, event_code, stage, sensors, weights, error_range
		FROM session_events
		WHERE session_id = ?
		ORDER BY time_seconds, id
	`, originalID)
	if err != nil {
		return err
	}
	defer rows.Close()

	stmt, err := tx.Prepare(`
		INSERT INTO session_events (
			session_id, time_seconds, event_name, event_code, stage,
			sensors, weights, error_range
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for rows.Next() {
		var timeSeconds float64
		var name string
		var code, sensors, weights sql.NullString
		var stage int
		var errorRange sql.NullFloat64

		if err := rows.Scan(&timeSeconds, &name, &code, &stage, &sensors, &weights, &errorRange); err != nil {
			return err
		}

		if _, err := stmt.Exec(newID, timeSeconds, name, code, stage, sensors, weights, errorRange); err != nil {
			return err
		}
	}

	return rows.Err()
}

func duplicateMarkers(tx *sql.Tx, originalID, newID int) error {
	rows, err := tx.Query(`
		SELECT time_seconds, label, COALESCE(type, 'regular')
		FROM markers
		WHERE session_id = ?
		ORDER BY time_seconds
	`, originalID)
	if err != nil {
		return err
	}
	defer rows.Close()

	stmt, err := tx.Prepare("INSERT INTO markers (session_id, time_seconds, label, type) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for rows.Next() {
		var timeSeconds float64
		var label, markerType string

		if err := rows.Scan(&timeSeconds, &label, &markerType); err != nil {
			return err
		}

		if _, err := stmt.Exec(newID, timeSeconds, label, markerType); err != nil {
			return err
		}
	}

	return rows.Err()
}

// Stats summarizes the archive database contents.
func Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var sessionCount int
	if err := archiveDB.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&sessionCount); err != nil {
		return nil, err
	}
	stats["session_count"] = sessionCount

	var eventCount int
	if err := archiveDB.QueryRow("SELECT COUNT(*) FROM session_events").Scan(&eventCount); err != nil {
		return nil, err
	}
	stats["event_count"] = eventCount

	var markerCount int
	if err := archiveDB.QueryRow("SELECT COUNT(*) FROM markers").Scan(&markerCount); err != nil {
		return nil, err
	}
	stats["marker_count"] = markerCount

	if fileInfo, err := os.Stat(databasePath); err == nil {
		stats["database_size_bytes"] = fileInfo.Size()
		stats["database_size_mb"] = float64(fileInfo.Size()) / (1024 * 1024)
	}

	return stats, nil
}

// joinSeries renders per-channel values as the comma-joined cell list used
// by the event log format. Absent channels stay empty.
func joinSeries(values []float64, set []bool) string {
	cells := make([]string, len(values))
	for i, v := range values {
		if i < len(set) && set[i] {
			cells[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	return strings.Join(cells, ",")
}

// splitSeries is the inverse of joinSeries.
func splitSeries(s string) ([]float64, []bool) {
	if s == "" {
		return nil, nil
	}
	cells := strings.Split(s, ",")
	values := make([]float64, len(cells))
	set := make([]bool, len(cells))
	for i, cell := range cells {
		if cell == "" {
			continue
		}
		if v, err := strconv.ParseFloat(cell, 64); err == nil {
			values[i] = v
			set[i] = true
		}
	}
	return values, set
}
