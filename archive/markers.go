package archive

import (
	"database/sql"
	"fmt"
)

// Marker annotates a point in an archived session's timeline. The trim types
// trim_start and trim_end exist once per session; everything else is a
// regular marker.
type Marker struct {
	ID        int     `json:"id"`
	SessionID int     `json:"session_id"`
	Time      float64 `json:"time_seconds"`
	Label     string  `json:"label"`
	Type      string  `json:"type"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// MarkersForSession returns a session's markers in time order.
func MarkersForSession(sessionID int) ([]Marker, error) {
	query := `
		SELECT id, session_id, time_seconds, label, COALESCE(type, 'regular'), created_at
		FROM markers
		WHERE session_id = ?
		ORDER BY time_seconds
	`

	rows, err := archiveDB.Query(query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markers []Marker
	for rows.Next() {
		var m Marker
		var createdAt sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Time, &m.Label, &m.Type, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = createdAt.String
		markers = append(markers, m)
	}

	return markers, rows.Err()
}

// CreateMarker stores a marker and returns it with its assigned ID.
func CreateMarker(marker Marker) (*Marker, error) {
	if marker.Type == "" {
		marker.Type = "regular"
	}

	result, err := archiveDB.Exec(
		"INSERT INTO markers (session_id, time_seconds, label, type) VALUES (?, ?, ?, ?)",
		marker.SessionID, marker.Time, marker.Label, marker.Type,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	created := marker
	created.ID = int(id)
	return &created, nil
}

// DeleteMarker removes one marker by ID.
func DeleteMarker(markerID int) error {
	_, err := archiveDB.Exec("DELETE FROM markers WHERE id = ?", markerID)
	return err
}

// CreateOrUpdateTrimMarker sets the trim_start or trim_end marker of a
// session, replacing an existing one of the same type.
func CreateOrUpdateTrimMarker(sessionID int, markerType string, time float64, label string) (*Marker, error) {
	if markerType != "trim_start" && markerType != "trim_end" {
		return nil, fmt.Errorf("invalid trim marker type: %s", markerType)
	}

	existing, err := trimMarker(sessionID, markerType)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	if existing != nil {
		_, err := archiveDB.Exec("UPDATE markers SET time_seconds = ?, label = ? WHERE id = ?", time, label, existing.ID)
		if err != nil {
			return nil, err
		}
		existing.Time = time
		existing.Label = label
		return existing, nil
	}

	return CreateMarker(Marker{
		SessionID: sessionID,
		Time:      time,
		Label:     label,
		Type:      markerType,
	})
}

func trimMarker(sessionID int, markerType string) (*Marker, error) {
	query := `
		SELECT id, session_id, time_seconds, label, type, created_at
		FROM markers
		WHERE session_id = ? AND type = ?
	`

	var m Marker
	var createdAt sql.NullString
	err := archiveDB.QueryRow(query, sessionID, markerType).Scan(&m.ID, &m.SessionID, &m.Time, &m.Label, &m.Type, &createdAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = createdAt.String

	return &m, nil
}

// TrimMarkers returns a session's trim markers; either may be nil.
func TrimMarkers(sessionID int) (trimStart *Marker, trimEnd *Marker) {
	trimStart, _ = trimMarker(sessionID, "trim_start")
	trimEnd, _ = trimMarker(sessionID, "trim_end")
	return trimStart, trimEnd
}

// DeleteTrimMarkers removes both trim markers of a session.
func DeleteTrimMarkers(sessionID int) error {
	_, err := archiveDB.Exec("DELETE FROM markers WHERE session_id = ? AND type IN ('trim_start', 'trim_end')", sessionID)
	return err
}
