package events

import (
	"encoding/json"
	"net/http"
	"strconv"
)

var handlerRecorder *Recorder

// SetupHandlers registers the event query endpoints on the default mux.
func SetupHandlers(r *Recorder) {
	handlerRecorder = r
	http.HandleFunc("/api/events", handleRecentEvents)
	http.HandleFunc("/api/events/summary", handleSummary)
}

type eventView struct {
	Event
	DisplayName string `json:"display_name"`
}

func handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return the last 50 events, newest first, unless the caller asks
	// for a different window.
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	recent := handlerRecorder.Latest(limit)
	views := make([]eventView, 0, len(recent))
	for _, e := range recent {
		views = append(views, eventView{Event: e, DisplayName: FormatEventCode(e.Code)})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"events": views,
		"count":  handlerRecorder.Count(),
	})
}

func handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlerRecorder.Summary())
}
