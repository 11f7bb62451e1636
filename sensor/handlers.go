package sensor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

var handlerFeed *Feed

// SetupHandlers registers the sensor endpoints on the default mux.
func SetupHandlers(f *Feed) {
	handlerFeed = f
	http.HandleFunc("/api/sensors/feed", handleFeedPush)
	http.HandleFunc("/api/sensors/current", handleCurrent)
	http.HandleFunc("/api/sensors/history", handleHistory)
	http.HandleFunc("/api/sensors/status", handleStatus)
}

// handleFeedPush is the ingestion point for the hardware bridge, which posts
// one reading per acquisition tick.
func handleFeedPush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var data struct {
		Values []float64 `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(data.Values) == 0 {
		http.Error(w, "Missing sensor values", http.StatusBadRequest)
		return
	}

	handlerFeed.Publish(data.Values)
	w.WriteHeader(http.StatusOK)
}

func handleCurrent(w http.ResponseWriter, r *http.Request) {
	snap, ok := handlerFeed.Current()
	if !ok {
		http.Error(w, "No sensor data received yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 600
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"samples": handlerFeed.History(limit),
	})
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(handlerFeed.Status())
}
