package stage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/posturelab/spine-trainer-station/axis"
	"github.com/posturelab/spine-trainer-station/sensor"
)

var (
	handlerEngine *Engine
	handlerFeed   *sensor.Feed

	wsClients    = make(map[*websocket.Conn]bool)
	wsClientsMux = &sync.Mutex{}
	upgrader     = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

// SetupHandlers registers the training control surface on the default mux.
func SetupHandlers(e *Engine, feed *sensor.Feed) {
	handlerEngine = e
	handlerFeed = feed

	http.HandleFunc("/api/state", handleState)
	http.HandleFunc("/api/stage/description", handleStageDescription)
	http.HandleFunc("/api/acquisition/start", handleAcquisitionStart)
	http.HandleFunc("/api/acquisition/stop", handleAcquisitionStop)
	http.HandleFunc("/api/spine-type", handleSpineType)
	http.HandleFunc("/api/variant", handleVariant)
	http.HandleFunc("/api/stage", handleSetStage)
	http.HandleFunc("/api/stage/next", handleNextStage)
	http.HandleFunc("/api/stage/prev", handlePrevStage)
	http.HandleFunc("/api/sensor-count", handleSensorCount)
	http.HandleFunc("/api/events/record", handleRecordEvent)
	http.HandleFunc("/api/selection", handleSelection)
	http.HandleFunc("/api/error-range", handleErrorRange)
	http.HandleFunc("/api/calibration/load", handleCalibrationLoad)
	http.HandleFunc("/api/calibration/reset", handleCalibrationReset)
	http.HandleFunc("/ws/state", handleStateWS)
}

// BroadcastState pushes a state snapshot to every websocket client, dropping
// clients whose connection has gone away. Wire it to Engine.OnState.
func BroadcastState(st State) {
	wsClientsMux.Lock()
	defer wsClientsMux.Unlock()
	for client := range wsClients {
		if err := client.WriteJSON(st); err != nil {
			log.Printf("Error sending state to client: %v", err)
			client.Close()
			delete(wsClients, client)
		}
	}
}

func handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}

	wsClientsMux.Lock()
	wsClients[conn] = true
	wsClientsMux.Unlock()

	// Seed the client so it renders before the next poll tick.
	if err := conn.WriteJSON(handlerEngine.GetState()); err != nil {
		log.Printf("Error sending state to client: %v", err)
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wsClientsMux.Lock()
				delete(wsClients, conn)
				wsClientsMux.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

func writeState(w http.ResponseWriter, st State) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

func handleState(w http.ResponseWriter, r *http.Request) {
	writeState(w, handlerEngine.GetState())
}

func handleStageDescription(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"description": handlerEngine.GetStageDescription(),
	})
}

func handleAcquisitionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, err := handlerEngine.StartAcquisition()
	if errors.Is(err, ErrAcquisitionActive) {
		http.Error(w, "Acquisition already running", http.StatusConflict)
		return
	}
	if err != nil {
		// The session is running; only the log file failed to open.
		log.Printf("Acquisition started with degraded persistence: %v", err)
		http.Error(w, fmt.Sprintf("Event file not writable: %v", err), http.StatusInternalServerError)
		return
	}
	writeState(w, st)
}

func handleAcquisitionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, err := handlerEngine.StopAcquisition()
	if err != nil {
		http.Error(w, "No acquisition running", http.StatusConflict)
		return
	}
	writeState(w, st)
}

func handleSpineType(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := r.FormValue("type")
	if raw == "" {
		http.Error(w, "Spine type is required", http.StatusBadRequest)
		return
	}
	writeState(w, handlerEngine.SetSpineType(ParseSpineType(raw)))
}

func handleVariant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw := r.FormValue("variant")
	if raw == "" {
		http.Error(w, "Variant is required", http.StatusBadRequest)
		return
	}
	writeState(w, handlerEngine.SetVariant(ParseVariant(raw)))
}

func handleSetStage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n, err := strconv.Atoi(r.FormValue("stage"))
	if err != nil {
		http.Error(w, "Invalid stage number", http.StatusBadRequest)
		return
	}

	st, ok := handlerEngine.SetStage(n)
	if !ok {
		http.Error(w, fmt.Sprintf("Stage %d out of range [1,%d]", n, st.MaxStages), http.StatusBadRequest)
		return
	}
	writeState(w, st)
}

func handleNextStage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, _ := handlerEngine.NextStage()
	writeState(w, st)
}

func handlePrevStage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, _ := handlerEngine.PrevStage()
	writeState(w, st)
}

func handleSensorCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n, err := strconv.Atoi(r.FormValue("count"))
	if err != nil || n < 1 {
		http.Error(w, "Invalid sensor count", http.StatusBadRequest)
		return
	}

	if err := handlerEngine.SetSensorCount(n); err != nil {
		if errors.Is(err, ErrAcquisitionActive) {
			http.Error(w, "Cannot change sensor count during acquisition", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	handlerFeed.SetSensorCount(n)
	writeState(w, handlerEngine.GetState())
}

func handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var data struct {
		Name string `json:"name"`
		Code string `json:"code"`
	}
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
			return
		}
	} else {
		data.Name = r.FormValue("name")
		data.Code = r.FormValue("code")
	}
	if data.Name == "" {
		http.Error(w, "Event name is required", http.StatusBadRequest)
		return
	}

	result, err := handlerEngine.RecordManualEvent(data.Name, data.Code)
	if errors.Is(err, ErrNotAcquiring) {
		http.Error(w, "No acquisition running", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Event not persisted: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func handleSelection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var data struct {
		Axis    string    `json:"axis"`
		Weights []float64 `json:"weights"`
	}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	kind, ok := axis.ParseKind(data.Axis)
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown axis %q", data.Axis), http.StatusBadRequest)
		return
	}
	if len(data.Weights) == 0 {
		http.Error(w, "Weights are required", http.StatusBadRequest)
		return
	}

	st, err := handlerEngine.ApplySelection(kind, data.Weights)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeState(w, st)
}

func handleErrorRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	kind, ok := axis.ParseKind(r.FormValue("axis"))
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown axis %q", r.FormValue("axis")), http.StatusBadRequest)
		return
	}
	v, err := strconv.ParseFloat(r.FormValue("value"), 64)
	if err != nil {
		http.Error(w, "Invalid tolerance value", http.StatusBadRequest)
		return
	}

	if err := handlerEngine.SetErrorRange(kind, v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeState(w, handlerEngine.GetState())
}

func handleCalibrationReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeState(w, handlerEngine.ResetCalibration())
}

func handleCalibrationLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := r.FormValue("file")
	if path == "" {
		http.Error(w, "File path is required", http.StatusBadRequest)
		return
	}

	if err := handlerEngine.LoadCalibrationFile(path); err != nil {
		if errors.Is(err, ErrAcquisitionActive) {
			http.Error(w, "Cannot load calibration during acquisition", http.StatusConflict)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to load calibration: %v", err), http.StatusBadRequest)
		return
	}
	writeState(w, handlerEngine.GetState())
}
