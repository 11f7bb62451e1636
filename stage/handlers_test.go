package stage

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posturelab/spine-trainer-station/events"
	"github.com/posturelab/spine-trainer-station/sensor"
)

// Handlers read package-level state, so these tests swap it in per test and
// must not run in parallel.
func setupTestHandlers(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(VariantCompact, SpineC, 3, t.TempDir(), events.NewRecorder(3), nil)
	handlerEngine = e
	handlerFeed = sensor.NewFeed(3)
	return e
}

func postForm(t *testing.T, handler http.HandlerFunc, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) State {
	t.Helper()
	var st State
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	return st
}

func TestStateEndpoint(t *testing.T) {
	setupTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	w := httptest.NewRecorder()
	handleState(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	st := decodeState(t, w)
	assert.Equal(t, 1, st.Stage)
	assert.Equal(t, 3, st.MaxStages)
	assert.Equal(t, 3, st.SensorCount)
	assert.Contains(t, st.Axes, "rotation")
}

func TestRecordEventEndpoint(t *testing.T) {
	setupTestHandlers(t)

	body := `{"name":"开始训练","code":"training_start"}`
	req := httptest.NewRequest(http.MethodPost, "/api/events/record", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handleRecordEvent(w, req)
	assert.Equal(t, http.StatusConflict, w.Code, "recording requires a running acquisition")

	w = postForm(t, handleAcquisitionStart, "/api/acquisition/start", url.Values{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeState(t, w).Acquiring)

	req = httptest.NewRequest(http.MethodPost, "/api/events/record", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	handleRecordEvent(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var result RecordResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.True(t, result.Mapped)
	assert.True(t, result.Written)
	assert.Equal(t, "开始训练", result.Event.Name)

	req = httptest.NewRequest(http.MethodGet, "/api/events/record", nil)
	w = httptest.NewRecorder()
	handleRecordEvent(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = postForm(t, handleRecordEvent, "/api/events/record", url.Values{"code": {"nameless"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetStageEndpoint(t *testing.T) {
	setupTestHandlers(t)

	w := postForm(t, handleSetStage, "/api/stage", url.Values{"stage": {"2"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decodeState(t, w).Stage)

	w = postForm(t, handleSetStage, "/api/stage", url.Values{"stage": {"9"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "out of range")

	w = postForm(t, handleSetStage, "/api/stage", url.Values{"stage": {"abc"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rec := httptest.NewRecorder()
	handleState(rec, req)
	assert.Equal(t, 2, decodeState(t, rec).Stage, "rejected requests leave the stage untouched")
}

func TestSelectionEndpoint(t *testing.T) {
	setupTestHandlers(t)

	body := `{"axis":"rotation","weights":[1,0,1]}`
	req := httptest.NewRequest(http.MethodPost, "/api/selection", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handleSelection(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeState(t, w)
	assert.Equal(t, []bool{true, false, true}, st.Axes["rotation"].Selected)

	req = httptest.NewRequest(http.MethodPost, "/api/selection", strings.NewReader(`{"axis":"sideways","weights":[1]}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	handleSelection(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSensorCountEndpoint(t *testing.T) {
	e := setupTestHandlers(t)

	_, err := e.StartAcquisition()
	require.NoError(t, err)

	w := postForm(t, handleSensorCount, "/api/sensor-count", url.Values{"count": {"5"}})
	assert.Equal(t, http.StatusConflict, w.Code)

	_, err = e.StopAcquisition()
	require.NoError(t, err)

	w = postForm(t, handleSensorCount, "/api/sensor-count", url.Values{"count": {"5"}})
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeState(t, w)
	assert.Equal(t, 5, st.SensorCount)
	assert.Equal(t, 5, handlerFeed.Status().SensorCount)

	w = postForm(t, handleSensorCount, "/api/sensor-count", url.Values{"count": {"0"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorRangeEndpoint(t *testing.T) {
	setupTestHandlers(t)

	w := postForm(t, handleErrorRange, "/api/error-range", url.Values{"axis": {"curvature"}, "value": {"0.25"}})
	require.Equal(t, http.StatusOK, w.Code)
	st := decodeState(t, w)
	assert.InDelta(t, 0.25, st.Axes["curvature"].ErrorRange, 1e-9)

	w = postForm(t, handleErrorRange, "/api/error-range", url.Values{"axis": {"curvature"}, "value": {"1.5"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
