package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasbegun/eyed/internal/breaker"
	"github.com/hasbegun/eyed/internal/bus"
	"github.com/hasbegun/eyed/internal/config"
	"github.com/hasbegun/eyed/internal/health"
	"github.com/hasbegun/eyed/internal/models"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded nats server did not become ready")
	}
	t.Cleanup(srv.Shutdown)

	return srv.ClientURL()
}

func connect(t *testing.T, url string) *bus.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := bus.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// newTestRouter wires a full router against an embedded NATS server with
// no database: enough surface for every handler that stops at the bus.
func newTestRouter(t *testing.T) (http.Handler, *bus.Client, Deps) {
	t.Helper()
	url := startTestServer(t)
	gatewayBus := connect(t, url)
	engineBus := connect(t, url)

	d := Deps{
		Config: config.Gateway{
			BusRequestTimeout: 2 * time.Second,
			DatasetRoot:       t.TempDir(),
			Version:           "test",
		},
		Bus:     gatewayBus,
		Breaker: breaker.New(breaker.Config{Name: "engine", FailureThreshold: 1, Cooldown: time.Minute}),
		Gateway: &health.GatewayChecker{Bus: gatewayBus, Breaker: breaker.New(breaker.DefaultConfig("engine")), Version: "test"},
	}
	d.EnginePing = health.NewEnginePing(gatewayBus, time.Minute)
	return NewRouter(d), engineBus, d
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAlive(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := get(t, h, "/health/alive")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["alive"])
}

func TestHealthReady_ReportsBusAndBreaker(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := get(t, h, "/health/ready")

	assert.Equal(t, http.StatusOK, rec.Code)
	var status health.GatewayStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Alive)
	assert.True(t, status.NATSConnected)
	assert.Equal(t, "closed", status.CircuitBreaker)
	assert.Equal(t, "test", status.Version)
}

func TestAnalyze_MissingFieldsRejected(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := postJSON(t, h, "/analyze", map[string]string{"device_id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyze_BreakerOpenSheds(t *testing.T) {
	h, _, d := newTestRouter(t)
	d.Breaker.RecordFailure() // threshold 1: closed -> open

	rec := postJSON(t, h, "/analyze", map[string]string{
		"jpeg_b64": "aGVsbG8=",
		"eye_side": "left",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "circuit breaker open")
}

func TestAnalyze_RoundTripsThroughBus(t *testing.T) {
	h, engineBus, _ := newTestRouter(t)

	sub, err := engineBus.Subscribe(bus.SubjectAnalyze, func(ctx context.Context, data []byte) (interface{}, error) {
		var req bus.AnalyzeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return bus.AnalyzeResponse{FrameID: req.FrameID, DeviceID: req.DeviceID, Accepted: true, LatencyMS: 1.5}, nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	rec := postJSON(t, h, "/analyze", map[string]string{
		"jpeg_b64":  "aGVsbG8=",
		"eye_side":  "left",
		"device_id": "rest-01",
		"frame_id":  "42",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp bus.AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, "42", resp.FrameID)
	assert.Equal(t, "rest-01", resp.DeviceID)
}

func TestEnroll_RoundTripsThroughBus(t *testing.T) {
	h, engineBus, _ := newTestRouter(t)

	sub, err := engineBus.Subscribe(bus.SubjectEnroll, func(ctx context.Context, data []byte) (interface{}, error) {
		return bus.EnrollResponse{IdentityID: "ID-A", TemplateID: "tpl-1"}, nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	rec := postJSON(t, h, "/enroll", map[string]string{
		"jpeg_b64": "aGVsbG8=",
		"eye_side": "left",
		"name":     "Alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp bus.EnrollResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ID-A", resp.IdentityID)
	assert.Equal(t, "tpl-1", resp.TemplateID)
}

func TestEnrollBatch_StreamsSSEThenDone(t *testing.T) {
	h, engineBus, _ := newTestRouter(t)

	sub, err := engineBus.SubscribeRaw(bus.SubjectEnrollBatch, func(ctx context.Context, data []byte, reply string) {
		for i := 0; i < 2; i++ {
			engineBus.Publish(reply, bus.EnrollBatchEvent{
				Result: &models.BulkEnrollResult{Index: i, Path: "img.jpg", IdentityID: "ID-A"},
			})
		}
		engineBus.Publish(reply, bus.EnrollBatchEvent{
			Summary: &models.BulkEnrollSummary{Total: 2, Enrolled: 2},
		})
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// SSE needs a real server: httptest.ResponseRecorder's Flush doesn't
	// unblock a streaming client the way a live connection does.
	srv := httptest.NewServer(h)
	defer srv.Close()

	body, err := json.Marshal(map[string]interface{}{
		"paths":     []string{"a.jpg", "b.jpg"},
		"device_id": "rest-01",
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/enroll/batch", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(raw)

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, 2, strings.Count(text, "data: {\"index\""))
	assert.Contains(t, text, "event: done")
	assert.Contains(t, text, `"enrolled":2`)
}

func TestEnrollBatch_EmptyPathsRejected(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := postJSON(t, h, "/enroll/batch", map[string]interface{}{"paths": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGallery_WithoutStoreIsUnavailable(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := get(t, h, "/gallery")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDatasets_ListsAndResolvesPaths(t *testing.T) {
	h, _, d := newTestRouter(t)

	subjectDir := filepath.Join(d.Config.DatasetRoot, "casia", "s001")
	require.NoError(t, os.MkdirAll(subjectDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(subjectDir, "001_1_1.jpg"), []byte("jpeg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(subjectDir, "notes.txt"), []byte("skip"), 0o644))

	rec := get(t, h, "/datasets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "casia")

	rec = get(t, h, "/datasets/casia/subjects")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "s001")

	rec = postJSON(t, h, "/datasets/paths", map[string]interface{}{"dataset": "casia"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Paths []string `json:"paths"`
		Count int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Paths, 1)
	assert.True(t, strings.HasSuffix(resp.Paths[0], "001_1_1.jpg"))
}

func TestResolveDatasetPath_RejectsTraversal(t *testing.T) {
	_, ok := resolveDatasetPath("/data/datasets", "..", "etc")
	assert.False(t, ok)

	_, ok = resolveDatasetPath("/data/datasets", "casia/../../../etc")
	assert.False(t, ok)

	path, ok := resolveDatasetPath("/data/datasets", "casia", "s001")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join("/data/datasets", "casia", "s001"), path)
}
