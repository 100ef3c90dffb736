package restapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hasbegun/eyed/internal/bus"
)

// analyzeBody is the REST surface's /analyze request shape; frame_id is
// optional and the timestamp is always set by the Gateway, since REST
// callers submit a single image rather than a capture device's frame stream.
type analyzeBody struct {
	JPEGB64  string `json:"jpeg_b64"`
	EyeSide  string `json:"eye_side"`
	DeviceID string `json:"device_id"`
	FrameID  string `json:"frame_id,omitempty"`
}

func handleAnalyze(d Deps, detailed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body analyzeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.JPEGB64 == "" || body.EyeSide == "" {
			writeError(w, http.StatusBadRequest, "jpeg_b64 and eye_side are required")
			return
		}

		if !d.Breaker.Allow() {
			writeError(w, http.StatusServiceUnavailable, "circuit breaker open")
			return
		}

		frameID := body.FrameID
		if frameID == "" {
			frameID = strconv.FormatInt(time.Now().UnixNano(), 10)
		}

		req := bus.AnalyzeRequest{
			FrameID:   frameID,
			DeviceID:  body.DeviceID,
			JPEGB64:   body.JPEGB64,
			EyeSide:   body.EyeSide,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Detailed:  detailed,
		}

		var resp bus.AnalyzeResponse
		if err := d.Bus.Request(r.Context(), bus.SubjectAnalyze, req, &resp, busTimeout(d)); err != nil {
			d.Breaker.RecordFailure()
			writeError(w, http.StatusGatewayTimeout, "engine unreachable: "+err.Error())
			return
		}
		d.Breaker.RecordSuccess()

		writeJSON(w, http.StatusOK, resp)
	}
}
