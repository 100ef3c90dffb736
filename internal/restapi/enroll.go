package restapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hasbegun/eyed/internal/bus"
)

func handleEnroll(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bus.EnrollRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.JPEGB64 == "" || req.EyeSide == "" {
			writeError(w, http.StatusBadRequest, "jpeg_b64 and eye_side are required")
			return
		}

		if !d.Breaker.Allow() {
			writeError(w, http.StatusServiceUnavailable, "circuit breaker open")
			return
		}

		var resp bus.EnrollResponse
		if err := d.Bus.Request(r.Context(), bus.SubjectEnroll, req, &resp, busTimeout(d)); err != nil {
			d.Breaker.RecordFailure()
			writeError(w, http.StatusGatewayTimeout, "engine unreachable: "+err.Error())
			return
		}
		d.Breaker.RecordSuccess()

		writeJSON(w, http.StatusOK, resp)
	}
}

// enrollBatchBody is the /enroll/batch request: an explicit path list (from
// a prior POST /datasets/paths or a client-side walk), since the Gateway
// itself only has read access to whatever directories config.Gateway's
// dataset root exposes.
type enrollBatchBody struct {
	Paths    []string `json:"paths"`
	DeviceID string   `json:"device_id"`
}

// handleEnrollBatch streams BulkEnrollResult events as SSE `data:` frames,
// ending with one `event: done` frame carrying the summary.
// cancelling the request (client disconnect) propagates through
// RequestStream's ctx and stops the Engine's walk promptly.
func handleEnrollBatch(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body enrollBatchBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(body.Paths) == 0 {
			writeError(w, http.StatusBadRequest, "paths must be non-empty")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ctx := r.Context()
		req := bus.EnrollBatchRequest{Paths: body.Paths, DeviceID: body.DeviceID}
		stream, err := d.Bus.RequestStream(ctx, bus.SubjectEnrollBatch, req)
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: {\"error\":%q}\n\n", err.Error())
			flusher.Flush()
			return
		}

		for {
			select {
			case raw, ok := <-stream:
				if !ok {
					return
				}
				var event bus.EnrollBatchEvent
				if err := json.Unmarshal(raw, &event); err != nil {
					continue
				}
				if event.Summary != nil {
					data, _ := json.Marshal(event.Summary)
					fmt.Fprintf(w, "event: done\ndata: %s\n\n", data)
					flusher.Flush()
					return
				}
				data, _ := json.Marshal(event.Result)
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()

			case <-ctx.Done():
				return
			}
		}
	}
}
