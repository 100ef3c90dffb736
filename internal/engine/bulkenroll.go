package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"sync"

	"github.com/hasbegun/eyed/internal/bus"
	"github.com/hasbegun/eyed/internal/models"
)

// handleEnrollBatch is the SubjectEnrollBatch handler: it streams one
// EnrollBatchEvent per image to reply, then a final one carrying the
// summary.
func (e *Engine) handleEnrollBatch(ctx context.Context, data []byte, reply string) {
	if reply == "" {
		return
	}

	var req bus.EnrollBatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		e.logger.Error("engine: decode enroll batch request", "error", err)
		return
	}

	summary := e.BulkEnroll(ctx, req.Paths, req.DeviceID, func(result models.BulkEnrollResult) {
		e.publishBatchEvent(reply, bus.EnrollBatchEvent{Result: &result})
	})
	e.publishBatchEvent(reply, bus.EnrollBatchEvent{Summary: &summary})
}

func (e *Engine) publishBatchEvent(reply string, event bus.EnrollBatchEvent) {
	if err := e.bus.Publish(reply, event); err != nil {
		e.logger.Error("engine: publish enroll batch event failed", "error", err)
	}
}

// BulkEnroll walks paths, enrolling each image, invoking onResult as each
// one finishes so the REST layer can stream it out over SSE. Work is
// bounded by the pipeline pool's size; cancelling ctx
// (client disconnect) stops the walk promptly rather than draining the
// full path list.
func (e *Engine) BulkEnroll(ctx context.Context, paths []string, deviceID string, onResult func(models.BulkEnrollResult)) models.BulkEnrollSummary {
	summary := models.BulkEnrollSummary{Total: len(paths)}
	var mu sync.Mutex

	workers := e.pool.Stats().Capacity
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				result := e.enrollOnePath(ctx, idx, paths[idx], deviceID)

				mu.Lock()
				switch {
				case result.Error != "":
					summary.Errors++
				case result.Duplicate:
					summary.Duplicates++
				default:
					summary.Enrolled++
				}
				mu.Unlock()

				onResult(result)
			}
		}()
	}

feed:
	for idx := range paths {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	return summary
}

func (e *Engine) enrollOnePath(ctx context.Context, index int, path, deviceID string) models.BulkEnrollResult {
	result := models.BulkEnrollResult{Index: index, Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	req := bus.EnrollRequest{
		JPEGB64:  base64.StdEncoding.EncodeToString(data),
		EyeSide:  string(models.EyeLeft),
		DeviceID: deviceID,
		Name:     path,
	}
	resp := e.runEnroll(ctx, req)

	result.IdentityID = resp.IdentityID
	result.TemplateID = resp.TemplateID
	result.Duplicate = resp.IsDuplicate
	result.Error = resp.Error
	return result
}
