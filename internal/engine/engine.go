// Package engine implements the Engine component: the bus request loop,
// pipeline dispatch, plaintext/encrypted matching, and the
// Cache->Drain->DB enrollment path.
package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hasbegun/eyed/internal/bus"
	"github.com/hasbegun/eyed/internal/cache"
	"github.com/hasbegun/eyed/internal/config"
	"github.com/hasbegun/eyed/internal/db"
	"github.com/hasbegun/eyed/internal/gallery"
	"github.com/hasbegun/eyed/internal/keycrypto"
	"github.com/hasbegun/eyed/internal/metrics"
	"github.com/hasbegun/eyed/internal/models"
	"github.com/hasbegun/eyed/internal/pipeline"
	"github.com/hasbegun/eyed/internal/pipelinepool"
)

// Engine ties together the pipeline pool, gallery, cache, store, and bus.
type Engine struct {
	cfg      config.Engine
	bus      *bus.Client
	pool     *pipelinepool.Pool
	pipeline pipeline.Pipeline
	gallery  *gallery.Gallery
	enc      *encryptedGallery
	cache    *cache.Cache
	store    *db.Store
	pubKey   *keycrypto.PublicKey
	logger   *slog.Logger

	requestsHandled atomic.Uint64
	requestsFailed  atomic.Uint64
}

// Dependencies bundles the Engine's constructed collaborators, assembled
// by cmd/engine's main().
type Dependencies struct {
	Config   config.Engine
	Bus      *bus.Client
	Pool     *pipelinepool.Pool
	Pipeline pipeline.Pipeline
	Gallery  *gallery.Gallery
	Cache    *cache.Cache
	Store    *db.Store
	PubKey   *keycrypto.PublicKey // nil unless cfg.HEEnabled
	Logger   *slog.Logger
}

// New builds an Engine ready to Run.
func New(d Dependencies) *Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      d.Config,
		bus:      d.Bus,
		pool:     d.Pool,
		pipeline: d.Pipeline,
		gallery:  d.Gallery,
		enc:      newEncryptedGallery(),
		cache:    d.Cache,
		store:    d.Store,
		pubKey:   d.PubKey,
		logger:   logger,
	}
}

// Run subscribes to eyed.analyze and eyed.enroll and blocks until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	analyzeSub, err := e.bus.Subscribe(bus.SubjectAnalyze, e.handleAnalyze)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectAnalyze, err)
	}
	defer analyzeSub.Unsubscribe()

	enrollSub, err := e.bus.Subscribe(bus.SubjectEnroll, e.handleEnroll)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectEnroll, err)
	}
	defer enrollSub.Unsubscribe()

	batchSub, err := e.bus.SubscribeRaw(bus.SubjectEnrollBatch, e.handleEnrollBatch)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectEnrollBatch, err)
	}
	defer batchSub.Unsubscribe()

	healthSub, err := e.bus.Subscribe(bus.SubjectEngineHealth, e.handleHealth)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectEngineHealth, err)
	}
	defer healthSub.Unsubscribe()

	e.logger.Info("engine request loop started")
	<-ctx.Done()
	e.logger.Info("engine request loop stopping")
	return nil
}

// LoadGallery rebuilds the in-memory matching gallery from the DB's
// durable template rows, called once by cmd/engine before Run so a
// restart doesn't forget every previously enrolled identity.
func (e *Engine) LoadGallery(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	identities, err := e.store.ListIdentities(ctx)
	if err != nil {
		return fmt.Errorf("load identities: %w", err)
	}
	names := make(map[string]string, len(identities))
	for _, id := range identities {
		names[id.IdentityID] = id.Name
	}

	rows, err := e.store.ListTemplates(ctx)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}

	loaded := 0
	for _, row := range rows {
		name := names[row.IdentityID]
		if row.Format == string(models.FormatEncryptedV1) {
			if !e.cfg.HEEnabled {
				continue
			}
			ciphertexts, popcount, err := keycrypto.DecodeEncryptedCode(row.IrisCodes)
			if err != nil {
				e.logger.Warn("engine: skip undecodable encrypted template", "template_id", row.TemplateID, "error", err)
				continue
			}
			e.enc.addCiphertexts(row.TemplateID, row.IdentityID, name, ciphertexts, popcount)
		} else {
			if e.cfg.HEEnabled {
				continue
			}
			e.gallery.Add(gallery.Entry{
				TemplateID:   row.TemplateID,
				IdentityID:   row.IdentityID,
				IdentityName: name,
				IrisCode:     row.IrisCodes,
				MaskCode:     row.MaskCodes,
			})
		}
		loaded++
	}

	e.logger.Info("engine: gallery loaded from db", "templates", loaded)
	return nil
}

// GallerySize reports the active gallery's size for /engine/health/ready:
// the encrypted gallery when HE is enabled, the plaintext one otherwise.
func (e *Engine) GallerySize() int {
	size := e.gallery.Size()
	if e.cfg.HEEnabled {
		size = e.enc.size()
	}
	metrics.GallerySize.Set(float64(size))
	return size
}

// handleHealth answers SubjectEngineHealth for the Gateway's
// /engine/health/ready probe.
func (e *Engine) handleHealth(ctx context.Context, data []byte) (interface{}, error) {
	degraded := false
	if e.cache != nil {
		degraded = e.cache.Degraded()
	}
	return bus.EngineHealthResponse{
		Ready:          true,
		PipelineLoaded: e.pipeline != nil,
		GallerySize:    e.GallerySize(),
		DBConnected:    e.store != nil,
		CacheDegraded:  degraded,
	}, nil
}

// handleAnalyze runs decode -> pipeline -> match -> publish for one
// analyze request, replying on the bus if the caller used Request (REST
// /analyze) and always publishing eyed.result for fan-out subscribers.
func (e *Engine) handleAnalyze(ctx context.Context, data []byte) (interface{}, error) {
	var req bus.AnalyzeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		e.requestsFailed.Add(1)
		return nil, fmt.Errorf("decode analyze request: %w", err)
	}

	start := time.Now()
	result := e.runAnalyze(ctx, req)
	elapsed := time.Since(start)
	result.LatencyMS = float64(elapsed.Microseconds()) / 1000.0
	metrics.AnalyzeLatencySeconds.Observe(elapsed.Seconds())

	e.publishResult(result)

	if result.Error != "" {
		metrics.AnalyzeRequests.WithLabelValues("error").Inc()
		return bus.AnalyzeResponse{FrameID: req.FrameID, DeviceID: req.DeviceID, Accepted: false, Error: result.Error}, nil
	}
	metrics.AnalyzeRequests.WithLabelValues("ok").Inc()
	return bus.AnalyzeResponse{FrameID: req.FrameID, DeviceID: req.DeviceID, Accepted: true, LatencyMS: result.LatencyMS}, nil
}

// runAnalyze decodes, pipelines, and matches one frame. Every exit path
// releases the pool worker it acquired.
func (e *Engine) runAnalyze(ctx context.Context, req bus.AnalyzeRequest) *models.AnalysisResult {
	frameID, _ := strconv.ParseUint(req.FrameID, 10, 64)
	result := &models.AnalysisResult{FrameID: frameID, DeviceID: req.DeviceID, CorrelationID: req.FrameID}

	jpegData, err := base64.StdEncoding.DecodeString(req.JPEGB64)
	if err != nil {
		result.Error = "invalid jpeg_b64 payload"
		return result
	}

	acquireCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	worker, err := e.pool.Acquire(acquireCtx)
	if err != nil {
		e.requestsFailed.Add(1)
		result.Error = fmt.Sprintf("pool exhausted, queue_depth=%d", e.pool.Stats().Active)
		return result
	}
	defer e.pool.Release(worker)

	pr, err := e.pipeline.Analyze(ctx, jpegData, models.EyeSide(req.EyeSide), req.Detailed)
	if err != nil {
		e.requestsFailed.Add(1)
		result.Error = err.Error()
		return result
	}
	if pr.Error != "" {
		result.Error = pr.Error
		e.requestsHandled.Add(1)
		return result
	}

	match, err := e.match(ctx, pr.Template)
	if err != nil {
		e.requestsFailed.Add(1)
		result.Error = fmt.Sprintf("matching failed: %v", err)
		return result
	}
	result.Match = match
	e.requestsHandled.Add(1)

	go e.logMatch(result)
	return result
}

func (e *Engine) match(ctx context.Context, probe *models.IrisTemplate) (*models.MatchInfo, error) {
	if e.cfg.HEEnabled {
		return e.matchEncrypted(ctx, probe)
	}
	return e.matchPlaintext(probe), nil
}

func (e *Engine) matchPlaintext(probe *models.IrisTemplate) *models.MatchInfo {
	m := gallery.Search(probe.IrisCode, probe.MaskCode, e.gallery.Snapshot(), e.cfg.RotationShift, e.cfg.MatchThreshold)
	return &models.MatchInfo{
		HammingDistance:     m.Distance,
		IsMatch:             m.Found,
		MatchedIdentityID:   m.IdentityID,
		MatchedIdentityName: m.IdentityName,
		BestRotation:        m.Rotation,
	}
}

func (e *Engine) publishResult(result *models.AnalysisResult) {
	if err := e.bus.Publish(bus.SubjectResult, result); err != nil {
		e.logger.Error("engine: failed to publish result", "error", err)
	}
}

func (e *Engine) logMatch(result *models.AnalysisResult) {
	if e.store == nil || result.Match == nil {
		return
	}
	row := db.MatchLogRow{
		FrameID:           result.FrameID,
		DeviceID:          result.DeviceID,
		IsMatch:           result.Match.IsMatch,
		MatchedIdentityID: result.Match.MatchedIdentityID,
		HammingDistance:   result.Match.HammingDistance,
		CreatedAt:         time.Now().Format(time.RFC3339),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.store.InsertMatchLog(ctx, row); err != nil {
		e.logger.Warn("engine: match log insert failed", "error", err)
	}
}

// handleEnroll runs pipeline, dedup, then cache handoff for one enrollment.
func (e *Engine) handleEnroll(ctx context.Context, data []byte) (interface{}, error) {
	var req bus.EnrollRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode enroll request: %w", err)
	}

	resp := e.runEnroll(ctx, req)
	return resp, nil
}

func (e *Engine) runEnroll(ctx context.Context, req bus.EnrollRequest) bus.EnrollResponse {
	jpegData, err := base64.StdEncoding.DecodeString(req.JPEGB64)
	if err != nil {
		return bus.EnrollResponse{Error: "invalid jpeg_b64 payload"}
	}

	acquireCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	worker, err := e.pool.Acquire(acquireCtx)
	if err != nil {
		return bus.EnrollResponse{Error: "pool exhausted"}
	}
	defer e.pool.Release(worker)

	pr, err := e.pipeline.Analyze(ctx, jpegData, models.EyeSide(req.EyeSide), false)
	if err != nil {
		return bus.EnrollResponse{Error: err.Error()}
	}
	if pr.Error != "" {
		return bus.EnrollResponse{Error: pr.Error}
	}
	tpl := pr.Template

	if !e.cfg.HEEnabled {
		if exact, ok := e.gallery.ExactMatch(tpl.IrisCode, tpl.MaskCode); ok {
			return bus.EnrollResponse{
				IsDuplicate:           true,
				DuplicateIdentityID:   exact.IdentityID,
				DuplicateIdentityName: exact.IdentityName,
			}
		}
		dup := gallery.Search(tpl.IrisCode, tpl.MaskCode, e.gallery.Snapshot(), e.cfg.RotationShift, e.cfg.DedupThreshold)
		if dup.Found {
			return bus.EnrollResponse{
				IsDuplicate:           true,
				DuplicateIdentityID:   dup.IdentityID,
				DuplicateIdentityName: dup.IdentityName,
			}
		}
	}

	identity, err := e.store.GetOrCreateIdentity(ctx, req.IdentityID, req.Name)
	if err != nil {
		return bus.EnrollResponse{Error: fmt.Sprintf("identity lookup failed: %v", err)}
	}

	tpl.TemplateID = uuid.New().String()
	tpl.IdentityID = identity.IdentityID
	tpl.DeviceID = req.DeviceID
	tpl.CreatedAt = time.Now().UTC()

	if e.cfg.HEEnabled {
		plainIrisCode := tpl.IrisCode
		e.enc.add(tpl, identity.Name, plainIrisCode, e.pubKey)

		blob, err := keycrypto.EncodeEncryptedCode(e.pubKey, bitsOf(plainIrisCode))
		if err != nil {
			return bus.EnrollResponse{Error: fmt.Sprintf("encrypt template failed: %v", err)}
		}
		tpl.IrisCode = blob
		tpl.Format = models.FormatEncryptedV1
	} else {
		e.gallery.Add(gallery.ToEntry(tpl, identity.Name))
	}

	if err := e.cache.Put(ctx, tpl); err != nil {
		return bus.EnrollResponse{Error: fmt.Sprintf("cache put failed: %v", err)}
	}

	return bus.EnrollResponse{IdentityID: identity.IdentityID, TemplateID: tpl.TemplateID}
}
