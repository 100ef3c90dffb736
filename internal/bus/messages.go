package bus

import "github.com/hasbegun/eyed/internal/models"

// AnalyzeRequest is published on SubjectAnalyze by the Gateway and
// consumed by the Engine.
type AnalyzeRequest struct {
	FrameID      string  `json:"frame_id"`
	DeviceID     string  `json:"device_id"`
	JPEGB64      string  `json:"jpeg_b64"`
	EyeSide      string  `json:"eye_side"`
	IsNIR        bool    `json:"is_nir"`
	QualityScore float64 `json:"quality_score"`
	Timestamp    string  `json:"timestamp"`
	Detailed     bool    `json:"detailed,omitempty"`
}

// AnalyzeResponse is the synchronous reply to an AnalyzeRequest, used by
// the REST surface's /analyze and /analyze/detailed (the async path for
// capture devices instead subscribes to SubjectResult).
type AnalyzeResponse struct {
	FrameID   string  `json:"frame_id"`
	DeviceID  string  `json:"device_id"`
	Accepted  bool    `json:"accepted"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// EnrollRequest is published on SubjectEnroll.
type EnrollRequest struct {
	JPEGB64    string `json:"jpeg_b64"`
	EyeSide    string `json:"eye_side"`
	IdentityID string `json:"identity_id,omitempty"`
	Name       string `json:"name"`
	DeviceID   string `json:"device_id"`
}

// EnrollResponse is the reply to an EnrollRequest.
type EnrollResponse struct {
	IdentityID           string `json:"identity_id,omitempty"`
	TemplateID           string `json:"template_id,omitempty"`
	IsDuplicate          bool   `json:"is_duplicate"`
	DuplicateIdentityID  string `json:"duplicate_identity_id,omitempty"`
	DuplicateIdentityName string `json:"duplicate_identity_name,omitempty"`
	Error                string `json:"error,omitempty"`
}

// EnrollBatchRequest is published on SubjectEnrollBatch to start a bulk
// enrollment walk.
type EnrollBatchRequest struct {
	Paths    []string `json:"paths"`
	DeviceID string   `json:"device_id"`
}

// EnrollBatchEvent is one message streamed back to SubjectEnrollBatch's
// reply inbox: either a per-image result, or, exactly once at the end, the
// terminal summary.
type EnrollBatchEvent struct {
	Result  *models.BulkEnrollResult  `json:"result,omitempty"`
	Summary *models.BulkEnrollSummary `json:"summary,omitempty"`
}

// KeyDecryptBatchEntry is one candidate in an encrypted-match batch.
type KeyDecryptBatchEntry struct {
	TemplateID            string   `json:"template_id"`
	IdentityID             string   `json:"identity_id"`
	IdentityName           string   `json:"identity_name,omitempty"`
	EncInnerProductsB64    []string `json:"enc_inner_products_b64"`
	ProbeIrisPopcount      []int    `json:"probe_iris_popcount"`
	GalleryIrisPopcount    []int    `json:"gallery_iris_popcount"`
	TotalBits              int      `json:"total_bits"`
}

// KeyDecryptBatchRequest is published on SubjectKeyDecryptBatch.
type KeyDecryptBatchRequest struct {
	Threshold float64                `json:"threshold"`
	Entries   []KeyDecryptBatchEntry `json:"entries"`
}

// KeyDecryptBatchResponse is KeyService's aggregated match decision.
type KeyDecryptBatchResponse struct {
	IsMatch             bool    `json:"is_match"`
	HammingDistance     float64 `json:"hamming_distance"`
	MatchedIdentityID   string  `json:"matched_identity_id,omitempty"`
	MatchedIdentityName string  `json:"matched_identity_name,omitempty"`
	Error               string  `json:"error,omitempty"`
}

// KeyDecryptTemplateRequest asks KeyService to decode one encrypted
// template for admin visualization.
type KeyDecryptTemplateRequest struct {
	IrisCodeB64 string `json:"iris_code_b64"`
	MaskCodeB64 string `json:"mask_code_b64"`
}

// KeyDecryptTemplateResponse carries the decoded plaintext code arrays.
type KeyDecryptTemplateResponse struct {
	IrisCodeB64 string `json:"iris_code_b64"`
	MaskCodeB64 string `json:"mask_code_b64"`
	Error       string `json:"error,omitempty"`
}

// KeyHealthResponse answers SubjectKeyHealth.
type KeyHealthResponse struct {
	Status        string `json:"status"`
	RingDimension int    `json:"ring_dimension"`
}

// EngineHealthResponse answers SubjectEngineHealth for GET
// /engine/health/ready.
type EngineHealthResponse struct {
	Ready          bool `json:"ready"`
	PipelineLoaded bool `json:"pipeline_loaded"`
	GallerySize    int  `json:"gallery_size"`
	DBConnected    bool `json:"db_connected"`
	CacheDegraded  bool `json:"cache_degraded"`
}
