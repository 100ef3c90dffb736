// Package models holds the data types shared across EyeD's core
// components. Blobs (iris/mask codes) are opaque here — the analysis
// pipeline and the key service are the only components that interpret
// their bits.
package models

import "time"

// EyeSide is left or right.
type EyeSide string

const (
	EyeLeft  EyeSide = "left"
	EyeRight EyeSide = "right"
)

// TemplateFormat tags how IrisTemplate blobs are encoded.
type TemplateFormat string

const (
	FormatPlain       TemplateFormat = "plain"
	FormatEncryptedV1 TemplateFormat = "encrypted_v1"
)

// HEv1Magic prefixes an encrypted_v1 blob so admin tooling can tell the
// two formats apart without decoding them.
const HEv1Magic = "HEv1"

// Frame is one capture off a device, owned by the Gateway until it is
// published to the bus and then by the Engine until a result is emitted.
type Frame struct {
	FrameID      uint64    `json:"frame_id"`
	DeviceID     string    `json:"device_id"`
	JPEGData     []byte    `json:"-"`
	EyeSide      EyeSide   `json:"eye_side"`
	IsNIR        bool      `json:"is_nir"`
	QualityScore float64   `json:"quality_score"`
	TimestampUS  uint64    `json:"timestamp_us"`
	ReceivedAt   time.Time `json:"received_at"`
}

// MatchInfo is the outcome of gallery matching, plaintext or encrypted.
type MatchInfo struct {
	HammingDistance       float64 `json:"hamming_distance"`
	IsMatch               bool    `json:"is_match"`
	MatchedIdentityID     string  `json:"matched_identity_id,omitempty"`
	MatchedIdentityName   string  `json:"matched_identity_name,omitempty"`
	BestRotation          int     `json:"best_rotation"`
}

// AnalysisResult is produced by the Engine and fanned out to every
// connected UI client by the Gateway.
type AnalysisResult struct {
	FrameID       uint64     `json:"frame_id"`
	DeviceID      string     `json:"device_id"`
	Match         *MatchInfo `json:"match,omitempty"`
	LatencyMS     float64    `json:"latency_ms"`
	Error         string     `json:"error,omitempty"`
	CorrelationID string     `json:"correlation_id"`
}

// IrisTemplate is the durable record of one enrolled eye.
type IrisTemplate struct {
	TemplateID   string         `json:"template_id"`
	IdentityID   string         `json:"identity_id"`
	EyeSide      EyeSide        `json:"eye_side"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	NScales      int            `json:"n_scales"`
	QualityScore float64        `json:"quality_score"`
	DeviceID     string         `json:"device_id"`
	IrisCode     []byte         `json:"-"`
	MaskCode     []byte         `json:"-"`
	Format       TemplateFormat `json:"format"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Identity groups one or more templates under a display name.
type Identity struct {
	IdentityID  string    `json:"identity_id"`
	Name        string    `json:"name"`
	TemplateIDs []string  `json:"template_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// BulkEnrollResult is one SSE event emitted while walking a dataset.
type BulkEnrollResult struct {
	Index      int    `json:"index"`
	Path       string `json:"path"`
	IdentityID string `json:"identity_id,omitempty"`
	TemplateID string `json:"template_id,omitempty"`
	Duplicate  bool   `json:"is_duplicate"`
	Error      string `json:"error,omitempty"`
}

// BulkEnrollSummary terminates a bulk-enroll SSE stream.
type BulkEnrollSummary struct {
	Total      int `json:"total"`
	Enrolled   int `json:"enrolled"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}
