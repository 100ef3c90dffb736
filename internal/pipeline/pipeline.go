// Package pipeline defines the narrow, opaque boundary between EyeD's
// orchestration core and the biometric analysis itself (segmentation and
// Gabor encoding live behind it). Callers depend only on Pipeline; Stub
// is a deterministic placeholder standing in for the real ONNX-backed
// implementation so the rest of the core can be built, wired, and tested
// against a concrete result shape. Pipeline outcome is data, not a panic.
package pipeline

import (
	"context"
	"crypto/sha256"

	"github.com/hasbegun/eyed/internal/models"
)

// Result is the pipeline's explicit outcome type: either a Template or an
// Error, never both, never a panic.
type Result struct {
	Template *models.IrisTemplate
	Error    string
}

// Pipeline turns raw frame bytes into an iris template, or a human-readable
// failure reason. A failed image is not a failed system: the error travels
// in the result, not as a transport fault.
type Pipeline interface {
	Analyze(ctx context.Context, frame []byte, eyeSide models.EyeSide, detailed bool) (Result, error)
}

// Stub is a deterministic Pipeline used until the real analysis backend is
// wired in. It derives a fixed-length bit code from the frame's digest so
// that identical input frames always match each other during integration
// tests, without depending on any actual iris biometrics.
type Stub struct {
	CodeBits int
}

// NewStub builds a Stub producing codeBits-sized iris/mask codes (defaults
// to 2048 if codeBits <= 0, a typical iris-code length).
func NewStub(codeBits int) *Stub {
	if codeBits <= 0 {
		codeBits = 2048
	}
	return &Stub{CodeBits: codeBits}
}

// Analyze implements Pipeline. An empty frame is treated as a pipeline
// failure (stand-in for "segmentation could not locate iris").
func (s *Stub) Analyze(ctx context.Context, frame []byte, eyeSide models.EyeSide, detailed bool) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	if len(frame) == 0 {
		return Result{Error: "segmentation failed: no iris region located"}, nil
	}

	irisCode := expandDigest(frame, s.CodeBits)
	maskCode := allOnes(s.CodeBits)

	tpl := &models.IrisTemplate{
		IrisCode:     irisCode,
		MaskCode:     maskCode,
		QualityScore: estimateQuality(frame),
		EyeSide:      eyeSide,
		Format:       models.FormatPlain,
	}
	return Result{Template: tpl}, nil
}

// expandDigest repeats a SHA-256 digest of data until it covers bits,
// giving a stable, content-derived bit string without any real feature
// extraction.
func expandDigest(data []byte, bits int) []byte {
	nbytes := (bits + 7) / 8
	out := make([]byte, 0, nbytes)
	seed := data
	for len(out) < nbytes {
		sum := sha256.Sum256(seed)
		out = append(out, sum[:]...)
		seed = sum[:]
	}
	return out[:nbytes]
}

func allOnes(bits int) []byte {
	nbytes := (bits + 7) / 8
	out := make([]byte, nbytes)
	for i := range out {
		out[i] = 0xFF
	}
	return out
}

// estimateQuality is a crude, deterministic stand-in for a real sharpness
// metric: larger frames score higher, capped at 1.0.
func estimateQuality(frame []byte) float64 {
	q := float64(len(frame)) / 65536.0
	if q > 1.0 {
		q = 1.0
	}
	return q
}
