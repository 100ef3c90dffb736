// Package keyservice implements KeyService: the sole holder of the
// homomorphic secret key. It decrypts batched inner products
// on eyed.key.decrypt_batch, decodes one stored encrypted_v1 blob for
// admin visualization on eyed.key.decrypt_template, and answers
// eyed.key.health. No decrypted scalar is ever returned to a caller on
// decrypt_batch — only the aggregated match decision.
package keyservice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hasbegun/eyed/internal/bus"
	"github.com/hasbegun/eyed/internal/keycrypto"
)

// Service owns the secret key and answers the three eyed.key.* subjects.
type Service struct {
	bus    *bus.Client
	sk     *keycrypto.SecretKey
	logger *slog.Logger

	mu sync.Mutex // serializes decryption: one request at a time
}

// New creates a Service bound to a loaded secret key.
func New(c *bus.Client, sk *keycrypto.SecretKey, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{bus: c, sk: sk, logger: logger}
}

// Run subscribes to every eyed.key.* subject and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	batchSub, err := s.bus.Subscribe(bus.SubjectKeyDecryptBatch, s.handleDecryptBatch)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectKeyDecryptBatch, err)
	}
	defer batchSub.Unsubscribe()

	templateSub, err := s.bus.Subscribe(bus.SubjectKeyDecryptTemplate, s.handleDecryptTemplate)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectKeyDecryptTemplate, err)
	}
	defer templateSub.Unsubscribe()

	healthSub, err := s.bus.Subscribe(bus.SubjectKeyHealth, s.handleHealth)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectKeyHealth, err)
	}
	defer healthSub.Unsubscribe()

	s.logger.Info("keyservice request loop started")
	<-ctx.Done()
	s.logger.Info("keyservice request loop stopping")
	return nil
}

// handleDecryptBatch decrypts every candidate's inner product, reconstructs
// its fractional Hamming distance, and picks the best match below
// threshold. The engine sent ciphertexts and plaintext
// popcounts only; the decrypted scalars never leave this function.
func (s *Service) handleDecryptBatch(ctx context.Context, data []byte) (interface{}, error) {
	var req bus.KeyDecryptBatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode decrypt batch request: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	best := bus.KeyDecryptBatchResponse{IsMatch: false, HammingDistance: 1.0}

	for _, entry := range req.Entries {
		fhd, err := s.fractionalHammingDistance(entry)
		if err != nil {
			s.logger.Error("keyservice: skip candidate", "template_id", entry.TemplateID, "error", err)
			continue
		}
		if fhd < best.HammingDistance {
			best.HammingDistance = fhd
			best.MatchedIdentityID = entry.IdentityID
			best.MatchedIdentityName = entry.IdentityName
		}
	}

	best.IsMatch = best.HammingDistance < req.Threshold
	if !best.IsMatch {
		best.MatchedIdentityID = ""
		best.MatchedIdentityName = ""
	}
	return best, nil
}

func (s *Service) fractionalHammingDistance(entry bus.KeyDecryptBatchEntry) (float64, error) {
	if entry.TotalBits == 0 {
		return 0, fmt.Errorf("zero total_bits")
	}

	var totalIP, totalPopA, totalPopB int64
	for i, b64 := range entry.EncInnerProductsB64 {
		c, err := keycrypto.DecodeCiphertext(b64)
		if err != nil {
			return 0, fmt.Errorf("decode inner product %d: %w", i, err)
		}
		totalIP += keycrypto.Decrypt(s.sk, c)
		if i < len(entry.ProbeIrisPopcount) {
			totalPopA += int64(entry.ProbeIrisPopcount[i])
		}
		if i < len(entry.GalleryIrisPopcount) {
			totalPopB += int64(entry.GalleryIrisPopcount[i])
		}
	}

	fhd := float64(totalPopA+totalPopB-2*totalIP) / float64(entry.TotalBits)
	return fhd, nil
}

// handleDecryptTemplate decodes one persisted encrypted_v1 blob back into
// plaintext, for admin visualization only.
func (s *Service) handleDecryptTemplate(ctx context.Context, data []byte) (interface{}, error) {
	var req bus.KeyDecryptTemplateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode decrypt template request: %w", err)
	}

	blob, err := base64.StdEncoding.DecodeString(req.IrisCodeB64)
	if err != nil {
		return bus.KeyDecryptTemplateResponse{Error: "invalid iris_code_b64"}, nil
	}

	ciphertexts, _, err := keycrypto.DecodeEncryptedCode(blob)
	if err != nil {
		return bus.KeyDecryptTemplateResponse{Error: err.Error()}, nil
	}

	s.mu.Lock()
	plain := keycrypto.DecryptEncryptedCode(s.sk, ciphertexts)
	s.mu.Unlock()
	return bus.KeyDecryptTemplateResponse{
		IrisCodeB64: base64.StdEncoding.EncodeToString(plain),
		MaskCodeB64: req.MaskCodeB64, // masks are stored plaintext already
	}, nil
}

func (s *Service) handleHealth(ctx context.Context, data []byte) (interface{}, error) {
	return bus.KeyHealthResponse{Status: "ok", RingDimension: s.sk.Public.N.BitLen()}, nil
}
