package engine

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hasbegun/eyed/internal/bus"
	"github.com/hasbegun/eyed/internal/keycrypto"
	"github.com/hasbegun/eyed/internal/metrics"
	"github.com/hasbegun/eyed/internal/models"
)

// encryptedEntry is one gallery candidate in encrypted mode: the Engine
// stores per-bit ciphertexts and the gallery-side plaintext popcount,
// never a decrypted scalar.
type encryptedEntry struct {
	TemplateID   string
	IdentityID   string
	IdentityName string
	EncIrisBits  []*big.Int
	Popcount     int
	TotalBits    int
}

type encryptedSnapshot struct {
	entries []encryptedEntry
}

// encryptedGallery is the copy-on-modify analogue of gallery.Gallery for
// encrypted mode, mirroring its atomic-pointer-swap discipline.
type encryptedGallery struct {
	mu      sync.Mutex
	current atomic.Pointer[encryptedSnapshot]
}

func newEncryptedGallery() *encryptedGallery {
	g := &encryptedGallery{}
	g.current.Store(&encryptedSnapshot{})
	return g
}

func (g *encryptedGallery) snapshot() []encryptedEntry {
	return g.current.Load().entries
}

func (g *encryptedGallery) size() int {
	return len(g.current.Load().entries)
}

// add encrypts irisCode bit-by-bit under pk and appends it. irisCode is
// taken as an explicit parameter (rather than read from tpl.IrisCode)
// because by the time it is persisted, tpl.IrisCode has already been
// overwritten with the HEv1 ciphertext blob.
func (g *encryptedGallery) add(tpl *models.IrisTemplate, identityName string, irisCode []byte, pk *keycrypto.PublicKey) {
	bits := bitsOf(irisCode)
	encBits := make([]*big.Int, len(bits))
	popcount := 0
	for i, b := range bits {
		c, err := keycrypto.Encrypt(pk, int64(b))
		if err != nil {
			// Encryption failure here means the key service's public key is
			// malformed; skip this bit rather than abort the whole enrollment.
			continue
		}
		encBits[i] = c
		popcount += b
	}

	entry := encryptedEntry{
		TemplateID:   tpl.TemplateID,
		IdentityID:   tpl.IdentityID,
		IdentityName: identityName,
		EncIrisBits:  encBits,
		Popcount:     popcount,
		TotalBits:    len(bits),
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.current.Load().entries
	next := make([]encryptedEntry, len(old), len(old)+1)
	copy(next, old)
	next = append(next, entry)
	g.current.Store(&encryptedSnapshot{entries: next})
}

// addCiphertexts appends an already-encrypted entry, for rebuilding the
// in-memory encrypted gallery from persisted rows after a restart.
func (g *encryptedGallery) addCiphertexts(templateID, identityID, identityName string, encBits []*big.Int, popcount int) {
	entry := encryptedEntry{
		TemplateID:   templateID,
		IdentityID:   identityID,
		IdentityName: identityName,
		EncIrisBits:  encBits,
		Popcount:     popcount,
		TotalBits:    len(encBits),
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.current.Load().entries
	next := make([]encryptedEntry, len(old), len(old)+1)
	copy(next, old)
	next = append(next, entry)
	g.current.Store(&encryptedSnapshot{entries: next})
}

// bitsOf expands a byte slice into one int (0/1) per bit, matching the
// plaintext Hamming-distance convention used by the gallery package.
func bitsOf(code []byte) []int {
	bits := make([]int, len(code)*8)
	for i := range bits {
		byteIdx := i / 8
		bitIdx := uint(7 - i%8)
		if code[byteIdx]&(1<<bitIdx) != 0 {
			bits[i] = 1
		}
	}
	return bits
}

// matchEncrypted computes encrypted inner products against every
// candidate, batches them into a single eyed.key.decrypt_batch request,
// and returns the aggregated decision.
func (e *Engine) matchEncrypted(ctx context.Context, probe *models.IrisTemplate) (*models.MatchInfo, error) {
	entries := e.enc.snapshot()
	if len(entries) == 0 {
		return &models.MatchInfo{IsMatch: false, HammingDistance: 1.0}, nil
	}

	probeBits := bitsOf(probe.IrisCode)
	probePopcount := popcountInts(probeBits)

	batch := make([]bus.KeyDecryptBatchEntry, 0, len(entries))
	for _, cand := range entries {
		if len(cand.EncIrisBits) != len(probeBits) {
			continue
		}
		ip, err := keycrypto.InnerProduct(e.pubKey, probeBits, cand.EncIrisBits)
		if err != nil {
			return nil, fmt.Errorf("inner product for template %s: %w", cand.TemplateID, err)
		}
		batch = append(batch, bus.KeyDecryptBatchEntry{
			TemplateID:          cand.TemplateID,
			IdentityID:          cand.IdentityID,
			IdentityName:        cand.IdentityName,
			EncInnerProductsB64: []string{keycrypto.EncodeCiphertext(ip)},
			ProbeIrisPopcount:   []int{probePopcount},
			GalleryIrisPopcount: []int{cand.Popcount},
			TotalBits:           cand.TotalBits,
		})
	}

	// A key service failure is a recoverable outcome, not a broken request:
	// the match fails closed and the frame still gets a result.
	req := bus.KeyDecryptBatchRequest{Threshold: e.cfg.MatchThreshold, Entries: batch}
	var resp bus.KeyDecryptBatchResponse
	if err := e.bus.Request(ctx, bus.SubjectKeyDecryptBatch, req, &resp, 10*time.Second); err != nil {
		metrics.KeyServiceFailures.WithLabelValues("unreachable").Inc()
		e.logger.Error("engine: key service decrypt_batch failed, failing closed", "error", err)
		return &models.MatchInfo{IsMatch: false, HammingDistance: 1.0}, nil
	}
	if resp.Error != "" {
		metrics.KeyServiceFailures.WithLabelValues("bad_payload").Inc()
		e.logger.Error("engine: key service rejected decrypt_batch, failing closed", "error", resp.Error)
		return &models.MatchInfo{IsMatch: false, HammingDistance: 1.0}, nil
	}

	return &models.MatchInfo{
		HammingDistance:     resp.HammingDistance,
		IsMatch:             resp.IsMatch,
		MatchedIdentityID:   resp.MatchedIdentityID,
		MatchedIdentityName: resp.MatchedIdentityName,
	}, nil
}

func popcountInts(bits []int) int {
	sum := 0
	for _, b := range bits {
		sum += b
	}
	return sum
}
