// Package gallery holds the Engine's in-memory plaintext matching gallery.
// The snapshot is copy-on-modify and read-lock-free: readers take a
// snapshot pointer and never block a writer; writers build a new snapshot
// and swap it in atomically. The gallery is read far more often than
// written.
package gallery

import (
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"

	"github.com/hasbegun/eyed/internal/models"
)

// Entry is one template as loaded into the matching gallery.
type Entry struct {
	TemplateID   string
	IdentityID   string
	IdentityName string
	IrisCode     []byte
	MaskCode     []byte
}

type snapshot struct {
	entries []Entry
	byHash  map[[32]byte]Entry
}

// Gallery is a copy-on-modify collection of enrolled templates.
type Gallery struct {
	mu      sync.Mutex // serializes writers only; readers never take it
	current atomic.Pointer[snapshot]
}

// New creates an empty Gallery.
func New() *Gallery {
	g := &Gallery{}
	g.current.Store(&snapshot{byHash: make(map[[32]byte]Entry)})
	return g
}

// Snapshot returns the current entry slice. Callers must not mutate it.
func (g *Gallery) Snapshot() []Entry {
	return g.current.Load().entries
}

// Add appends an entry, publishing a new snapshot.
func (g *Gallery) Add(e Entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.current.Load()

	next := make([]Entry, len(old.entries), len(old.entries)+1)
	copy(next, old.entries)
	next = append(next, e)

	nextHash := make(map[[32]byte]Entry, len(old.byHash)+1)
	for k, v := range old.byHash {
		nextHash[k] = v
	}
	nextHash[contentHash(e.IrisCode, e.MaskCode)] = e

	g.current.Store(&snapshot{entries: next, byHash: nextHash})
}

// RemoveIdentity drops every entry belonging to identityID.
func (g *Gallery) RemoveIdentity(identityID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.current.Load()

	next := make([]Entry, 0, len(old.entries))
	nextHash := make(map[[32]byte]Entry, len(old.byHash))
	for _, e := range old.entries {
		if e.IdentityID != identityID {
			next = append(next, e)
			nextHash[contentHash(e.IrisCode, e.MaskCode)] = e
		}
	}
	g.current.Store(&snapshot{entries: next, byHash: nextHash})
}

// ExactMatch reports whether an identical (iris_code, mask_code) pair is
// already enrolled, via a content-hash index maintained alongside Add. This
// is a constant-time dedup fast path ahead of Search's O(n) rotational FHD
// scan.
func (g *Gallery) ExactMatch(irisCode, maskCode []byte) (Entry, bool) {
	e, ok := g.current.Load().byHash[contentHash(irisCode, maskCode)]
	return e, ok
}

func contentHash(irisCode, maskCode []byte) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write(irisCode)
	h.Write(maskCode)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Size returns the number of enrolled templates, for /engine/health/ready.
func (g *Gallery) Size() int {
	return len(g.current.Load().entries)
}

// Match is the result of a plaintext gallery search.
type Match struct {
	Found        bool
	IdentityID   string
	IdentityName string
	TemplateID   string
	Distance     float64
	Rotation     int
}

// Search computes the fractional Hamming distance between probe and every
// gallery entry, with a bounded rotational search of +/-rotationShift bit
// positions, and returns the best match below threshold.
func Search(probeIris, probeMask []byte, entries []Entry, rotationShift int, threshold float64) Match {
	best := Match{Distance: 1.0}
	for _, e := range entries {
		dist, rot := bestRotatedDistance(probeIris, probeMask, e.IrisCode, e.MaskCode, rotationShift)
		if dist < best.Distance {
			best = Match{
				Found:        dist < threshold,
				IdentityID:   e.IdentityID,
				IdentityName: e.IdentityName,
				TemplateID:   e.TemplateID,
				Distance:     dist,
				Rotation:     rot,
			}
		}
	}
	if best.Distance >= threshold {
		best.Found = false
	}
	return best
}

// bestRotatedDistance tries every bit-rotation of gallery code in
// [-shift, +shift] and returns the smallest fractional Hamming distance.
func bestRotatedDistance(probeIris, probeMask, galleryIris, galleryMask []byte, shift int) (float64, int) {
	bits := len(probeIris) * 8
	if bits == 0 {
		return 1.0, 0
	}

	best := 1.0
	bestRot := 0
	for r := -shift; r <= shift; r++ {
		rotIris := rotateBits(galleryIris, r)
		rotMask := rotateBits(galleryMask, r)
		d := fractionalHammingDistance(probeIris, probeMask, rotIris, rotMask)
		if d < best {
			best = d
			bestRot = r
		}
	}
	return best, bestRot
}

// fractionalHammingDistance computes disagreement over bits both masks mark
// valid, normalized to [0,1]. A fully invalid
// comparison (no shared valid bits) scores worst-case 1.0.
func fractionalHammingDistance(irisA, maskA, irisB, maskB []byte) float64 {
	n := len(irisA)
	if len(irisB) < n {
		n = len(irisB)
	}
	var disagree, valid int
	for i := 0; i < n; i++ {
		var mA, mB byte = 0xFF, 0xFF
		if i < len(maskA) {
			mA = maskA[i]
		}
		if i < len(maskB) {
			mB = maskB[i]
		}
		sharedMask := mA & mB
		xor := (irisA[i] ^ irisB[i]) & sharedMask
		disagree += popcount(xor)
		valid += popcount(sharedMask)
	}
	if valid == 0 {
		return 1.0
	}
	return float64(disagree) / float64(valid)
}

func popcount(b byte) int {
	count := 0
	for b != 0 {
		count += int(b & 1)
		b >>= 1
	}
	return count
}

// rotateBits performs a cyclic bit rotation of code by shift bit positions
// (positive = right: bit i of the result is bit i-shift of code in this
// MSB-first layout), matching iris-code rotational unwrapping conventions.
func rotateBits(code []byte, shift int) []byte {
	if shift == 0 || len(code) == 0 {
		return code
	}
	totalBits := len(code) * 8
	shift = ((shift % totalBits) + totalBits) % totalBits

	out := make([]byte, len(code))
	for i := 0; i < totalBits; i++ {
		srcBit := (i + totalBits - shift) % totalBits
		if getBit(code, srcBit) {
			setBit(out, i)
		}
	}
	return out
}

func getBit(b []byte, i int) bool {
	return b[i/8]&(1<<uint(7-i%8)) != 0
}

func setBit(b []byte, i int) {
	b[i/8] |= 1 << uint(7-i%8)
}

// ToEntry converts a durable template into a gallery Entry.
func ToEntry(t *models.IrisTemplate, identityName string) Entry {
	return Entry{
		TemplateID:   t.TemplateID,
		IdentityID:   t.IdentityID,
		IdentityName: identityName,
		IrisCode:     t.IrisCode,
		MaskCode:     t.MaskCode,
	}
}
