package gallery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allOnesMask(bytes int) []byte {
	m := make([]byte, bytes)
	for i := range m {
		m[i] = 0xFF
	}
	return m
}

func TestGallery_AddAndSnapshotAreCopyOnModify(t *testing.T) {
	g := New()
	snap0 := g.Snapshot()
	assert.Len(t, snap0, 0)

	g.Add(Entry{TemplateID: "t1", IdentityID: "id-a", IrisCode: []byte{0xFF}, MaskCode: []byte{0xFF}})

	// The snapshot taken before Add must be unaffected (copy-on-modify).
	assert.Len(t, snap0, 0)
	assert.Len(t, g.Snapshot(), 1)
	assert.Equal(t, 1, g.Size())
}

func TestGallery_RemoveIdentityDropsOnlyItsEntries(t *testing.T) {
	g := New()
	g.Add(Entry{TemplateID: "t1", IdentityID: "id-a"})
	g.Add(Entry{TemplateID: "t2", IdentityID: "id-b"})
	g.Add(Entry{TemplateID: "t3", IdentityID: "id-a"})

	g.RemoveIdentity("id-a")

	snap := g.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "id-b", snap[0].IdentityID)
}

func TestSearch_IdenticalCodeIsExactMatch(t *testing.T) {
	iris := []byte{0b10110100, 0b01010101}
	mask := allOnesMask(2)
	entries := []Entry{{TemplateID: "t1", IdentityID: "id-a", IdentityName: "Alice", IrisCode: iris, MaskCode: mask}}

	m := Search(iris, mask, entries, 0, 0.32)
	assert.True(t, m.Found)
	assert.Equal(t, "id-a", m.IdentityID)
	assert.InDelta(t, 0.0, m.Distance, 1e-9)
}

func TestSearch_AboveThresholdIsNotAMatch(t *testing.T) {
	iris := []byte{0b11111111}
	mask := allOnesMask(1)
	// Maximally disagreeing code -> FHD of 1.0, nowhere near threshold.
	entries := []Entry{{TemplateID: "t1", IdentityID: "id-a", IrisCode: []byte{0b00000000}, MaskCode: mask}}

	m := Search(iris, mask, entries, 0, 0.32)
	assert.False(t, m.Found)
}

func TestSearch_RotationRecoversShiftedMatch(t *testing.T) {
	// A gallery code that is the probe rotated by 3 bits should be found by
	// the rotation search and best_rotation should land in [-shift, shift].
	probe := []byte{0b10110100}
	mask := allOnesMask(1)
	rotatedGallery := rotateBits(probe, 3)

	entries := []Entry{{TemplateID: "t1", IdentityID: "id-a", IrisCode: rotatedGallery, MaskCode: mask}}
	m := Search(probe, mask, entries, 15, 0.05)

	assert.True(t, m.Found)
	assert.InDelta(t, 0.0, m.Distance, 1e-9)
	assert.GreaterOrEqual(t, m.Rotation, -15)
	assert.LessOrEqual(t, m.Rotation, 15)
}

func TestFractionalHammingDistance_MasksOutInvalidBits(t *testing.T) {
	irisA := []byte{0b11111111}
	irisB := []byte{0b00001111}
	maskA := []byte{0b11110000} // only the high nibble is valid for A
	maskB := []byte{0b11111111}

	// Shared valid bits: high nibble only. A=1111, B=0000 -> all 4 disagree.
	d := fractionalHammingDistance(irisA, maskA, irisB, maskB)
	assert.InDelta(t, 1.0, d, 1e-9)
}

func TestRotateBits_ZeroShiftIsIdentity(t *testing.T) {
	code := []byte{0b10110100, 0b00001111}
	assert.Equal(t, code, rotateBits(code, 0))
}

func TestRotateBits_FullCycleReturnsOriginal(t *testing.T) {
	code := []byte{0b10110100}
	rotated := rotateBits(code, 8)
	assert.Equal(t, code, rotated)
}

func TestGallery_ExactMatchFindsIdenticalContent(t *testing.T) {
	g := New()
	iris := []byte{0b10110100, 0b01010101}
	mask := allOnesMask(2)
	g.Add(Entry{TemplateID: "t1", IdentityID: "id-a", IdentityName: "Alice", IrisCode: iris, MaskCode: mask})

	entry, ok := g.ExactMatch(iris, mask)
	assert.True(t, ok)
	assert.Equal(t, "id-a", entry.IdentityID)
}

func TestGallery_ExactMatchMissesOnAnyBitDifference(t *testing.T) {
	g := New()
	mask := allOnesMask(1)
	g.Add(Entry{TemplateID: "t1", IdentityID: "id-a", IrisCode: []byte{0b10110100}, MaskCode: mask})

	_, ok := g.ExactMatch([]byte{0b10110101}, mask)
	assert.False(t, ok)
}

func TestGallery_RemoveIdentityDropsItsExactMatchEntries(t *testing.T) {
	g := New()
	iris := []byte{0xAB}
	mask := allOnesMask(1)
	g.Add(Entry{TemplateID: "t1", IdentityID: "id-a", IrisCode: iris, MaskCode: mask})

	g.RemoveIdentity("id-a")

	_, ok := g.ExactMatch(iris, mask)
	assert.False(t, ok)
}
