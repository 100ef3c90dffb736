package keycrypto

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTripRecoversPlaintext(t *testing.T) {
	sk, err := generate()
	require.NoError(t, err)

	c, err := Encrypt(&sk.Public, 7)
	require.NoError(t, err)

	assert.EqualValues(t, 7, Decrypt(sk, c))
}

func TestAdd_IsHomomorphicOverPlaintextSum(t *testing.T) {
	sk, err := generate()
	require.NoError(t, err)

	a, err := Encrypt(&sk.Public, 3)
	require.NoError(t, err)
	b, err := Encrypt(&sk.Public, 4)
	require.NoError(t, err)

	sum := Add(&sk.Public, a, b)
	assert.EqualValues(t, 7, Decrypt(sk, sum))
}

func TestScalarMultiply_ScalesThePlaintext(t *testing.T) {
	sk, err := generate()
	require.NoError(t, err)

	c, err := Encrypt(&sk.Public, 5)
	require.NoError(t, err)

	scaled := ScalarMultiply(&sk.Public, c, 3)
	assert.EqualValues(t, 15, Decrypt(sk, scaled))
}

func TestInnerProduct_MatchesPlaintextDotProduct(t *testing.T) {
	sk, err := generate()
	require.NoError(t, err)

	galleryBits := []int{1, 0, 1, 1}
	encGallery := make([]*big.Int, len(galleryBits))
	for i, b := range galleryBits {
		c, err := Encrypt(&sk.Public, int64(b))
		require.NoError(t, err)
		encGallery[i] = c
	}

	probeBits := []int{1, 1, 1, 0}
	result, err := InnerProduct(&sk.Public, probeBits, encGallery)
	require.NoError(t, err)

	// dot([1,1,1,0], [1,0,1,1]) = 1*1 + 1*0 + 1*1 + 0*1 = 2
	assert.EqualValues(t, 2, Decrypt(sk, result))
}

func TestInnerProduct_RejectsMismatchedLengths(t *testing.T) {
	sk, err := generate()
	require.NoError(t, err)

	_, err = InnerProduct(&sk.Public, []int{1, 0}, []*big.Int{big.NewInt(1)})
	assert.Error(t, err)
}

func TestEncodeDecodeCiphertext_RoundTrips(t *testing.T) {
	original := big.NewInt(123456789)
	encoded := EncodeCiphertext(original)
	decoded, err := DecodeCiphertext(encoded)
	require.NoError(t, err)
	assert.Equal(t, 0, original.Cmp(decoded))
}

func TestLoadOrGenerate_PersistsAndReloadsTheSameKey(t *testing.T) {
	dir := t.TempDir()

	sk1, err := LoadOrGenerate(dir)
	require.NoError(t, err)

	sk2, err := LoadOrGenerate(dir)
	require.NoError(t, err)

	assert.Equal(t, 0, sk1.Public.N.Cmp(sk2.Public.N), "second call must reload the persisted key, not generate a new one")
	assert.Equal(t, 0, sk1.Lambda.Cmp(sk2.Lambda))
}

func TestLoadPublic_ReadsOnlyThePublicHalf(t *testing.T) {
	dir := t.TempDir()
	sk, err := LoadOrGenerate(dir)
	require.NoError(t, err)

	pk, err := LoadPublic(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, sk.Public.N.Cmp(pk.N))
}

func TestEncodeDecodeEncryptedCode_RoundTripsCiphertextsAndPopcount(t *testing.T) {
	sk, err := generate()
	require.NoError(t, err)

	bits := []int{1, 0, 1, 0, 1, 1, 0, 0, 1}
	blob, err := EncodeEncryptedCode(&sk.Public, bits)
	require.NoError(t, err)

	ciphertexts, popcount, err := DecodeEncryptedCode(blob)
	require.NoError(t, err)
	require.Len(t, ciphertexts, len(bits))
	assert.Equal(t, 5, popcount)

	decoded := DecryptEncryptedCode(sk, ciphertexts)
	for i, b := range bits {
		byteIdx := i / 8
		bitIdx := uint(7 - i%8)
		got := (decoded[byteIdx] >> bitIdx) & 1
		assert.EqualValues(t, b, got, "bit %d mismatch", i)
	}
}

func TestDecodeEncryptedCode_RejectsMissingMagic(t *testing.T) {
	_, _, err := DecodeEncryptedCode([]byte("not an HEv1 blob"))
	assert.Error(t, err)
}
