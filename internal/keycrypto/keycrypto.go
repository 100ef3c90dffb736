// Package keycrypto implements EyeD's additive-homomorphic scalar scheme.
// KeyService is the sole holder of the secret key; the Engine only ever
// sees ciphertexts and plaintext popcounts, never a decrypted inner
// product.
//
// The scheme itself is a textbook additive homomorphism
// over Z_n (Paillier-shaped: Enc(m) = g^m * r^n mod n^2, Enc(a)*Enc(b) =
// Enc(a+b)), sized down for an inner-product use case where the engine
// only ever adds encrypted partial products together. The exact
// cryptographic soundness of the modulus size is out of scope: the point
// of this core is the orchestration around the key boundary, not the
// hardness of the cipher.
package keycrypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/hasbegun/eyed/internal/models"
)

// KeyDir layout: secret.json (KeyService only), public.json (Engine).
const (
	secretFileName = "secret.json"
	publicFileName = "public.json"
)

// PublicKey is shared with the Engine. N is the modulus; g is the
// generator. n^2 is not stored; each operation recomputes it from N.
type PublicKey struct {
	N *big.Int `json:"n"`
	G *big.Int `json:"g"`
}

// SecretKey never leaves KeyService.
type SecretKey struct {
	Lambda *big.Int `json:"lambda"`
	Mu     *big.Int `json:"mu"`
	Public PublicKey `json:"public"`
}

// bitLength is the modulus size. A production deployment would use 2048+;
// this is kept small enough that the math/big arithmetic in a batch
// decrypt stays fast for a demo-scale gallery.
const bitLength = 512

// LoadOrGenerate reads a persisted SecretKey from dir, or generates and
// persists a fresh keypair if absent.
func LoadOrGenerate(dir string) (*SecretKey, error) {
	path := filepath.Join(dir, secretFileName)
	if data, err := os.ReadFile(path); err == nil {
		var sk SecretKey
		if err := json.Unmarshal(data, &sk); err != nil {
			return nil, fmt.Errorf("parse persisted key: %w", err)
		}
		return &sk, nil
	}

	sk, err := generate()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := persist(dir, sk); err != nil {
		return nil, fmt.Errorf("persist key: %w", err)
	}
	return sk, nil
}

func persist(dir string, sk *SecretKey) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	secretData, err := json.Marshal(sk)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, secretFileName), secretData, 0o600); err != nil {
		return err
	}
	publicData, err := json.Marshal(sk.Public)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, publicFileName), publicData, 0o644)
}

// LoadPublic reads only the public key, for the Engine side.
func LoadPublic(dir string) (*PublicKey, error) {
	data, err := os.ReadFile(filepath.Join(dir, publicFileName))
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	var pk PublicKey
	if err := json.Unmarshal(data, &pk); err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &pk, nil
}

func generate() (*SecretKey, error) {
	p, err := rand.Prime(rand.Reader, bitLength/2)
	if err != nil {
		return nil, err
	}
	q, err := rand.Prime(rand.Reader, bitLength/2)
	if err != nil {
		return nil, err
	}

	n := new(big.Int).Mul(p, q)
	g := new(big.Int).Add(n, big.NewInt(1)) // g = n+1, the standard Paillier simplification

	pMinus1 := new(big.Int).Sub(p, big.NewInt(1))
	qMinus1 := new(big.Int).Sub(q, big.NewInt(1))
	lambda := lcm(pMinus1, qMinus1)

	// With g = n+1, L(g^lambda mod n^2) = lambda, so mu = lambda^-1 mod n.
	mu := new(big.Int).ModInverse(lambda, n)
	if mu == nil {
		return nil, fmt.Errorf("failed to compute mu, unlucky prime pair")
	}

	return &SecretKey{
		Lambda: lambda,
		Mu:     mu,
		Public: PublicKey{N: n, G: g},
	}, nil
}

func lcm(a, b *big.Int) *big.Int {
	gcd := new(big.Int).GCD(nil, nil, a, b)
	out := new(big.Int).Mul(a, b)
	return out.Div(out, gcd)
}

// Encrypt produces Enc(m) under pk.
func Encrypt(pk *PublicKey, m int64) (*big.Int, error) {
	nSquared := new(big.Int).Mul(pk.N, pk.N)
	mBig := big.NewInt(m)
	mBig.Mod(mBig, pk.N)

	r, err := rand.Int(rand.Reader, pk.N)
	if err != nil {
		return nil, err
	}
	if r.Sign() == 0 {
		r.SetInt64(1)
	}

	gm := new(big.Int).Exp(pk.G, mBig, nSquared)
	rn := new(big.Int).Exp(r, pk.N, nSquared)
	c := new(big.Int).Mul(gm, rn)
	c.Mod(c, nSquared)
	return c, nil
}

// Add homomorphically sums two ciphertexts: Dec(Add(a,b)) = Dec(a)+Dec(b).
func Add(pk *PublicKey, a, b *big.Int) *big.Int {
	nSquared := new(big.Int).Mul(pk.N, pk.N)
	c := new(big.Int).Mul(a, b)
	return c.Mod(c, nSquared)
}

// ScalarMultiply computes Enc(k*m) from Enc(m), since c^k mod n^2 =
// Enc(m)^k = Enc(k*m) under this scheme.
func ScalarMultiply(pk *PublicKey, c *big.Int, k int64) *big.Int {
	nSquared := new(big.Int).Mul(pk.N, pk.N)
	kBig := big.NewInt(k)
	return new(big.Int).Exp(c, kBig, nSquared)
}

// InnerProduct homomorphically computes the encrypted inner product of a
// plaintext probe bit vector against an encrypted gallery bit vector.
// The Engine never needs the secret key for this, only Add and
// ScalarMultiply over the public key.
func InnerProduct(pk *PublicKey, probeBits []int, encGalleryBits []*big.Int) (*big.Int, error) {
	if len(probeBits) != len(encGalleryBits) {
		return nil, fmt.Errorf("inner product: length mismatch (%d probe bits vs %d encrypted bits)", len(probeBits), len(encGalleryBits))
	}

	zero, err := Encrypt(pk, 0)
	if err != nil {
		return nil, fmt.Errorf("encrypt zero accumulator: %w", err)
	}
	acc := zero
	for i, bit := range probeBits {
		if bit == 0 {
			continue
		}
		term := ScalarMultiply(pk, encGalleryBits[i], int64(bit))
		acc = Add(pk, acc, term)
	}
	return acc, nil
}

// Decrypt recovers the plaintext scalar using the secret key.
func Decrypt(sk *SecretKey, c *big.Int) int64 {
	n := sk.Public.N
	nSquared := new(big.Int).Mul(n, n)

	cLambda := new(big.Int).Exp(c, sk.Lambda, nSquared)
	l := lFunction(cLambda, n)
	m := new(big.Int).Mul(l, sk.Mu)
	m.Mod(m, n)

	// Map back from Z_n to a signed range, since popcount-derived inner
	// products are small relative to n.
	half := new(big.Int).Rsh(n, 1)
	if m.Cmp(half) > 0 {
		m.Sub(m, n)
	}
	return m.Int64()
}

func lFunction(x, n *big.Int) *big.Int {
	out := new(big.Int).Sub(x, big.NewInt(1))
	return out.Div(out, n)
}

// EncodeCiphertext base64-encodes a ciphertext for bus transport.
func EncodeCiphertext(c *big.Int) string {
	return base64.StdEncoding.EncodeToString(c.Bytes())
}

// DecodeCiphertext reverses EncodeCiphertext.
func DecodeCiphertext(s string) (*big.Int, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	return new(big.Int).SetBytes(data), nil
}

// encryptedCodeDoc is the JSON body stored after models.HEv1Magic in an
// encrypted_v1 template's iris_code_blob.
// Popcount travels alongside the ciphertexts in the clear: every
// decrypt_batch entry already carries it to KeyService unencrypted, so
// storing it is no new disclosure, and it lets the Engine
// rebuild its in-memory encrypted gallery from persisted rows on restart
// without re-deriving popcount from a scalar it can no longer see.
type encryptedCodeDoc struct {
	Ciphertexts []string `json:"ciphertexts"`
	Popcount    int      `json:"popcount"`
}

// EncodeEncryptedCode encrypts each bit of a plaintext code array under pk
// and serializes it into the HEv1 on-disk blob format, so an encrypted
// gallery's templates persist the same way plaintext ones do.
func EncodeEncryptedCode(pk *PublicKey, bits []int) ([]byte, error) {
	doc := encryptedCodeDoc{Ciphertexts: make([]string, len(bits))}
	for i, b := range bits {
		c, err := Encrypt(pk, int64(b))
		if err != nil {
			return nil, fmt.Errorf("encrypt bit %d: %w", i, err)
		}
		doc.Ciphertexts[i] = EncodeCiphertext(c)
		doc.Popcount += b
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal encrypted code: %w", err)
	}
	return append([]byte(models.HEv1Magic), body...), nil
}

// DecodeEncryptedCode reverses EncodeEncryptedCode, returning the
// ciphertext for each bit position and the plaintext popcount stored
// alongside them.
func DecodeEncryptedCode(blob []byte) ([]*big.Int, int, error) {
	magic := []byte(models.HEv1Magic)
	if len(blob) < len(magic) || string(blob[:len(magic)]) != models.HEv1Magic {
		return nil, 0, fmt.Errorf("decode encrypted code: missing %s magic", models.HEv1Magic)
	}
	var doc encryptedCodeDoc
	if err := json.Unmarshal(blob[len(magic):], &doc); err != nil {
		return nil, 0, fmt.Errorf("parse encrypted code: %w", err)
	}
	out := make([]*big.Int, len(doc.Ciphertexts))
	for i, s := range doc.Ciphertexts {
		c, err := DecodeCiphertext(s)
		if err != nil {
			return nil, 0, fmt.Errorf("bit %d: %w", i, err)
		}
		out[i] = c
	}
	return out, doc.Popcount, nil
}

// DecryptEncryptedCode decrypts every ciphertext bit and repacks them into
// a plaintext byte array in the same MSB-first layout the iris codec uses,
// for KeyService's admin-visualization decrypt_template subject.
func DecryptEncryptedCode(sk *SecretKey, ciphertexts []*big.Int) []byte {
	out := make([]byte, (len(ciphertexts)+7)/8)
	for i, c := range ciphertexts {
		if Decrypt(sk, c) == 0 {
			continue
		}
		byteIdx := i / 8
		bitIdx := uint(7 - i%8)
		out[byteIdx] |= 1 << bitIdx
	}
	return out
}
