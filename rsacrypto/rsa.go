// Package rsacrypto implements the RSA-OAEP engine used by the BLE
// handshake: 4096-bit keys, SHA-256/MGF1 OAEP padding per PKCS#1 v2.2
// §7.1.1, and the original's block-wise splitting for messages longer than
// a single RSA block.
//
// This is a hand-rolled implementation against math/big rather than
// crypto/rsa: the wire format (fixed OctetCount-sized blocks, no label,
// block-wise concatenation for long messages) is pinned exactly and would
// not survive being routed through stdlib's single-block OAEP call.
package rsacrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
)

const (
	// BitCount is the RSA modulus size in bits.
	BitCount = 4096
	// OctetCount is the modulus size in bytes (also the ciphertext block size).
	OctetCount = BitCount / 8
	// PrimeSize is the bit length of each of the two generated primes.
	PrimeSize = BitCount / 2
	// hLen is the output size of the OAEP hash function, SHA-256.
	hLen = sha256.Size
	// MaxMessageLen is the largest plaintext a single OAEP block can carry.
	MaxMessageLen = OctetCount - 2*hLen - 2
)

var (
	// ErrMessageTooLarge is never returned directly; Encrypt instead splits
	// any message into MaxMessageLen-sized blocks. It is kept as a sentinel
	// for callers that want a hard single-block cap.
	ErrMessageTooLarge = errors.New("rsacrypto: message exceeds max block length")
	// ErrDecodingError is returned when OAEP unpadding fails: bad lHash,
	// missing 0x01 separator, or a leading byte that isn't zero. Per OAEP
	// best practice this is a single generic error so padding oracles can't
	// distinguish failure reasons.
	ErrDecodingError = errors.New("rsacrypto: decoding error")
	// ErrCiphertextLen is returned when a ciphertext isn't a whole multiple
	// of OctetCount bytes.
	ErrCiphertextLen = errors.New("rsacrypto: ciphertext length is not a multiple of the block size")
)

// PublicKey is the modulus/exponent pair used to encrypt.
type PublicKey struct {
	E *big.Int
	N *big.Int
}

// PrivateKey holds the full key, including p and q, used to decrypt.
type PrivateKey struct {
	D *big.Int
	E *big.Int
	N *big.Int
	P *big.Int
	Q *big.Int
}

// Public returns the public half of k.
func (k *PrivateKey) Public() *PublicKey {
	return &PublicKey{E: k.E, N: k.N}
}

// Encode returns pub's exponent and modulus as big-endian byte strings, each
// left-padded to OctetCount bytes, the wire format BLE's handshake stage 1
// sends them in.
func (pub *PublicKey) Encode() (e, n []byte) {
	return i2osp(pub.E, OctetCount), i2osp(pub.N, OctetCount)
}

// DecodePublicKey reconstructs a PublicKey from the big-endian exponent and
// modulus byte strings Encode produces.
func DecodePublicKey(e, n []byte) *PublicKey {
	return &PublicKey{E: new(big.Int).SetBytes(e), N: new(big.Int).SetBytes(n)}
}

// Equal reports whether pub and other represent the same key.
func (pub *PublicKey) Equal(other *PublicKey) bool {
	if pub == nil || other == nil {
		return pub == other
	}
	return pub.E.Cmp(other.E) == 0 && pub.N.Cmp(other.N) == 0
}

// GenerateKeyPair generates a fresh BitCount-bit RSA key pair, following the
// original's approach: draw two PrimeSize-bit primes, fix e = 0x10001 and
// bump it by two until it's coprime with phi(n), then invert e mod phi.
func GenerateKeyPair() (*PrivateKey, error) {
	p, err := rand.Prime(rand.Reader, PrimeSize)
	if err != nil {
		return nil, fmt.Errorf("rsacrypto: generating p: %w", err)
	}
	q, err := rand.Prime(rand.Reader, PrimeSize)
	if err != nil {
		return nil, fmt.Errorf("rsacrypto: generating q: %w", err)
	}

	n := new(big.Int).Mul(p, q)

	one := big.NewInt(1)
	pMinus1 := new(big.Int).Sub(p, one)
	qMinus1 := new(big.Int).Sub(q, one)
	phi := new(big.Int).Mul(pMinus1, qMinus1)

	e := big.NewInt(0x10001)
	gcd := new(big.Int)
	for {
		gcd.GCD(nil, nil, e, phi)
		if gcd.Cmp(one) == 0 {
			break
		}
		e.Add(e, big.NewInt(2))
	}

	d := new(big.Int).ModInverse(e, phi)
	if d == nil {
		return nil, errors.New("rsacrypto: e has no inverse mod phi(n)")
	}

	return &PrivateKey{D: d, E: e, N: n, P: p, Q: q}, nil
}

// Encrypt OAEP-pads and RSA-encrypts msg, splitting it across as many
// OctetCount-byte blocks as needed.
func Encrypt(pub *PublicKey, msg []byte) ([]byte, error) {
	if len(msg) == 0 {
		msg = []byte{}
	}

	var out []byte
	for len(msg) > 0 || out == nil {
		chunk := msg
		if len(chunk) > MaxMessageLen {
			chunk = chunk[:MaxMessageLen]
		}
		block, err := encryptBlock(pub, chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		msg = msg[len(chunk):]
		if len(chunk) < MaxMessageLen {
			break
		}
	}
	return out, nil
}

func encryptBlock(pub *PublicKey, msg []byte) ([]byte, error) {
	if len(msg) > MaxMessageLen {
		return nil, ErrMessageTooLarge
	}

	em, err := oaepPad(msg)
	if err != nil {
		return nil, err
	}

	m := new(big.Int).SetBytes(em)
	c := new(big.Int).Exp(m, pub.E, pub.N)

	return i2osp(c, OctetCount), nil
}

// Decrypt reverses Encrypt: it splits ciphertext into OctetCount-byte
// blocks, RSA-decrypts and OAEP-unpads each, and concatenates the results.
func Decrypt(priv *PrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%OctetCount != 0 {
		return nil, ErrCiphertextLen
	}

	var out []byte
	for i := 0; i < len(ciphertext); i += OctetCount {
		block := ciphertext[i : i+OctetCount]
		msg, err := decryptBlock(priv, block)
		if err != nil {
			return nil, err
		}
		out = append(out, msg...)
	}
	return out, nil
}

func decryptBlock(priv *PrivateKey, block []byte) ([]byte, error) {
	c := new(big.Int).SetBytes(block)
	if c.Cmp(priv.N) >= 0 {
		return nil, ErrDecodingError
	}

	m := new(big.Int).Exp(c, priv.D, priv.N)
	em := i2osp(m, OctetCount)

	return oaepUnpad(em)
}

// oaepPad implements PKCS#1 v2.2 §7.1.1 EME-OAEP-ENCODE with an empty label.
func oaepPad(msg []byte) ([]byte, error) {
	if len(msg) > MaxMessageLen {
		return nil, ErrMessageTooLarge
	}

	lHash := sha256.Sum256(nil)

	psLen := OctetCount - len(msg) - 2*hLen - 2
	db := make([]byte, 0, OctetCount-hLen-1)
	db = append(db, lHash[:]...)
	db = append(db, make([]byte, psLen)...)
	db = append(db, 0x01)
	db = append(db, msg...)

	seed := make([]byte, hLen)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("rsacrypto: drawing OAEP seed: %w", err)
	}

	dbMask := mgf1(seed, len(db))
	maskedDB := xorBytes(db, dbMask)

	seedMask := mgf1(maskedDB, hLen)
	maskedSeed := xorBytes(seed, seedMask)

	em := make([]byte, 0, OctetCount)
	em = append(em, 0x00)
	em = append(em, maskedSeed...)
	em = append(em, maskedDB...)
	return em, nil
}

// oaepUnpad implements PKCS#1 v2.2 §7.1.2 EME-OAEP-DECODE with an empty label.
func oaepUnpad(em []byte) ([]byte, error) {
	if len(em) != OctetCount || em[0] != 0x00 {
		return nil, ErrDecodingError
	}

	maskedSeed := em[1 : 1+hLen]
	maskedDB := em[1+hLen:]

	seedMask := mgf1(maskedDB, hLen)
	seed := xorBytes(maskedSeed, seedMask)

	dbMask := mgf1(seed, len(maskedDB))
	db := xorBytes(maskedDB, dbMask)

	lHash := sha256.Sum256(nil)
	if !bytesEqual(db[:hLen], lHash[:]) {
		return nil, ErrDecodingError
	}

	rest := db[hLen:]
	idx := -1
	for i, b := range rest {
		if b == 0x01 {
			idx = i
			break
		}
		if b != 0x00 {
			return nil, ErrDecodingError
		}
	}
	if idx < 0 {
		return nil, ErrDecodingError
	}

	return rest[idx+1:], nil
}

// mgf1 is the MGF1 mask generation function built on SHA-256, per PKCS#1
// v2.2 Appendix B.2.1.
func mgf1(seed []byte, length int) []byte {
	var out []byte
	var counter uint32
	for len(out) < length {
		c := i2ospUint32(counter)
		h := sha256.New()
		h.Write(seed)
		h.Write(c)
		out = append(out, h.Sum(nil)...)
		counter++
	}
	return out[:length]
}

func i2ospUint32(x uint32) []byte {
	return []byte{byte(x >> 24), byte(x >> 16), byte(x >> 8), byte(x)}
}

// i2osp converts x into a big-endian byte string of exactly n bytes,
// left-padding with zeros (Integer-to-Octet-String-Primitive, PKCS#1 v2.2 §4.1).
func i2osp(x *big.Int, n int) []byte {
	b := x.Bytes()
	if len(b) >= n {
		return b[len(b)-n:]
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
