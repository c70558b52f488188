// Package random provides the two random sources BLE needs: a fast,
// non-cryptographic generator for IV/nonce material, and a thin wrapper
// around crypto/rand for RSA seed and padding bytes.
//
// The original Blacklight implementation seeded a single process-wide SSE2
// xorshift generator once via a std::once_flag. Per the redesign notes, this
// version holds the generator state as a value owned by whichever component
// needs it (one per socket) instead of a package-level global: IV uniqueness
// is enforced by the caller's ledger, not by the PRNG's quality, so there is
// nothing a shared global buys that a local instance doesn't.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync/atomic"
	"time"
)

// seedCounter diversifies NewFastRand's seed across calls that land on the
// same clock tick; it carries no generator state itself, only enough entropy
// to keep two generators constructed back-to-back from starting identical.
var seedCounter uint64

// FastRand is a small, fast xorshift128+ generator used to produce IV and
// nonce material. It is not safe for concurrent use and is not
// cryptographically strong; callers that need uniqueness guarantees (as BLE
// does for IVs) must enforce that themselves.
type FastRand struct {
	s0, s1 uint64
}

// NewFastRand seeds a generator from the current time, matching the
// granularity the original SSERand::Seed used (time-of-day).
func NewFastRand() *FastRand {
	now := uint64(time.Now().UnixNano())
	seq := atomic.AddUint64(&seedCounter, 1)
	return NewFastRandSeeded(now ^ (seq * 0x9E3779B97F4A7C15))
}

// NewFastRandSeeded seeds a generator deterministically, mainly useful for
// tests that want reproducible IV sequences.
func NewFastRandSeeded(seed uint64) *FastRand {
	// splitmix64 to spread a single 64-bit seed across both lanes; a zero
	// seed would otherwise produce a zero state and a degenerate stream.
	r := &FastRand{}
	r.s0 = splitmix64(&seed)
	r.s1 = splitmix64(&seed)
	if r.s0 == 0 && r.s1 == 0 {
		r.s1 = 0x9E3779B97F4A7C15
	}
	return r
}

func splitmix64(state *uint64) uint64 {
	*state += 0x9E3779B97F4A7C15
	z := *state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// next returns the next 64-bit word in the xorshift128+ sequence.
func (r *FastRand) next() uint64 {
	x := r.s0
	y := r.s1
	r.s0 = y
	x ^= x << 23
	x ^= x >> 17
	x ^= y ^ (y >> 26)
	r.s1 = x
	return x + y
}

// Block16 fills 16 bytes of fast random output, the size of an AES-GCM IV.
func (r *FastRand) Block16() [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint64(out[0:8], r.next())
	binary.LittleEndian.PutUint64(out[8:16], r.next())
	return out
}

// Read fills p with fast random bytes, satisfying io.Reader for convenience.
func (r *FastRand) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		var word [8]byte
		binary.LittleEndian.PutUint64(word[:], r.next())
		n += copy(p[n:], word[:])
	}
	return n, nil
}

// Strong returns the process's cryptographically strong random source. It is
// used for RSA key material, OAEP seeds and padding, and handshake
// confirmation nonces, all of which need unpredictability rather than mere
// uniqueness.
func Strong() io.Reader {
	return rand.Reader
}

// StrongBytes draws n cryptographically strong random bytes.
func StrongBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
