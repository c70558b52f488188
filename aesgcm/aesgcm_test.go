package aesgcm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	e, err := NewEngine(key)
	require.NoError(t, err)
	return e
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	pt := []byte("hello blacklight")

	record, err := e.Encrypt(pt)
	require.NoError(t, err)
	require.Len(t, record, IVSize+len(pt)+TagSize)

	got, err := e.Decrypt(record)
	require.NoError(t, err)
	require.True(t, bytes.Equal(got, pt))
}

func TestEncryptNeverRepeatsIV(t *testing.T) {
	e := newTestEngine(t)
	seen := make(map[string]struct{})

	for i := 0; i < 1000; i++ {
		record, err := e.Encrypt([]byte("x"))
		require.NoError(t, err)
		iv := string(record[:IVSize])
		_, dup := seen[iv]
		require.False(t, dup, "iv repeated at iteration %d", i)
		seen[iv] = struct{}{}
	}
}

func TestGenerateIVCounterExhausted(t *testing.T) {
	e := newTestEngine(t)
	e.counter = ^uint64(0) - 1

	_, err := e.GenerateIV()
	require.NoError(t, err)

	_, err = e.GenerateIV()
	require.ErrorIs(t, err, ErrIVReuse)
}

func TestDecryptRejectsShortRecord(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Decrypt([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShortCiphertext)
}

func TestDecryptRejectsTamperedTag(t *testing.T) {
	e := newTestEngine(t)
	record, err := e.Encrypt([]byte("authenticate me"))
	require.NoError(t, err)

	record[len(record)-1] ^= 0xFF

	_, err = e.Decrypt(record)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestDifferentEnginesProduceDifferentSalts(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)
	require.NotEqual(t, a.salt, b.salt)
}
