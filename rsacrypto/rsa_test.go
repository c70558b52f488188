package rsacrypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// genTestKey generates a key with the package's real generator. BitCount is
// fixed at 4096, so this is slow, and every test that calls it pays for its
// own keygen.
func genTestKey(t *testing.T) *PrivateKey {
	t.Helper()
	priv, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotNil(t, priv.D)
	require.NotNil(t, priv.N)
	return priv
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	priv := genTestKey(t)
	pub := priv.Public()

	msg := []byte("the quick brown fox jumps over the lazy dog")
	ct, err := Encrypt(pub, msg)
	require.NoError(t, err)
	require.Len(t, ct, OctetCount)

	pt, err := Decrypt(priv, ct)
	require.NoError(t, err)
	require.True(t, bytes.Equal(pt, msg))
}

func TestEncryptDecryptEmptyMessage(t *testing.T) {
	priv := genTestKey(t)
	pub := priv.Public()

	ct, err := Encrypt(pub, nil)
	require.NoError(t, err)

	pt, err := Decrypt(priv, ct)
	require.NoError(t, err)
	require.Empty(t, pt)
}

func TestEncryptDecryptMultiBlock(t *testing.T) {
	priv := genTestKey(t)
	pub := priv.Public()

	msg := bytes.Repeat([]byte{0xAB}, MaxMessageLen*2+17)
	ct, err := Encrypt(pub, msg)
	require.NoError(t, err)
	require.Equal(t, 3*OctetCount, len(ct))

	pt, err := Decrypt(priv, ct)
	require.NoError(t, err)
	require.True(t, bytes.Equal(pt, msg))
}

func TestDecryptRejectsCorruptedCiphertext(t *testing.T) {
	priv := genTestKey(t)
	pub := priv.Public()

	ct, err := Encrypt(pub, []byte("hello"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0xFF

	_, err = Decrypt(priv, ct)
	require.Error(t, err)
}

func TestDecryptRejectsBadLength(t *testing.T) {
	priv := genTestKey(t)

	_, err := Decrypt(priv, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrCiphertextLen)
}
