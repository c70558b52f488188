package blacklight_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MrElectrify/BlacklightFramework/ble"
	"github.com/MrElectrify/BlacklightFramework/internal/bletest"
	"github.com/MrElectrify/BlacklightFramework/rsacrypto"
)

// TestBasicEcho covers spec scenario 1: handshake, write "hello", read it back.
func TestBasicEcho(t *testing.T) {
	pair, err := bletest.Dial()
	require.NoError(t, err)
	defer pair.Close()

	msg := []byte("hello")
	n, err := pair.Client.WriteSome(msg)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)

	buf := make([]byte, 5)
	n, err = pair.Server.ReadSome(buf)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)
	require.Equal(t, msg, buf)
}

// TestLargeWriteSmallReads covers spec scenario 2: one 4096-byte write,
// drained by four ReadSome calls into a 1024-byte buffer whose concatenated
// output must equal the payload.
func TestLargeWriteSmallReads(t *testing.T) {
	pair, err := bletest.Dial()
	require.NoError(t, err)
	defer pair.Close()

	payload := make([]byte, 4096)
	_, err = rand.Read(payload)
	require.NoError(t, err)

	_, err = pair.Client.WriteSome(payload)
	require.NoError(t, err)

	var got bytes.Buffer
	chunk := make([]byte, 1024)
	for i := 0; i < 4; i++ {
		n, err := pair.Server.ReadSome(chunk)
		require.NoError(t, err)
		got.Write(chunk[:n])
	}

	require.True(t, bytes.Equal(got.Bytes(), payload))
}

// TestKeyPinningSuccess covers spec scenario 3: client pins the server's
// real public key and the handshake succeeds.
func TestKeyPinningSuccess(t *testing.T) {
	priv, err := rsacrypto.GenerateKeyPair()
	require.NoError(t, err)
	serverCtx := ble.NewContextWithKeyPair(priv)

	pair, err := bletest.Dial(
		bletest.WithServerContext(serverCtx),
		bletest.WithClientPin(priv.Public()),
	)
	require.NoError(t, err)
	defer pair.Close()
}

// TestKeyPinningFailure covers spec scenario 4: client pins a key that
// doesn't match the server's, so the handshake fails before any AES key
// material changes hands.
func TestKeyPinningFailure(t *testing.T) {
	serverPriv, err := rsacrypto.GenerateKeyPair()
	require.NoError(t, err)
	otherPriv, err := rsacrypto.GenerateKeyPair()
	require.NoError(t, err)

	serverCtx := ble.NewContextWithKeyPair(serverPriv)

	pair, err := bletest.Dial(
		bletest.WithServerContext(serverCtx),
		bletest.WithClientPin(otherPriv.Public()),
	)
	require.Error(t, err)
	if pair != nil {
		pair.Close()
	}

	var hsErr *ble.HandshakeError
	require.ErrorAs(t, err, &hsErr)
}

// TestPrematureWrite covers spec scenario 6: writing before handshake
// returns ErrNotConnected and delivers zero bytes.
func TestPrematureWrite(t *testing.T) {
	pair, err := bletest.Dial()
	require.NoError(t, err)
	defer pair.Close()

	fresh := ble.NewSocket(ble.NewContext(), pair.ClientExec)
	n, err := fresh.WriteSome([]byte("too soon"))
	require.ErrorIs(t, err, ble.ErrNotConnected)
	require.Equal(t, 0, n)
}
