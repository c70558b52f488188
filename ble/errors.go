package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by read/write attempted before handshake
	// or after Stop, matching the facade's IDLE/FAILED row.
	ErrNotConnected = errors.New("ble: not connected")
	// ErrAlreadyConnected is returned by Connect on a socket that already
	// has a live connection.
	ErrAlreadyConnected = errors.New("ble: already connected")
	// ErrBadMessage is returned when magic numbers, the handshake's ASCII
	// tag, or a record's length header fail validation.
	ErrBadMessage = errors.New("ble: bad message")
	// ErrDecrypt is returned when a post-handshake record fails AEAD
	// authentication. The connection is not automatically torn down, but
	// callers should treat subsequent reads as unsafe and Stop().
	ErrDecrypt = errors.New("ble: decryption failed")
	// ErrKeyPinMismatch is returned when the peer's handshake public key
	// does not match a key pinned on the Context.
	ErrKeyPinMismatch = errors.New("ble: peer key does not match pinned key")
	// ErrIVReuse is returned by WriteSome/AsyncWriteSome once the session
	// engine's IV counter is exhausted; the socket must be torn down and a
	// fresh handshake run to get a new key.
	ErrIVReuse = errors.New("ble: iv counter exhausted, socket must be re-keyed")
)

// HandshakeError wraps a failure from a specific handshake stage. Stage
// names are informal ("stage1-recv", "stage3-decrypt", ...) and intended for
// logging, not programmatic matching; use errors.Is/errors.As against Err or
// the sentinel values above for that.
type HandshakeError struct {
	Stage string
	Err   error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("ble: handshake failed at %s: %v", e.Stage, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
