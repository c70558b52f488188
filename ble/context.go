package ble

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/MrElectrify/BlacklightFramework/rsacrypto"
)

// Context holds the local RSA keypair and an optional pinned peer public
// key, shared across every Socket that negotiates under it. A keypair may
// be supplied up front or left to be generated lazily by the first server
// handshake that needs one.
type Context struct {
	mu        sync.RWMutex
	priv      *rsacrypto.PrivateKey
	pub       *rsacrypto.PublicKey
	pinnedKey *rsacrypto.PublicKey
	hasPin    bool

	keygen singleflight.Group
}

// NewContext returns a Context with no keypair; one is generated on demand
// by the first call to EnsureKeyPair (normally triggered by a server's
// stage-1 handshake).
func NewContext() *Context {
	return &Context{}
}

// NewContextWithKeyPair returns a Context pre-loaded with priv, skipping
// lazy generation entirely. Useful for long-lived servers and for test
// harnesses that want a fixed key across runs.
func NewContextWithKeyPair(priv *rsacrypto.PrivateKey) *Context {
	return &Context{priv: priv, pub: priv.Public()}
}

// UseKeyPair installs priv as the context's keypair, overwriting any
// previously generated or supplied one.
func (c *Context) UseKeyPair(priv *rsacrypto.PrivateKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.priv = priv
	c.pub = priv.Public()
}

// PinKey pins pub as the only acceptable peer public key for handshakes run
// under this context. Clear pinning by constructing a fresh Context.
func (c *Context) PinKey(pub *rsacrypto.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinnedKey = pub
	c.hasPin = true
}

// PinnedKey returns the pinned key and whether one is set.
func (c *Context) PinnedKey() (*rsacrypto.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pinnedKey, c.hasPin
}

// EnsureKeyPair returns the context's keypair, generating one if none has
// been supplied yet. Concurrent calls across sockets that share this
// Context collapse into a single RSA-4096 generation via singleflight,
// replacing the original's process-wide mutex around lazy keygen.
func (c *Context) EnsureKeyPair() (*rsacrypto.PrivateKey, error) {
	c.mu.RLock()
	if c.priv != nil {
		priv := c.priv
		c.mu.RUnlock()
		return priv, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.keygen.Do("keypair", func() (interface{}, error) {
		c.mu.RLock()
		if c.priv != nil {
			priv := c.priv
			c.mu.RUnlock()
			return priv, nil
		}
		c.mu.RUnlock()

		priv, err := rsacrypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.priv = priv
		c.pub = priv.Public()
		c.mu.Unlock()
		return priv, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*rsacrypto.PrivateKey), nil
}
