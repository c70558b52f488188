package ble

import (
	"bytes"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrElectrify/BlacklightFramework/executor"
	"github.com/MrElectrify/BlacklightFramework/rsacrypto"
	"github.com/MrElectrify/BlacklightFramework/transport"
)

// proxy relays bytes between two TCP connections, optionally flipping a
// single byte at a chosen absolute offset in the client->server direction.
// It lets tests corrupt a specific byte of "the next record on the wire"
// without needing to know the handshake's exact byte count up front: the
// test waits for the handshake to finish (so only record traffic remains),
// reads the proxy's current forwarded-byte count, and arms the flip at
// current+N.
type proxy struct {
	listener net.Listener
	target   string

	c2sPos   int64
	c2sFlip  int64 // -1 means disabled
}

func newProxy(t *testing.T, target string) *proxy {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("proxy listen: %v", err)
	}
	p := &proxy{listener: l, target: target, c2sFlip: -1}
	go p.acceptLoop(t)
	return p
}

func (p *proxy) acceptLoop(t *testing.T) {
	for {
		client, err := p.listener.Accept()
		if err != nil {
			return
		}
		server, err := net.Dial("tcp", p.target)
		if err != nil {
			client.Close()
			continue
		}
		go p.pump(server, client, nil)       // server -> client, untouched
		go p.pump(client, server, &p.c2sPos) // client -> server, flip-eligible
	}
}

func (p *proxy) pump(dst io.Writer, src io.Reader, posCounter *int64) {
	buf := make([]byte, 4096)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if posCounter != nil {
				pos := atomic.LoadInt64(posCounter)
				flipAt := atomic.LoadInt64(&p.c2sFlip)
				if flipAt >= 0 && flipAt >= pos && flipAt < pos+int64(n) {
					chunk[flipAt-pos] ^= 0xFF
					atomic.StoreInt64(&p.c2sFlip, -1)
				}
				atomic.AddInt64(posCounter, int64(n))
			}
			if _, werr := dst.Write(chunk); werr != nil {
				return
			}
		}
		if rerr != nil {
			return
		}
	}
}

// armClientToServerFlip corrupts the byte at 0-indexed offset `ahead` bytes
// from now in the client->server stream.
func (p *proxy) armClientToServerFlip(ahead int64) {
	pos := atomic.LoadInt64(&p.c2sPos)
	atomic.StoreInt64(&p.c2sFlip, pos+ahead)
}

func (p *proxy) addr() string { return p.listener.Addr().String() }
func (p *proxy) close()       { p.listener.Close() }

type testPair struct {
	client, server *Socket
	clientExec     *executor.Executor
	serverExec     *executor.Executor
	acceptor       *transport.Acceptor
	proxy          *proxy
}

func dialThroughProxy(t *testing.T) *testPair {
	t.Helper()

	serverExec := executor.New()
	clientExec := executor.New()
	go serverExec.Run()
	go clientExec.Run()

	acceptor, err := transport.Listen("tcp", "127.0.0.1:0", serverExec)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	p := newProxy(t, acceptor.LocalAddr().String())

	accepted := make(chan *transport.TCPSocket, 1)
	acceptor.AsyncAccept(func(sock *transport.TCPSocket, err error) {
		if err != nil {
			t.Errorf("accept: %v", err)
			accepted <- nil
			return
		}
		accepted <- sock
	})

	client := NewSocket(NewContext(), clientExec)
	if err := client.Connect("tcp", p.addr()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var serverConn *transport.TCPSocket
	select {
	case serverConn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("accept never completed")
	}

	server := NewSocketFromConn(NewContext(), serverExec, serverConn)

	serverErrCh := make(chan error, 1)
	go func() { serverErrCh <- server.Handshake() }()

	if err := client.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := <-serverErrCh; err != nil {
		t.Fatalf("server handshake: %v", err)
	}

	return &testPair{
		client:     client,
		server:     server,
		clientExec: clientExec,
		serverExec: serverExec,
		acceptor:   acceptor,
		proxy:      p,
	}
}

func (p *testPair) close() {
	p.client.Stop()
	p.server.Stop()
	p.acceptor.Close()
	p.proxy.close()
	p.clientExec.Stop()
	p.serverExec.Stop()
}

func TestHandshakeSymmetryAgreesOnKey(t *testing.T) {
	pair := dialThroughProxy(t)
	defer pair.close()

	if pair.client.getState() != stateComplete {
		t.Fatalf("client state = %v, want complete", pair.client.getState())
	}
	if pair.server.getState() != stateComplete {
		t.Fatalf("server state = %v, want complete", pair.server.getState())
	}
	if !bytes.Equal(pair.client.engine.KeyForTest(), pair.server.engine.KeyForTest()) {
		t.Fatal("client and server did not agree on the same AES key")
	}
}

func TestFramingResyncRejection(t *testing.T) {
	pair := dialThroughProxy(t)
	defer pair.close()

	// Flip the first byte of the next record, corrupting MAGIC1 and
	// desynchronizing the stream from the server's point of view.
	pair.proxy.armClientToServerFlip(0)
	if _, err := pair.client.WriteSome([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 1)
	_, err := pair.server.ReadSome(buf)
	if err != ErrBadMessage {
		t.Fatalf("got err %v, want ErrBadMessage", err)
	}
}

func TestAuthFailureDetection(t *testing.T) {
	pair := dialThroughProxy(t)
	defer pair.close()

	msg := []byte("authenticate this please")
	// Flip a ciphertext byte: header is 16 bytes, IV is 16 bytes, so byte
	// offset 40 (0-indexed 39) lands inside the ciphertext for any message
	// long enough to reach it.
	pair.proxy.armClientToServerFlip(39)
	if _, err := pair.client.WriteSome(msg); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, len(msg))
	_, err := pair.server.ReadSome(buf)
	if err != ErrDecrypt {
		t.Fatalf("got err %v, want ErrDecrypt", err)
	}
}

func TestKeyPinningFailureNeverProducesKey(t *testing.T) {
	serverPriv, err := rsacrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("genkey: %v", err)
	}
	otherPriv, err := rsacrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("genkey: %v", err)
	}

	serverExec := executor.New()
	clientExec := executor.New()
	go serverExec.Run()
	go clientExec.Run()

	acceptor, err := transport.Listen("tcp", "127.0.0.1:0", serverExec)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer acceptor.Close()

	accepted := make(chan *transport.TCPSocket, 1)
	acceptor.AsyncAccept(func(sock *transport.TCPSocket, err error) {
		accepted <- sock
	})

	serverCtx := NewContextWithKeyPair(serverPriv)
	clientCtx := NewContext()
	clientCtx.PinKey(otherPriv.Public())

	client := NewSocket(clientCtx, clientExec)
	if err := client.Connect("tcp", acceptor.LocalAddr().String()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	serverConn := <-accepted
	server := NewSocketFromConn(serverCtx, serverExec, serverConn)
	go server.Handshake()

	err = client.Handshake()
	if err == nil {
		t.Fatal("expected handshake error on pin mismatch")
	}
	if client.engine != nil {
		t.Fatal("client must never produce an AES engine on pin mismatch")
	}

	client.Stop()
	server.Stop()
	clientExec.Stop()
	serverExec.Stop()
}

func TestHandshakeStage3BufferSize(t *testing.T) {
	if stage3RecordSize != 52 {
		t.Fatalf("stage3RecordSize = %d, want 52", stage3RecordSize)
	}
}

func TestPrematureWriteReturnsNotConnected(t *testing.T) {
	s := NewSocket(NewContext(), executor.New())
	n, err := s.WriteSome([]byte("too soon"))
	if err != ErrNotConnected {
		t.Fatalf("got err %v, want ErrNotConnected", err)
	}
	if n != 0 {
		t.Fatalf("got n=%d, want 0", n)
	}
}
