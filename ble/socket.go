// Package ble implements the Blacklight Encryption secure transport: a TCP
// socket that performs a three-stage RSA-then-AES-GCM handshake and
// thereafter frames every application message as an authenticated,
// length-prefixed encrypted record.
package ble

import (
	"errors"
	"sync"

	"github.com/MrElectrify/BlacklightFramework/aesgcm"
	"github.com/MrElectrify/BlacklightFramework/executor"
	"github.com/MrElectrify/BlacklightFramework/transport"
)

// Socket is the public facade gating blocking and async I/O on handshake
// state: raw passthrough while IN_PROGRESS, framed through the record layer
// once COMPLETE, NotConnectedError otherwise.
type Socket struct {
	ctx  *Context
	exec *executor.Executor

	mu       sync.Mutex
	state    state
	tcp      *transport.TCPSocket
	engine   *aesgcm.Engine
	isServer bool

	ioMu     sync.Mutex
	overflow []byte
}

// NewSocket returns an idle client-role socket bound to ctx and exec. Call
// Connect then Handshake (or their async equivalents) before any I/O.
func NewSocket(ctx *Context, exec *executor.Executor) *Socket {
	return &Socket{ctx: ctx, exec: exec}
}

// NewSocketFromConn wraps an already-accepted connection (typically from a
// transport.Acceptor) as a server-role socket ready for Handshake.
func NewSocketFromConn(ctx *Context, exec *executor.Executor, tcp *transport.TCPSocket) *Socket {
	return &Socket{ctx: ctx, exec: exec, tcp: tcp, isServer: true}
}

func (s *Socket) getState() state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) setState(st state) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Connect dials addr as a client. It fails with ErrAlreadyConnected if the
// socket already has a live connection.
func (s *Socket) Connect(network, addr string) error {
	s.mu.Lock()
	if s.tcp != nil && s.tcp.IsConnected() {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	if s.tcp == nil {
		s.tcp = transport.New(nil, s.exec)
	}
	s.isServer = false
	tcp := s.tcp
	s.mu.Unlock()

	return tcp.Connect(network, addr)
}

// AsyncConnect is the non-blocking form of Connect. The dial itself runs as
// a job on the socket's executor (transport.TCPSocket.AsyncConnect's own
// would-block retry loop), so callback's eventual invocation is always the
// result of a job popped off exec, never a background goroutine.
func (s *Socket) AsyncConnect(network, addr string, callback func(err error)) {
	s.mu.Lock()
	if s.tcp != nil && s.tcp.IsConnected() {
		s.mu.Unlock()
		s.exec.QueueJob(func() { callback(ErrAlreadyConnected) })
		return
	}
	if s.tcp == nil {
		s.tcp = transport.New(nil, s.exec)
	}
	s.isServer = false
	tcp := s.tcp
	s.mu.Unlock()

	tcp.AsyncConnect(network, addr, callback)
}

// Handshake runs the three-stage negotiation appropriate to the socket's
// role (client if constructed via NewSocket+Connect, server if constructed
// via NewSocketFromConn), blocking until it completes or fails.
func (s *Socket) Handshake() error {
	if s.tcp == nil || !s.tcp.IsConnected() {
		return ErrNotConnected
	}
	if s.isServer {
		return s.runServerHandshake()
	}
	return s.runClientHandshake()
}

// AsyncHandshake is the non-blocking form of Handshake: rather than running
// the whole multi-stage negotiation on a background goroutine, it chains the
// stages as a sequence of jobs on the socket's executor, each one issuing a
// single async read or write and resuming from its callback. This mirrors
// the original's AsyncCS1/AsyncCS1W/AsyncCS2/... and AsyncSS1/... chains: no
// stage ever blocks the goroutine driving exec, and two handshakes sharing
// an executor interleave at stage granularity rather than running
// concurrently.
func (s *Socket) AsyncHandshake(callback func(err error)) {
	if s.tcp == nil || !s.tcp.IsConnected() {
		s.exec.QueueJob(func() { callback(ErrNotConnected) })
		return
	}
	if s.isServer {
		s.asyncRunServerHandshake(callback)
		return
	}
	s.asyncRunClientHandshake(callback)
}

// IsConnected reports whether the underlying transport is connected,
// independent of handshake state.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tcp != nil && s.tcp.IsConnected()
}

// Stop shuts down the transport and returns the socket to IDLE, clearing
// any overflow and session key material. Safe to call on a socket that was
// never connected.
func (s *Socket) Stop() error {
	s.mu.Lock()
	s.state = stateIdle
	s.engine = nil
	tcp := s.tcp
	s.mu.Unlock()

	s.ioMu.Lock()
	s.overflow = nil
	s.ioMu.Unlock()

	if tcp == nil {
		return nil
	}
	return tcp.Stop()
}

// ReadSome reads into buf according to the facade's state table: raw
// passthrough while IN_PROGRESS, one framed record's worth while COMPLETE,
// ErrNotConnected otherwise.
func (s *Socket) ReadSome(buf []byte) (int, error) {
	switch s.getState() {
	case stateInProgress:
		return s.tcp.ReadSome(buf)
	case stateComplete:
		return s.framedReadSome(buf)
	default:
		return 0, ErrNotConnected
	}
}

// ReadSomeEC is the out-parameter-error variant of ReadSome.
func (s *Socket) ReadSomeEC(buf []byte, ec *error) int {
	n, err := s.ReadSome(buf)
	*ec = err
	return n
}

// AsyncReadSome is the async form of ReadSome. Raw passthrough while
// IN_PROGRESS is handed straight to transport's own would-block retry loop;
// the framed COMPLETE path runs its header/record reads the same way via
// asyncFramedReadSome.
func (s *Socket) AsyncReadSome(buf []byte, callback func(n int, err error)) {
	switch s.getState() {
	case stateInProgress:
		s.tcp.AsyncReadSome(buf, callback)
	case stateComplete:
		s.asyncFramedReadSome(buf, callback)
	default:
		s.exec.QueueJob(func() { callback(0, ErrNotConnected) })
	}
}

// Read fills buf completely, looping over ReadSome.
func (s *Socket) Read(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.ReadSome(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// AsyncRead is the async form of Read, chaining AsyncReadSome calls to fill
// buf completely.
func (s *Socket) AsyncRead(buf []byte, callback func(n int, err error)) {
	s.asyncReadLoop(buf, 0, callback)
}

func (s *Socket) asyncReadLoop(buf []byte, total int, callback func(n int, err error)) {
	if total >= len(buf) {
		callback(total, nil)
		return
	}
	s.AsyncReadSome(buf[total:], func(n int, err error) {
		total += n
		if err != nil {
			callback(total, err)
			return
		}
		if n == 0 {
			callback(total, nil)
			return
		}
		s.asyncReadLoop(buf, total, callback)
	})
}

// WriteSome writes buf according to the facade's state table: raw
// passthrough while IN_PROGRESS, one framed record while COMPLETE,
// ErrNotConnected otherwise. On success in COMPLETE state it returns
// len(buf) (the caller's plaintext length), not the wire length.
func (s *Socket) WriteSome(buf []byte) (int, error) {
	switch s.getState() {
	case stateInProgress:
		return s.tcp.WriteSome(buf)
	case stateComplete:
		return s.framedWriteSome(buf)
	default:
		return 0, ErrNotConnected
	}
}

// WriteSomeEC is the out-parameter-error variant of WriteSome.
func (s *Socket) WriteSomeEC(buf []byte, ec *error) int {
	n, err := s.WriteSome(buf)
	*ec = err
	return n
}

// AsyncWriteSome is the async form of WriteSome, with the same
// passthrough-vs-framed split as AsyncReadSome.
func (s *Socket) AsyncWriteSome(buf []byte, callback func(n int, err error)) {
	switch s.getState() {
	case stateInProgress:
		s.tcp.AsyncWriteSome(buf, callback)
	case stateComplete:
		s.asyncFramedWriteSome(buf, callback)
	default:
		s.exec.QueueJob(func() { callback(0, ErrNotConnected) })
	}
}

// Write sends all of buf, looping over WriteSome as needed.
func (s *Socket) Write(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.WriteSome(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}

// AsyncWrite is the async form of Write, chaining AsyncWriteSome calls to
// send buf completely.
func (s *Socket) AsyncWrite(buf []byte, callback func(n int, err error)) {
	s.asyncWriteLoop(buf, 0, callback)
}

func (s *Socket) asyncWriteLoop(buf []byte, total int, callback func(n int, err error)) {
	if total >= len(buf) {
		callback(total, nil)
		return
	}
	s.AsyncWriteSome(buf[total:], func(n int, err error) {
		total += n
		if err != nil {
			callback(total, err)
			return
		}
		if n == 0 {
			callback(total, nil)
			return
		}
		s.asyncWriteLoop(buf, total, callback)
	})
}

// framedReadSome implements the record framer's receive path (spec §4.8):
// drain the overflow buffer first, then pull at most one record from the
// wire, delivering as much of its plaintext as fits and carrying the rest
// over in the overflow buffer.
func (s *Socket) framedReadSome(buf []byte) (int, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	delivered := 0
	if len(s.overflow) > 0 {
		n := copy(buf, s.overflow)
		delivered = n
		s.overflow = s.overflow[n:]
		if delivered == len(buf) {
			return delivered, nil
		}
	}

	header := make([]byte, headerSize)
	if _, err := s.tcp.Read(header); err != nil {
		return delivered, err
	}
	length, err := decodeHeader(header)
	if err != nil {
		return delivered, err
	}

	record := make([]byte, length)
	if _, err := s.tcp.Read(record); err != nil {
		return delivered, err
	}

	plaintext, err := s.engine.Decrypt(record)
	if err != nil {
		return delivered, ErrDecrypt
	}

	n := copy(buf[delivered:], plaintext)
	delivered += n
	if n < len(plaintext) {
		s.overflow = append(s.overflow, plaintext[n:]...)
	}
	return delivered, nil
}

// framedWriteSome implements the record framer's send path (spec §4.8),
// sealing the whole of buf as a single record and returning the caller's
// plaintext length on success.
func (s *Socket) framedWriteSome(buf []byte) (int, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	wire, err := encodeRecord(s.engine, buf)
	if err != nil {
		return 0, wrapIVReuse(err)
	}
	if _, err := s.tcp.Write(wire); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// asyncFramedReadSome is the async counterpart of framedReadSome: the
// overflow drain is immediate, but the header and record reads each run as
// a transport.AsyncRead (itself a would-block retry chain on s.tcp's
// executor), with the next stage issued from the previous one's callback.
func (s *Socket) asyncFramedReadSome(buf []byte, callback func(n int, err error)) {
	s.ioMu.Lock()
	delivered := 0
	if len(s.overflow) > 0 {
		n := copy(buf, s.overflow)
		delivered = n
		s.overflow = s.overflow[n:]
		if delivered == len(buf) {
			s.ioMu.Unlock()
			s.exec.QueueJob(func() { callback(delivered, nil) })
			return
		}
	}
	s.ioMu.Unlock()

	header := make([]byte, headerSize)
	s.tcp.AsyncRead(header, func(n int, err error) {
		if err != nil {
			callback(delivered, err)
			return
		}
		length, err := decodeHeader(header)
		if err != nil {
			callback(delivered, err)
			return
		}

		record := make([]byte, length)
		s.tcp.AsyncRead(record, func(n int, err error) {
			if err != nil {
				callback(delivered, err)
				return
			}

			s.ioMu.Lock()
			defer s.ioMu.Unlock()
			plaintext, err := s.engine.Decrypt(record)
			if err != nil {
				callback(delivered, ErrDecrypt)
				return
			}

			copied := copy(buf[delivered:], plaintext)
			total := delivered + copied
			if copied < len(plaintext) {
				s.overflow = append(s.overflow, plaintext[copied:]...)
			}
			callback(total, nil)
		})
	})
}

// asyncFramedWriteSome is the async counterpart of framedWriteSome: sealing
// the record is local computation, so only the wire write needs to go
// through transport's async path.
func (s *Socket) asyncFramedWriteSome(buf []byte, callback func(n int, err error)) {
	s.ioMu.Lock()
	wire, err := encodeRecord(s.engine, buf)
	s.ioMu.Unlock()
	if err != nil {
		s.exec.QueueJob(func() { callback(0, wrapIVReuse(err)) })
		return
	}

	s.tcp.AsyncWrite(wire, func(n int, err error) {
		if err != nil {
			callback(0, err)
			return
		}
		callback(len(buf), nil)
	})
}

// wrapIVReuse translates aesgcm's counter-exhaustion error into the
// ble-level sentinel callers are expected to match against.
func wrapIVReuse(err error) error {
	if errors.Is(err, aesgcm.ErrIVReuse) {
		return ErrIVReuse
	}
	return err
}
