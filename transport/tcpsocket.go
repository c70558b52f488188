// Package transport implements the byte-level TCP transport BLE runs its
// handshake and record framer over: blocking Connect/Read/Write, plus async
// variants that never block the calling goroutine. Each async attempt arms a
// short deadline; a net.Error with Timeout() true is would-block, and the
// state machine re-queues the same attempt onto its executor.Executor rather
// than retrying on a background goroutine, so every byte transferred for a
// given socket passes through that executor's single FIFO.
package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/MrElectrify/BlacklightFramework/executor"
)

// ErrNotConnected is returned by operations attempted before Connect/accept.
var ErrNotConnected = errors.New("transport: not connected")

// ErrAlreadyConnected is returned by Connect on an already-connected socket.
var ErrAlreadyConnected = errors.New("transport: already connected")

// Callback is the completion handler for an async operation: n bytes
// transferred, or err on failure (including io.EOF on peer close).
type Callback func(n int, err error)

// TCPSocket wraps a net.Conn with the blocking and async read/write surface
// BLE's handshake and framer build on. The async methods queue their
// completion onto an executor.Executor rather than spawning a goroutine per
// call, keeping every callback's execution strictly ordered.
type TCPSocket struct {
	conn      net.Conn
	exec      *executor.Executor
	connected bool
}

// New wraps an already-established connection (e.g. from net.Dial or from
// an Acceptor) for use with BLE's async API. exec is the executor async
// completions are queued onto.
func New(conn net.Conn, exec *executor.Executor) *TCPSocket {
	return &TCPSocket{conn: conn, exec: exec, connected: conn != nil}
}

// Connect dials addr, replacing any existing connection. It fails with
// ErrAlreadyConnected if the socket is already connected.
func (s *TCPSocket) Connect(network, addr string) error {
	if s.connected {
		return ErrAlreadyConnected
	}
	conn, err := net.Dial(network, addr)
	if err != nil {
		return fmt.Errorf("transport: connect: %w", err)
	}
	if err := setNonblocking(conn); err != nil {
		conn.Close()
		return fmt.Errorf("transport: connect: %w", err)
	}
	s.conn = conn
	s.connected = true
	return nil
}

// asyncPollTimeout bounds each non-blocking attempt an async state machine
// makes before re-queuing itself: short enough that a would-block condition
// is detected promptly, long enough that a healthy loopback or LAN round
// trip usually finishes within a single attempt.
const asyncPollTimeout = 20 * time.Millisecond

// AsyncConnect dials addr without blocking the caller. Each attempt runs as
// a job on exec; a dial that doesn't complete within asyncPollTimeout is
// treated as a would-block condition and re-queued rather than retried on a
// background goroutine, so every attempt against s stays on the executor's
// single FIFO.
func (s *TCPSocket) AsyncConnect(network, addr string, callback func(err error)) {
	s.exec.QueueJob(func() { s.stepConnect(network, addr, callback) })
}

func (s *TCPSocket) stepConnect(network, addr string, callback func(err error)) {
	if s.connected {
		callback(ErrAlreadyConnected)
		return
	}
	conn, err := net.DialTimeout(network, addr, asyncPollTimeout)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			s.exec.QueueJob(func() { s.stepConnect(network, addr, callback) })
			return
		}
		callback(fmt.Errorf("transport: connect: %w", err))
		return
	}
	if err := setNonblocking(conn); err != nil {
		conn.Close()
		callback(fmt.Errorf("transport: connect: %w", err))
		return
	}
	s.conn = conn
	s.connected = true
	callback(nil)
}

// IsConnected reports whether the socket currently has a live connection.
func (s *TCPSocket) IsConnected() bool {
	return s.connected && s.conn != nil
}

// ReadSome reads at least one byte into buf, returning as soon as any data
// is available, the same as a single non-blocking recv that actually reads.
func (s *TCPSocket) ReadSome(buf []byte) (int, error) {
	if !s.IsConnected() {
		return 0, ErrNotConnected
	}
	n, err := s.conn.Read(buf)
	if err != nil {
		return n, err
	}
	return n, nil
}

// Read fills buf completely, looping over ReadSome as needed.
func (s *TCPSocket) Read(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.ReadSome(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// AsyncReadSome queues callback once at least one byte has been read into
// buf. Each attempt arms a short read deadline and treats the resulting
// timeout as would-block, re-queuing itself onto exec rather than blocking
// the caller or a background goroutine.
func (s *TCPSocket) AsyncReadSome(buf []byte, callback Callback) {
	s.exec.QueueJob(func() { s.stepReadSome(buf, callback) })
}

func (s *TCPSocket) stepReadSome(buf []byte, callback Callback) {
	if !s.IsConnected() {
		callback(0, ErrNotConnected)
		return
	}
	s.conn.SetReadDeadline(time.Now().Add(asyncPollTimeout))
	n, err := s.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			s.exec.QueueJob(func() { s.stepReadSome(buf, callback) })
			return
		}
		s.conn.SetReadDeadline(time.Time{})
		callback(n, err)
		return
	}
	s.conn.SetReadDeadline(time.Time{})
	callback(n, nil)
}

// AsyncRead queues callback once buf has been filled completely or an error
// occurs, chaining would-block retries of the remaining tail the same way
// AsyncReadSome does.
func (s *TCPSocket) AsyncRead(buf []byte, callback Callback) {
	s.exec.QueueJob(func() { s.stepRead(buf, 0, callback) })
}

func (s *TCPSocket) stepRead(buf []byte, total int, callback Callback) {
	if total >= len(buf) {
		callback(total, nil)
		return
	}
	s.stepReadSome(buf[total:], func(n int, err error) {
		total += n
		if err != nil {
			callback(total, err)
			return
		}
		s.stepRead(buf, total, callback)
	})
}

// WriteSome writes at least one byte from buf, returning the number of
// bytes actually accepted by the connection in a single call.
func (s *TCPSocket) WriteSome(buf []byte) (int, error) {
	if !s.IsConnected() {
		return 0, ErrNotConnected
	}
	return s.conn.Write(buf)
}

// Write writes all of buf, loop-calling WriteSome as needed. Unlike the
// original's TCPSocket::Write, bytesSent accumulates the result of each
// WriteSome call exactly once.
func (s *TCPSocket) Write(buf []byte) (int, error) {
	bytesSent := 0
	for bytesSent < len(buf) {
		sent, err := s.WriteSome(buf[bytesSent:])
		bytesSent += sent
		if err != nil {
			return bytesSent, err
		}
	}
	return bytesSent, nil
}

// AsyncWriteSome queues callback once at least one byte of buf has been
// sent, re-queuing on the same would-block signal AsyncReadSome uses.
func (s *TCPSocket) AsyncWriteSome(buf []byte, callback Callback) {
	s.exec.QueueJob(func() { s.stepWriteSome(buf, callback) })
}

func (s *TCPSocket) stepWriteSome(buf []byte, callback Callback) {
	if !s.IsConnected() {
		callback(0, ErrNotConnected)
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(asyncPollTimeout))
	n, err := s.conn.Write(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			s.exec.QueueJob(func() { s.stepWriteSome(buf, callback) })
			return
		}
		s.conn.SetWriteDeadline(time.Time{})
		callback(n, err)
		return
	}
	s.conn.SetWriteDeadline(time.Time{})
	callback(n, nil)
}

// AsyncWrite queues callback once all of buf has been sent or an error
// occurs, chaining would-block retries of the remaining tail.
func (s *TCPSocket) AsyncWrite(buf []byte, callback Callback) {
	s.exec.QueueJob(func() { s.stepWrite(buf, 0, callback) })
}

func (s *TCPSocket) stepWrite(buf []byte, total int, callback Callback) {
	if total >= len(buf) {
		callback(total, nil)
		return
	}
	s.stepWriteSome(buf[total:], func(n int, err error) {
		total += n
		if err != nil {
			callback(total, err)
			return
		}
		s.stepWrite(buf, total, callback)
	})
}

// SetDeadline forwards to the underlying connection, letting a caller bound
// a blocking call directly. The async methods manage their own short,
// per-attempt deadlines internally and don't call this.
func (s *TCPSocket) SetDeadline(t time.Time) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return s.conn.SetDeadline(t)
}

// Stop closes the underlying connection and marks the socket disconnected.
func (s *TCPSocket) Stop() error {
	if !s.connected || s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.connected = false
	return err
}

// LocalAddr and RemoteAddr expose the underlying connection's endpoints.
func (s *TCPSocket) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *TCPSocket) RemoteAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// Conn exposes the underlying net.Conn for callers that need direct deadline
// or raw-read access.
func (s *TCPSocket) Conn() net.Conn {
	return s.conn
}
