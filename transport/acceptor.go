package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/MrElectrify/BlacklightFramework/executor"
)

// deadliner is implemented by *net.TCPListener (and *net.UnixListener),
// letting AsyncAccept arm a short accept deadline without widening the
// listener field's type away from the generic net.Listener.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Acceptor listens for and accepts incoming TCP connections, restoring the
// original library's Acceptor component: a transport that can dial but
// never listen cannot support the server half of the BLE handshake.
type Acceptor struct {
	listener net.Listener
	exec     *executor.Executor
}

// Listen opens a TCP listener on addr. exec is the executor AsyncAccept
// queues its completion onto.
func Listen(network, addr string, exec *executor.Executor) (*Acceptor, error) {
	l, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}
	return &Acceptor{listener: l, exec: exec}, nil
}

// Accept blocks until a new connection arrives, returning it wrapped as a
// TCPSocket bound to the same executor as the Acceptor.
func (a *Acceptor) Accept() (*TCPSocket, error) {
	conn, err := a.listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	if err := setNonblocking(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return New(conn, a.exec), nil
}

// AsyncAccept accepts without blocking the caller. Each attempt arms a short
// accept deadline when the listener supports one; a timeout is treated as
// would-block and the attempt is re-queued onto exec, keeping every accept
// attempt on the acceptor's executor instead of a background goroutine.
func (a *Acceptor) AsyncAccept(callback func(sock *TCPSocket, err error)) {
	a.exec.QueueJob(func() { a.stepAccept(callback) })
}

func (a *Acceptor) stepAccept(callback func(sock *TCPSocket, err error)) {
	if dl, ok := a.listener.(deadliner); ok {
		dl.SetDeadline(time.Now().Add(asyncPollTimeout))
	}
	conn, err := a.listener.Accept()
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			a.exec.QueueJob(func() { a.stepAccept(callback) })
			return
		}
		callback(nil, fmt.Errorf("transport: accept: %w", err))
		return
	}
	if err := setNonblocking(conn); err != nil {
		conn.Close()
		callback(nil, fmt.Errorf("transport: accept: %w", err))
		return
	}
	callback(New(conn, a.exec), nil)
}

// LocalAddr returns the address the acceptor is listening on.
func (a *Acceptor) LocalAddr() net.Addr {
	return a.listener.Addr()
}

// Close stops listening for new connections.
func (a *Acceptor) Close() error {
	return a.listener.Close()
}
