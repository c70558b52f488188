//go:build linux

package transport

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// setNonblocking explicitly forces O_NONBLOCK on conn's raw file descriptor,
// the direct analogue of the original's fcntl(m_socket, F_SETFL, ... |
// O_NONBLOCK) in TCPSocket::Connect. Go's netpoller already multiplexes
// blocking-looking calls, but BLE's spec calls out non-blocking-at-the-fd
// semantics as an observable property, so it's set explicitly rather than
// left as an implementation detail of net.Conn.
func setNonblocking(conn net.Conn) error {
	sc, ok := conn.(syscallConner)
	if !ok {
		return nil
	}
	rawConn, err := sc.SyscallConn()
	if err != nil {
		return fmt.Errorf("obtaining raw conn: %w", err)
	}

	var opErr error
	err = rawConn.Control(func(fd uintptr) {
		opErr = unix.SetNonblock(int(fd), true)
	})
	if err != nil {
		return fmt.Errorf("controlling raw conn: %w", err)
	}
	if opErr != nil {
		return fmt.Errorf("setting O_NONBLOCK: %w", opErr)
	}
	return nil
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}
