//go:build !linux

package transport

import "net"

// setNonblocking is a no-op outside linux: golang.org/x/sys/unix's
// SetNonblock has no portable equivalent across every platform Go targets,
// and net.Conn's own goroutine-based I/O model already behaves as
// non-blocking from the caller's perspective regardless of the fd's mode.
func setNonblocking(conn net.Conn) error {
	return nil
}
