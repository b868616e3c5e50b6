//go:build linux

package poller

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

/*
	Socket plumbing for the engine. Everything here is non-blocking: a
	blocking accept or connect would park the one goroutine the proxy has.
*/

const listenBacklog = 128

// Inet4 converts a dotted-quad literal into the 4-byte form sockaddrs want.
func Inet4(addr string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(addr)
	if ip == nil {
		return out, fmt.Errorf("invalid IPv4 address %q", addr)
	}
	v4 := ip.To4()
	if v4 == nil {
		return out, fmt.Errorf("address %q is not IPv4", addr)
	}
	copy(out[:], v4)
	return out, nil
}

// Listen creates a non-blocking listening socket bound to addr:port.
// SO_REUSEADDR for fast restarts; SO_REUSEPORT and TCP_DEFER_ACCEPT are
// best-effort since older kernels lack them.
func Listen(addr string, port int) (int, error) {
	ip, err := Inet4(addr)
	if err != nil {
		return -1, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 1)

	sa := &unix.SockaddrInet4{Port: port, Addr: ip}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s:%d: %w", addr, port, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen %s:%d: %w", addr, port, err)
	}
	return fd, nil
}

// BoundPort reports the local port of a bound socket, for port-0 binds.
func BoundPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("getsockname: %w", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, fmt.Errorf("getsockname: unexpected family %T", sa)
	}
	return in4.Port, nil
}

// Accept pulls one pending connection off the listener, already non-blocking.
// unix.EAGAIN signals an empty accept queue.
func Accept(listenFD int) (int, error) {
	fd, _, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// SetDataOptions applies the per-connection socket options: TCP_NODELAY so
// small proxied writes are not held hostage by Nagle, SO_KEEPALIVE for
// dead-peer detection.
func SetDataOptions(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("setsockopt TCP_NODELAY: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return fmt.Errorf("setsockopt SO_KEEPALIVE: %w", err)
	}
	return nil
}

// Connect starts a non-blocking connect to addr:port. inProgress is true when
// the kernel answered EINPROGRESS; the socket becomes writable once the
// handshake resolves and SockErr tells the outcome.
func Connect(addr string, port int) (fd int, inProgress bool, err error) {
	ip, err := Inet4(addr)
	if err != nil {
		return -1, false, err
	}

	fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, false, fmt.Errorf("socket: %w", err)
	}
	if err := SetDataOptions(fd); err != nil {
		unix.Close(fd)
		return -1, false, err
	}

	sa := &unix.SockaddrInet4{Port: port, Addr: ip}
	err = unix.Connect(fd, sa)
	switch err {
	case nil:
		return fd, false, nil
	case unix.EINPROGRESS:
		return fd, true, nil
	default:
		unix.Close(fd)
		return -1, false, fmt.Errorf("connect %s:%d: %w", addr, port, err)
	}
}

// SockErr reads SO_ERROR, the async-connect outcome. Zero means the
// handshake succeeded.
func SockErr(fd int) (unix.Errno, error) {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	return unix.Errno(v), nil
}
