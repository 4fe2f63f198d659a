package async

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

const (
	opConnect = "connect"
	opRead    = "read"
	opWrite   = "write"
	opReadLn  = "read line"
)

// Interest is the readiness registration of one descriptor. *looper.IO
// satisfies it.
type Interest interface {
	WantRead()
	DontWantRead()
	WantWrite()
	DontWantWrite()
}

// Socket opens a non-blocking stream socket of the given address family.
func Socket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("opening socket: %w", err)
	}

	if family != unix.AF_UNIX {
		// Frames are small and latency matters more than throughput.
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}

	return fd, nil
}

// ResolveSockaddr resolves a host:port console address.
func ResolveSockaddr(addr string) (unix.Sockaddr, int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, 0, err
	}

	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}

	if ip6 := tcpAddr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: tcpAddr.Port}
		copy(sa.Addr[:], ip6)
		return sa, unix.AF_INET6, nil
	}

	// An empty host means the local machine.
	return &unix.SockaddrInet4{Port: tcpAddr.Port, Addr: [4]byte{127, 0, 0, 1}}, unix.AF_INET, nil
}

// Dial resolves addr and opens a non-blocking socket for it. The connect
// itself is left to a Connector or SyncSocket.
func Dial(addr string) (fd int, sa unix.Sockaddr, err error) {
	sa, family, err := ResolveSockaddr(addr)
	if err != nil {
		return -1, nil, err
	}

	fd, err = Socket(family)
	if err != nil {
		return -1, nil, err
	}

	return fd, sa, nil
}

// Connect starts a non-blocking connect. It returns nil when the connection
// completed synchronously, and an error satisfying IsWouldBlock when it is
// in progress.
func Connect(fd int, sa unix.Sockaddr) error {
	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if err == unix.EINTR {
		// The connect carries on asynchronously.
		return errWouldBlock
	}
	return sysError(opConnect, err)
}

// ConnectResult reports the outcome of a connect that was in progress.
func ConnectResult(fd int) error {
	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return sysError(opConnect, err)
	}
	if soErr != 0 {
		return sysError(opConnect, unix.Errno(soErr))
	}

	// Without a pending error the socket is either connected or still
	// waiting for the handshake.
	if _, err := unix.Getpeername(fd); err != nil {
		if err == unix.ENOTCONN {
			return errWouldBlock
		}
		return sysError(opConnect, err)
	}

	return nil
}

// Recv reads once from fd. A zero byte read is a ConnectionReset.
func Recv(fd int, b []byte) (int, error) {
	for {
		n, err := unix.Read(fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, sysError(opRead, err)
		}
		if n == 0 && len(b) > 0 {
			return 0, NewOpError(opRead, ErrConnectionReset)
		}
		return n, nil
	}
}

// Send writes once to fd without raising SIGPIPE on a closed peer.
func Send(fd int, b []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(fd, b, nil, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ENOTSOCK {
			// Plain descriptors, such as pipes in tests.
			n, err = unix.Write(fd, b)
			if err == unix.EINTR {
				continue
			}
		}
		if err != nil {
			return 0, sysError(opWrite, err)
		}
		return n, nil
	}
}

// Close closes fd, ignoring EINTR.
func Close(fd int) error {
	if fd < 0 {
		return nil
	}

	err := unix.Close(fd)
	if err == unix.EINTR {
		return nil
	}
	return err
}
