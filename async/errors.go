package async

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	ErrConnectionRefused = errors.New("connection refused")
	ErrHostUnreachable   = errors.New("host unreachable")
	ErrTimeout           = errors.New("timed out")
	ErrBadBanner         = errors.New("bad console banner")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrConnectionReset   = errors.New("connection reset")
	ErrNoBufferSpace     = errors.New("no buffer space")

	// errWouldBlock never leaves this package's step functions, it is folded
	// into NeedMore.
	errWouldBlock = errors.New("operation would block")
)

// OpError is returned by every failed socket operation. Kind is one of the
// sentinel errors above. Errno is the underlying system error, if any.
type OpError struct {
	Op    string
	Kind  error
	Errno unix.Errno
}

func (e *OpError) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("%s: %v (%v)", e.Op, e.Kind, e.Errno)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

func (e *OpError) Unwrap() error {
	return e.Kind
}

// Is matches the underlying errno, so errors.Is(err, unix.ECONNREFUSED) works
// alongside errors.Is(err, ErrConnectionRefused).
func (e *OpError) Is(target error) bool {
	errno, ok := target.(unix.Errno)
	return ok && e.Errno != 0 && errno == e.Errno
}

// NewOpError builds an OpError for op with the given kind and no errno.
func NewOpError(op string, kind error) *OpError {
	return &OpError{Op: op, Kind: kind}
}

// IsWouldBlock reports whether err only means the operation has to wait for
// readiness.
func IsWouldBlock(err error) bool {
	return errors.Is(err, errWouldBlock)
}

// sysError maps a raw syscall error from op onto the error taxonomy.
func sysError(op string, err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return &OpError{Op: op, Kind: ErrConnectionReset}
	}

	switch errno {
	case unix.EAGAIN, unix.EINPROGRESS, unix.EALREADY:
		return errWouldBlock
	}

	return &OpError{Op: op, Kind: errnoKind(op, errno), Errno: errno}
}

func errnoKind(op string, errno unix.Errno) error {
	switch errno {
	case unix.ECONNREFUSED:
		return ErrConnectionRefused
	case unix.EHOSTUNREACH, unix.ENETUNREACH, unix.EHOSTDOWN, unix.ENETDOWN, unix.EADDRNOTAVAIL:
		return ErrHostUnreachable
	case unix.ETIMEDOUT:
		return ErrTimeout
	case unix.ENOBUFS, unix.ENOMEM:
		return ErrNoBufferSpace
	}

	if op == opConnect {
		return ErrHostUnreachable
	}

	// Anything else mid-stream is a hard reset of the connection.
	return ErrConnectionReset
}
