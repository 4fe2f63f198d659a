// Package syncsock offers blocking style reads and writes with deadlines on
// top of a non-blocking socket.
//
// A SyncSocket never blocks in a syscall. It waits for readiness on its own
// poller, bounded by the deadline, and then issues one non-blocking syscall,
// so it can be used from inside an event loop handler without stalling the
// loop for longer than the timeout it was given.
package syncsock

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/looper"
)

var ErrClosed = errors.New("syncsock: socket is closed")

type SyncSocket struct {
	fd     int
	poller *looper.Poller
	events []looper.Event

	// started is the interest armed with StartRead and StartWrite.
	started uint32
	closed  bool

	log *zap.Logger
}

// New wraps fd, switching it to non-blocking mode. The SyncSocket owns fd from
// then on.
func New(fd int, log *zap.Logger) (*SyncSocket, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("setting socket non-blocking: %w", err)
	}

	poller, err := looper.MakePoller()
	if err != nil {
		return nil, fmt.Errorf("creating poller: %w", err)
	}

	return &SyncSocket{
		fd:     fd,
		poller: poller,
		events: make([]looper.Event, 1),
		log:    log,
	}, nil
}

// Connect dials addr and waits at most timeout for the connection to be
// established.
func Connect(addr string, timeout time.Duration, log *zap.Logger) (*SyncSocket, error) {
	deadline := time.Now().Add(timeout)

	fd, sa, err := async.Dial(addr)
	if err != nil {
		return nil, err
	}

	s, err := New(fd, log)
	if err != nil {
		return nil, multierr.Append(err, async.Close(fd))
	}

	if err := s.connect(sa, deadline); err != nil {
		return nil, multierr.Append(err, s.Close())
	}

	return s, nil
}

func (s *SyncSocket) connect(sa unix.Sockaddr, deadline time.Time) error {
	err := async.Connect(s.fd, sa)
	if err == nil {
		return nil
	}
	if !async.IsWouldBlock(err) {
		return err
	}

	restore, err := s.arm(looper.EventWrite)
	if err != nil {
		return err
	}
	defer restore()

	for {
		if err := s.wait(looper.EventWrite, deadline); err != nil {
			return err
		}

		err := async.ConnectResult(s.fd)
		if !async.IsWouldBlock(err) {
			return err
		}
	}
}

func (s *SyncSocket) Fd() int {
	return s.fd
}

// StartRead arms read interest until StopRead. Calling it again is a no-op.
func (s *SyncSocket) StartRead() {
	s.start(looper.EventRead)
}

// StopRead is a no-op when reading was not started.
func (s *SyncSocket) StopRead() {
	s.stop(looper.EventRead)
}

func (s *SyncSocket) StartWrite() {
	s.start(looper.EventWrite)
}

func (s *SyncSocket) StopWrite() {
	s.stop(looper.EventWrite)
}

func (s *SyncSocket) start(event uint32) {
	if s.closed || s.started&event != 0 {
		return
	}
	if err := s.setInterest(s.started | event); err != nil {
		return
	}
	s.started |= event
}

func (s *SyncSocket) stop(event uint32) {
	if s.closed || s.started&event == 0 {
		return
	}
	if err := s.setInterest(s.started &^ event); err != nil {
		return
	}
	s.started &^= event
}

// setInterest points the private poller at interest. Failures are logged
// here, callers that cannot do anything about them may drop them.
func (s *SyncSocket) setInterest(interest uint32) error {
	if err := s.poller.Set(s.fd, interest); err != nil {
		s.log.Warn("Failed to update socket interest",
			zap.Int("fd", s.fd),
			zap.Uint32("events", interest),
			zap.Error(err))
		return fmt.Errorf("arming socket: %w", err)
	}
	return nil
}

// Read reads exactly len(b) bytes, giving up after timeout.
func (s *SyncSocket) Read(b []byte, timeout time.Duration) (int, error) {
	return s.ReadDeadline(b, time.Now().Add(timeout))
}

// ReadDeadline reads exactly len(b) bytes, giving up at deadline. It returns
// the number of bytes read before any error.
func (s *SyncSocket) ReadDeadline(b []byte, deadline time.Time) (int, error) {
	return s.transfer(looper.EventRead, b, deadline, async.Recv)
}

// Write writes all of b, giving up after timeout.
func (s *SyncSocket) Write(b []byte, timeout time.Duration) (int, error) {
	return s.WriteDeadline(b, time.Now().Add(timeout))
}

// WriteDeadline writes all of b, giving up at deadline. Partial writes
// accumulate, the returned count is the number of bytes written.
func (s *SyncSocket) WriteDeadline(b []byte, deadline time.Time) (int, error) {
	return s.transfer(looper.EventWrite, b, deadline, async.Send)
}

// ReadLine reads up to and including a `\n` into b, giving up after timeout.
func (s *SyncSocket) ReadLine(b []byte, timeout time.Duration) (int, error) {
	return s.ReadLineDeadline(b, time.Now().Add(timeout))
}

// ReadLineDeadline reads one byte at a time until `\n`. It returns the line
// length including the terminator. A line that does not fit in b fails with
// ErrNoBufferSpace.
func (s *SyncSocket) ReadLineDeadline(b []byte, deadline time.Time) (int, error) {
	var n int
	for {
		if n >= len(b) {
			return n, async.NewOpError("read line", async.ErrNoBufferSpace)
		}

		if _, err := s.ReadDeadline(b[n:n+1], deadline); err != nil {
			return n, err
		}

		n++
		if b[n-1] == '\n' {
			return n, nil
		}
	}
}

type syscallFunc func(fd int, b []byte) (int, error)

func (s *SyncSocket) transfer(event uint32, b []byte, deadline time.Time, syscall syscallFunc) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}

	restore, err := s.arm(event)
	if err != nil {
		return 0, err
	}
	defer restore()

	var off int
	for off < len(b) {
		n, err := syscall(s.fd, b[off:])
		if err == nil {
			off += n
			continue
		}
		if !async.IsWouldBlock(err) {
			return off, err
		}

		if err := s.wait(event, deadline); err != nil {
			return off, err
		}
	}

	return off, nil
}

// arm makes sure event is armed for the duration of one call, and returns a
// function restoring the interest set by Start and Stop.
func (s *SyncSocket) arm(event uint32) (func(), error) {
	if s.started&event != 0 {
		return func() {}, nil
	}

	if err := s.setInterest(s.started | event); err != nil {
		return nil, err
	}
	return func() {
		if !s.closed {
			_ = s.setInterest(s.started)
		}
	}, nil
}

func (s *SyncSocket) wait(event uint32, deadline time.Time) error {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &async.OpError{Op: "wait", Kind: async.ErrTimeout, Errno: unix.ETIMEDOUT}
		}

		n, _, err := s.poller.Wait(s.events, remaining)
		if err != nil {
			return fmt.Errorf("waiting for readiness: %w", err)
		}

		for _, e := range s.events[:n] {
			if e.Fd == s.fd && e.Ready&event != 0 {
				return nil
			}
		}
	}
}

// Close releases the poller and closes the socket. Calling it more than once
// is a no-op.
func (s *SyncSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	return multierr.Combine(
		s.setInterest(0),
		s.poller.Close(),
		async.Close(s.fd),
	)
}
