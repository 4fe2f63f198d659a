package looper

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// Readiness bits reported by the Poller and accepted by Poller.Set.
const (
	EventRead  uint32 = unix.EPOLLIN
	EventWrite uint32 = unix.EPOLLOUT

	// hangup readiness is folded into whichever interest is armed, so the
	// owner finds out about the reset from its next syscall.
	eventHangup uint32 = unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLRDHUP
)

// Event is one ready descriptor returned by Poller.Wait.
type Event struct {
	Fd    int
	Ready uint32
}

// Poller is a thin wrapper over an epoll instance plus an eventfd that can be
// used to interrupt a blocked Wait from another goroutine.
type Poller struct {
	fd     int
	wakeFd int

	interest map[int]uint32
	raw      []unix.EpollEvent
}

func MakePoller() (*Poller, error) {
	var (
		poller = Poller{interest: make(map[int]uint32)}
		err    error
	)

	// Open an epoll fd
	// https://man7.org/linux/man-pages/man2/epoll_create.2.html
	poller.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	// https://man7.org/linux/man-pages/man2/eventfd.2.html
	poller.wakeFd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(poller.fd)
		return nil, err
	}

	// Only readability matters for the wake fd, an eventfd is always writable
	// https://man7.org/linux/man-pages/man2/epoll_ctl.2.html
	event := &unix.EpollEvent{Fd: int32(poller.wakeFd), Events: unix.EPOLLIN}
	if err = unix.EpollCtl(poller.fd, unix.EPOLL_CTL_ADD, poller.wakeFd, event); err != nil {
		unix.Close(poller.wakeFd)
		unix.Close(poller.fd)
		return nil, err
	}

	return &poller, nil
}

// Interest returns the readiness bits currently armed for fd.
func (p *Poller) Interest(fd int) uint32 {
	return p.interest[fd]
}

// Set arms exactly the given readiness bits for fd. Setting zero removes fd
// from the epoll set. Setting the bits already armed is a no-op.
func (p *Poller) Set(fd int, events uint32) error {
	current, registered := p.interest[fd]
	if registered && current == events {
		return nil
	}

	switch {
	case events == 0:
		if !registered {
			return nil
		}
		delete(p.interest, fd)
		err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
		if err == unix.EBADF || err == unix.ENOENT {
			// The descriptor was closed underneath us, which already removed it.
			return nil
		}
		return err

	case registered:
		if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd,
			&unix.EpollEvent{Fd: int32(fd), Events: events | unix.EPOLLRDHUP}); err != nil {
			return err
		}
		p.interest[fd] = events
		return nil

	default:
		// Only recorded once the kernel has it, so a failed add is retried.
		if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd,
			&unix.EpollEvent{Fd: int32(fd), Events: events | unix.EPOLLRDHUP}); err != nil {
			return err
		}
		p.interest[fd] = events
		return nil
	}
}

// Forget drops fd without touching the kernel. Use it when fd has already
// been closed.
func (p *Poller) Forget(fd int) {
	delete(p.interest, fd)
}

// Wait blocks until at least one armed descriptor is ready, the poller is
// woken, or timeout elapses. A negative timeout waits forever. Interrupted
// waits return zero events and no error, the caller decides whether to
// wait again.
func (p *Poller) Wait(events []Event, timeout time.Duration) (n int, woken bool, err error) {
	if cap(p.raw) < len(events)+1 {
		p.raw = make([]unix.EpollEvent, len(events)+1)
	}
	raw := p.raw[:len(events)+1]

	count, err := unix.EpollWait(p.fd, raw, toMillis(timeout))
	if err == unix.EINTR {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	for i := 0; i < count; i++ {
		fd := int(raw[i].Fd)
		if fd == p.wakeFd {
			p.drainWake()
			woken = true
			continue
		}

		ready := raw[i].Events & (EventRead | EventWrite)
		if raw[i].Events&eventHangup != 0 {
			ready |= p.interest[fd]
		}
		if n < len(events) {
			events[n] = Event{Fd: fd, Ready: ready}
			n++
		}
	}

	return n, woken, nil
}

// Wake interrupts a concurrent Wait. It is safe to call from any goroutine.
func (p *Poller) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)

	_, err := unix.Write(p.wakeFd, buf[:])
	if err == unix.EAGAIN {
		// The counter is saturated, a wake is already pending.
		return nil
	}
	return err
}

func (p *Poller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakeFd, buf[:]); err != unix.EINTR {
			return
		}
	}
}

func (p *Poller) Close() error {
	if err := unix.Close(p.wakeFd); err != nil {
		return err
	}

	return unix.Close(p.fd)
}

// toMillis rounds up so a wait never returns before the requested timeout.
func toMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
