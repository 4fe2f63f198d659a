package async

import (
	"bytes"

	"golang.org/x/sys/unix"

	"github.com/luma/emuconsole/looper"
	"github.com/luma/emuconsole/protocol"
)

// ConsoleState names the phases of a ConsoleConnector.
type ConsoleState int

const (
	ConsoleInitial ConsoleState = iota
	ConsoleConnecting
	ConsoleReadBanner1
	ConsoleReadBanner2
	ConsoleComplete
	ConsoleError
)

func (s ConsoleState) String() string {
	switch s {
	case ConsoleInitial:
		return "initial"
	case ConsoleConnecting:
		return "connecting"
	case ConsoleReadBanner1:
		return "read-banner-1"
	case ConsoleReadBanner2:
		return "read-banner-2"
	case ConsoleComplete:
		return "complete"
	case ConsoleError:
		return "error"
	default:
		return "unknown"
	}
}

// bannerLineSize is enough for any console banner line we care about.
const bannerLineSize = 128

// Each state carries only the data valid in it.
type consoleState interface {
	name() ConsoleState
}

type consoleInitial struct {
	sa unix.Sockaddr
}

type consoleConnecting struct {
	connector Connector
}

type consoleReadBanner1 struct {
	line LineReader
}

type consoleReadBanner2 struct {
	line LineReader
}

type consoleComplete struct{}

type consoleFailed struct {
	err error
}

func (*consoleInitial) name() ConsoleState     { return ConsoleInitial }
func (*consoleConnecting) name() ConsoleState  { return ConsoleConnecting }
func (*consoleReadBanner1) name() ConsoleState { return ConsoleReadBanner1 }
func (*consoleReadBanner2) name() ConsoleState { return ConsoleReadBanner2 }
func (*consoleComplete) name() ConsoleState    { return ConsoleComplete }
func (*consoleFailed) name() ConsoleState      { return ConsoleError }

// ConsoleConnector dials a core console and validates its two line banner.
//
// Run is a step function: call it once to start and again whenever the
// socket becomes ready, until it returns Complete or Error. Terminal results
// are latched.
type ConsoleConnector struct {
	fd    int
	io    Interest
	state consoleState
	buf   [bannerLineSize]byte

	// OnStateChange, if set, is told about every transition.
	OnStateChange func(ConsoleState)
}

// NewConsoleConnector prepares a connector for the non-blocking socket fd.
// The socket is not touched until the first Run.
func NewConsoleConnector(fd int, io Interest, sa unix.Sockaddr) *ConsoleConnector {
	return &ConsoleConnector{
		fd:    fd,
		io:    io,
		state: &consoleInitial{sa: sa},
	}
}

func (c *ConsoleConnector) State() ConsoleState {
	return c.state.name()
}

// Err returns the latched error once the connector has failed.
func (c *ConsoleConnector) Err() error {
	if failed, ok := c.state.(*consoleFailed); ok {
		return failed.err
	}
	return nil
}

func (c *ConsoleConnector) Fd() int {
	return c.fd
}

// Run advances the connector as far as it can without blocking.
func (c *ConsoleConnector) Run() (Status, error) {
	for {
		switch s := c.state.(type) {
		case *consoleComplete:
			return Complete, nil
		case *consoleFailed:
			return Error, s.err
		}

		if status := c.step(); status == NeedMore {
			return NeedMore, nil
		}
	}
}

// step runs the current state once and transitions. It returns NeedMore when
// the state has to wait for readiness, Complete when Run may keep going.
func (c *ConsoleConnector) step() Status {
	switch s := c.state.(type) {
	case *consoleInitial:
		connecting := &consoleConnecting{}
		c.transition(connecting)

		status, err := connecting.connector.Init(c.fd, c.io, s.sa)
		return c.afterConnect(status, err)

	case *consoleConnecting:
		status, err := s.connector.Run()
		return c.afterConnect(status, err)

	case *consoleReadBanner1:
		status, err := s.line.Read()
		switch status {
		case NeedMore:
			return NeedMore
		case Error:
			return c.fail(err)
		}

		if raw := s.line.RawLine(); len(raw) < len(protocol.BannerPrefix) ||
			!bytes.Equal(raw[:len(protocol.BannerPrefix)], []byte(protocol.BannerPrefix)) {
			return c.fail(NewOpError("read banner", ErrBadBanner))
		}

		next := &consoleReadBanner2{}
		next.line.Init(c.fd, c.io, c.buf[:])
		c.transition(next)
		return Complete

	case *consoleReadBanner2:
		status, err := s.line.Read()
		switch status {
		case NeedMore:
			return NeedMore
		case Error:
			return c.fail(err)
		}

		if _, ok := s.line.Line(); !ok {
			return c.fail(NewOpError("read banner", ErrBadBanner))
		}

		c.transition(&consoleComplete{})
		return Complete
	}

	return Complete
}

func (c *ConsoleConnector) afterConnect(status Status, err error) Status {
	switch status {
	case NeedMore:
		return NeedMore
	case Error:
		return c.fail(err)
	}

	next := &consoleReadBanner1{}
	next.line.Init(c.fd, c.io, c.buf[:])
	c.transition(next)
	return Complete
}

func (c *ConsoleConnector) fail(err error) Status {
	c.io.DontWantRead()
	c.io.DontWantWrite()
	c.transition(&consoleFailed{err: err})
	return Error
}

func (c *ConsoleConnector) transition(next consoleState) {
	c.state = next
	if c.OnStateChange != nil {
		c.OnStateChange(next.name())
	}
}

// DialConsole connects to the console at addr on the given looper. It must be
// called on the loop goroutine. done is called exactly once: with the
// connected, banner-checked socket, which the caller then owns, or with the
// error that stopped the attempt, in which case the socket has been closed.
func DialConsole(l *looper.Looper, addr string, onState func(ConsoleState), done func(fd int, err error)) error {
	fd, sa, err := Dial(addr)
	if err != nil {
		return err
	}

	var connector *ConsoleConnector

	io := l.NewIO(fd, func(uint32) {
		connector.advance(done)
	})

	connector = NewConsoleConnector(fd, io, sa)
	connector.OnStateChange = onState
	connector.advance(done)

	return nil
}

func (c *ConsoleConnector) advance(done func(fd int, err error)) {
	status, err := c.Run()
	if status == NeedMore {
		return
	}

	if io, ok := c.io.(*looper.IO); ok {
		io.Done()
	}

	if status == Error {
		Close(c.fd)
		done(-1, err)
		return
	}

	done(c.fd, nil)
}
