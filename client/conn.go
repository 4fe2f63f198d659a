package client

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/protocol"
	"github.com/luma/emuconsole/syncsock"
)

// replyLineSize bounds console reply lines, handshakes included.
const replyLineSize = 4096

var (
	ErrNotOpen         = errors.New("core connection is not open")
	ErrAlreadySwitched = errors.New("core connection has already switched streams")
)

// RejectedError is returned when the console answers a stream switch with KO.
type RejectedError struct {
	Stream  string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("console rejected stream %q: %s", e.Stream, e.Message)
}

func (e *RejectedError) Unwrap() error {
	return async.ErrProtocolViolation
}

// CoreConnection is a console connection to the core, usually switched to one
// of the framed streams. It is not safe for concurrent use.
type CoreConnection struct {
	addr   string
	sock   *syncsock.SyncSocket
	stream string

	log *zap.Logger
}

func NewCoreConnection(addr string, log *zap.Logger) *CoreConnection {
	return &CoreConnection{
		addr: addr,
		log:  log,
	}
}

// CreateAndSwitch opens a console connection to addr and switches it to
// stream, returning the switch handshake. Nothing is left open on failure.
func CreateAndSwitch(addr, stream string, log *zap.Logger) (*CoreConnection, string, error) {
	conn := NewCoreConnection(addr, log)
	if err := conn.Open(); err != nil {
		return nil, "", err
	}

	handshake, err := conn.SwitchStream(stream)
	if err != nil {
		return nil, "", err
	}

	return conn, handshake, nil
}

// Open connects to the console and checks its banner and OK line. Opening an
// open connection is a no-op.
func (c *CoreConnection) Open() error {
	if c.sock != nil {
		return nil
	}

	sock, err := syncsock.Connect(c.addr, protocol.CorePortTimeout, c.log)
	if err != nil {
		return fmt.Errorf("connecting to console at %s: %w", c.addr, err)
	}

	if err := c.readBanner(sock); err != nil {
		return multierr.Append(err, sock.Close())
	}

	c.sock = sock
	return nil
}

func (c *CoreConnection) readBanner(sock *syncsock.SyncSocket) error {
	sock.StartRead()
	defer sock.StopRead()

	deadline := time.Now().Add(protocol.CorePortTimeout)
	buf := make([]byte, replyLineSize)

	n, err := sock.ReadLineDeadline(buf, deadline)
	if err != nil {
		return fmt.Errorf("reading console banner: %w", err)
	}
	if !bytes.HasPrefix(buf[:n], []byte(protocol.BannerPrefix)) {
		c.log.Warn("Console has failed the connection",
			zap.ByteString("banner", protocol.RemoveTrailingCRLF(buf[:n])))
		return async.NewOpError("read banner", async.ErrBadBanner)
	}

	n, err = sock.ReadLineDeadline(buf, deadline)
	if err != nil {
		return fmt.Errorf("reading console greeting: %w", err)
	}
	if !protocol.IsReplyOk(buf[:n]) {
		c.log.Warn("Unexpected reply from the console",
			zap.ByteString("reply", protocol.RemoveTrailingCRLF(buf[:n])))
		return async.NewOpError("read banner", async.ErrBadBanner)
	}

	return nil
}

// SwitchStream dedicates the connection to stream. It returns the handshake
// that followed the OK. A switch can only happen once per connection. A failed
// switch closes the connection, later calls return ErrNotOpen.
func (c *CoreConnection) SwitchStream(stream string) (handshake string, err error) {
	if c.sock == nil {
		return "", ErrNotOpen
	}
	if c.stream != "" {
		return "", ErrAlreadySwitched
	}

	defer func() {
		if err != nil {
			if cerr := c.Close(); cerr != nil {
				c.log.Warn("Failed to close console connection", zap.Error(cerr))
			}
		}
	}()

	if err := c.Write(protocol.SwitchCommand(stream)); err != nil {
		return "", fmt.Errorf("sending switch to %q: %w", stream, err)
	}

	sock := c.sock
	sock.StartRead()
	defer sock.StopRead()

	deadline := time.Now().Add(protocol.CorePortTimeout)
	buf := make([]byte, replyLineSize)

	n, err := sock.ReadLineDeadline(buf, deadline)
	if err != nil {
		return "", fmt.Errorf("reading reply to switch %q: %w", stream, err)
	}
	reply := protocol.RemoveTrailingCRLF(buf[:n])

	switch {
	case protocol.IsReplyOk(reply):
		handshake = protocol.ReplyPayload(reply)

		n, err = sock.ReadLineDeadline(buf, deadline)
		if err != nil {
			return "", fmt.Errorf("reading confirmation of switch %q: %w", stream, err)
		}
		if !protocol.IsReplyOk(buf[:n]) {
			return "", fmt.Errorf("%w: unexpected confirmation of switch %q: %q",
				async.ErrProtocolViolation, stream, protocol.RemoveTrailingCRLF(buf[:n]))
		}

		c.stream = stream
		return handshake, nil

	case protocol.IsReplyKo(reply):
		return "", &RejectedError{Stream: stream, Message: protocol.ReplyPayload(reply)}

	default:
		return "", fmt.Errorf("%w: unexpected reply to switch %q: %q", async.ErrProtocolViolation, stream, reply)
	}
}

// Write sends all of b, allowing the transfer timeout for its size.
func (c *CoreConnection) Write(b []byte) error {
	if c.sock == nil {
		return ErrNotOpen
	}

	c.sock.StartWrite()
	defer c.sock.StopWrite()

	_, err := c.sock.Write(b, protocol.TransferTimeout(len(b)))
	return err
}

// Read fills b, allowing the transfer timeout for its size.
func (c *CoreConnection) Read(b []byte) error {
	if c.sock == nil {
		return ErrNotOpen
	}

	c.sock.StartRead()
	defer c.sock.StopRead()

	_, err := c.sock.Read(b, protocol.TransferTimeout(len(b)))
	return err
}

// Detach sends a lone newline, telling the console we are going away.
func (c *CoreConnection) Detach() error {
	return c.Write([]byte("\n"))
}

// Stream is the name the connection switched to, empty before the switch.
func (c *CoreConnection) Stream() string {
	return c.stream
}

func (c *CoreConnection) Fd() int {
	if c.sock == nil {
		return -1
	}
	return c.sock.Fd()
}

func (c *CoreConnection) Close() error {
	if c.sock == nil {
		return nil
	}

	err := c.sock.Close()
	c.sock = nil
	return err
}
