package transport

import (
	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/looper"
	"github.com/luma/emuconsole/protocol"
	"github.com/luma/emuconsole/syncsock"
)

// conn is the loop side of one switched console socket. Reads are driven by
// the looper, small writes go through the SyncSocket.
type conn struct {
	stream  string
	sock    *syncsock.SyncSocket
	io      *looper.IO
	session *Session
	closed  bool
	trace   bool

	// owner is the endpoint embedding the conn, the one its session knows.
	owner endpoint

	scratch [64]byte

	log *zap.Logger
}

// switched is what a stream switch hands to an endpoint constructor.
type switched struct {
	looper  *looper.Looper
	sock    *syncsock.SyncSocket
	session *Session
	trace   bool
	log     *zap.Logger
}

func newConn(sw switched, stream string, owner endpoint, handler looper.Handler) *conn {
	c := &conn{
		stream:  stream,
		sock:    sw.sock,
		session: sw.session,
		trace:   sw.trace,
		owner:   owner,
		log:     sw.log.With(zap.String("stream", stream)),
	}
	c.io = sw.looper.NewIO(sw.sock.Fd(), handler)
	return c
}

func (c *conn) Stream() string {
	return c.stream
}

func (c *conn) fd() int {
	return c.sock.Fd()
}

// write sends b whole, allowing the transfer timeout for its size. Failing to
// write loses the endpoint.
func (c *conn) write(b []byte) error {
	if c.closed {
		return syncsock.ErrClosed
	}

	if _, err := c.sock.Write(b, protocol.TransferTimeout(len(b))); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// drain reads and discards whatever arrives, for streams that carry nothing
// towards the core. The peer closing is reported like any other reset.
func (c *conn) drain(uint32) {
	for !c.closed {
		_, err := async.Recv(c.fd(), c.scratch[:])
		if async.IsWouldBlock(err) {
			return
		}
		if err != nil {
			c.fail(err)
			return
		}
	}
}

func (c *conn) fail(err error) {
	if c.closed {
		return
	}
	c.session.lost(c.owner, err)
}

// framed feeds every complete command frame to dispatch, in arrival order.
type framed struct {
	reader   *async.FrameReader
	dispatch func(async.Frame) error
}

func (c *conn) readFrames(f *framed) {
	for !c.closed {
		frame, status, err := f.reader.Next()
		switch status {
		case async.NeedMore:
			return
		case async.Error:
			c.fail(err)
			return
		}

		if c.trace {
			c.log.Debug("Frame",
				zap.String("command", protocol.CommandName(c.stream, frame.Type())),
				zap.Int("paramSize", len(frame.Payload)))
		}

		if err := f.dispatch(frame); err != nil {
			c.log.Warn("Dropping stream after bad command",
				zap.String("command", protocol.CommandName(c.stream, frame.Type())),
				zap.Error(err))
			c.fail(err)
			return
		}
	}
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	c.io.Done()
	return c.sock.Close()
}
