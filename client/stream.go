package client

import (
	"errors"

	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/looper"
)

// stream is the connection of one UI endpoint. The endpoint is lost, exactly
// once, on the first I/O error seen on the connection.
type stream struct {
	conn   *CoreConnection
	io     *looper.IO
	closed bool

	onLost func(error)
	log    *zap.Logger
}

func newStream(conn *CoreConnection, log *zap.Logger) *stream {
	return &stream{conn: conn, log: log}
}

// watch registers the connection with l and arms read interest.
func (s *stream) watch(l *looper.Looper, handler looper.Handler) {
	s.io = l.NewIO(s.conn.Fd(), handler)
	s.io.WantRead()
}

// check tears the stream down on any I/O error. After a timeout or a short
// transfer the framing on the connection can no longer be trusted. It
// returns err unchanged.
func (s *stream) check(err error) error {
	if err != nil && !errors.Is(err, ErrNotOpen) {
		s.lost(err)
	}
	return err
}

func (s *stream) lost(err error) {
	if s.closed {
		return
	}

	s.log.Info("Core disconnected", zap.String("stream", s.conn.Stream()), zap.Error(err))
	if cerr := s.Close(); cerr != nil {
		s.log.Warn("Stream did not close cleanly", zap.Error(cerr))
	}

	if s.onLost != nil {
		s.onLost(err)
	}
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.io != nil {
		s.io.Done()
	}
	return s.conn.Close()
}

// framedStream feeds every complete frame arriving on a stream to dispatch.
// A frame dispatch cannot decode loses the stream.
type framedStream struct {
	*stream
	reader   *async.FrameReader
	dispatch func(async.Frame) error
}

func newFramedStream(s *stream, l *looper.Looper, framing async.Framing, dispatch func(async.Frame) error) *framedStream {
	f := &framedStream{stream: s, dispatch: dispatch}
	s.watch(l, f.onReadable)
	f.reader = async.NewFrameReader(s.conn.Fd(), s.io, framing)
	return f
}

func (f *framedStream) onReadable(uint32) {
	for !f.closed {
		frame, status, err := f.reader.Next()
		switch status {
		case async.NeedMore:
			return
		case async.Error:
			f.log.Warn("Failed to read frame", zap.Error(err))
			f.lost(err)
			return
		}

		if err := f.dispatch(frame); err != nil {
			f.log.Warn("Dropping stream after bad frame", zap.Error(err))
			f.lost(err)
			return
		}
	}
}
