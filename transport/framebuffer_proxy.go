package transport

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/looper"
	"github.com/luma/emuconsole/protocol"
	"github.com/luma/emuconsole/storage"
)

// BitsPerPixelKey is the framebuffer handshake token carrying the pixel
// depth.
const BitsPerPixelKey = "bitsperpixel"

// FramebufferProxy streams surface updates to the UI. Updates are written in
// the order they were pushed, one at a time, without blocking the loop.
type FramebufferProxy struct {
	*conn
	framed  framed
	surface *storage.Surface

	queue   [][]byte
	writer  async.Writer
	writing bool
}

func newFramebufferProxy(sw switched, surface *storage.Surface) *FramebufferProxy {
	f := &FramebufferProxy{surface: surface}
	f.conn = newConn(sw, protocol.StreamFramebuffer, f, f.onReady)
	f.framed = framed{
		reader:   async.NewFrameReader(f.fd(), f.io, async.CommandFraming()),
		dispatch: f.dispatch,
	}
	f.io.WantRead()
	return f
}

func framebufferHandshake(surface *storage.Surface) string {
	return fmt.Sprintf("%s=%d", BitsPerPixelKey, surface.BytesPerPixel()*8)
}

func (f *FramebufferProxy) onReady(ready uint32) {
	if ready&looper.EventRead != 0 {
		f.readFrames(&f.framed)
	}
	if ready&looper.EventWrite != 0 && !f.closed {
		f.flush()
	}
}

func (f *FramebufferProxy) dispatch(frame async.Frame) error {
	switch frame.Type() {
	case protocol.RequestRefresh:
		return f.Push(f.surface.Bounds())

	default:
		f.log.Warn("Unknown framebuffer request received from the UI",
			zap.Uint8("type", uint8(frame.Type())),
			zap.Int("paramSize", len(frame.Payload)))
	}
	return nil
}

// Push queues the current pixels of rect for the UI.
func (f *FramebufferProxy) Push(rect storage.Rect) error {
	if f.closed || rect.Empty() {
		return nil
	}

	pixels, err := f.surface.Snapshot(rect)
	if err != nil {
		return err
	}

	head := protocol.UpdateHeader{
		X: uint16(rect.X), Y: uint16(rect.Y),
		W: uint16(rect.W), H: uint16(rect.H),
	}
	f.queue = append(f.queue, append(head.Marshal(), pixels...))

	if !f.writing {
		f.writing = true
		f.writer.Init(f.fd(), f.io, f.queue[0])
		f.flush()
	}
	return nil
}

// Pending is the number of updates not yet fully written.
func (f *FramebufferProxy) Pending() int {
	return len(f.queue)
}

func (f *FramebufferProxy) flush() {
	for f.writing {
		status, err := f.writer.Write()
		switch status {
		case async.NeedMore:
			return

		case async.Error:
			f.queue = nil
			f.writing = false
			f.log.Warn("Failed to write framebuffer update", zap.Error(err))
			f.fail(err)
			return
		}

		f.queue[0] = nil
		f.queue = f.queue[1:]
		if len(f.queue) == 0 {
			f.writing = false
			return
		}
		f.writer.Init(f.fd(), f.io, f.queue[0])
	}
}

func (f *FramebufferProxy) Close() error {
	f.queue = nil
	f.writing = false
	return f.conn.Close()
}
