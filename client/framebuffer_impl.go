package client

import (
	"fmt"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/looper"
	"github.com/luma/emuconsole/protocol"
	"github.com/luma/emuconsole/storage"
)

// BitsPerPixelKey is the framebuffer handshake token carrying the pixel
// depth.
const BitsPerPixelKey = "bitsperpixel"

// Renderer receives framebuffer updates. *storage.Surface is one.
type Renderer interface {
	Apply(rect storage.Rect, pixels []byte) error
}

// FramebufferImpl receives framebuffer updates from the core.
type FramebufferImpl struct {
	*framedStream
	renderer      Renderer
	bitsPerPixel  int
	bytesPerPixel int
}

// NewFramebufferImpl switches to the framebuffer stream using proto (only
// "-raw" exists), negotiates the pixel depth and asks the core for a full
// refresh. Must be called on the loop goroutine.
func NewFramebufferImpl(l *looper.Looper, addr, session, proto string, renderer Renderer, log *zap.Logger) (*FramebufferImpl, error) {
	conn, handshake, err := CreateAndSwitch(addr, withSession(protocol.FramebufferStream(proto), session), log)
	if err != nil {
		return nil, err
	}

	bits, err := parseBitsPerPixel(handshake)
	if err != nil {
		return nil, multierr.Append(err, conn.Close())
	}

	f := &FramebufferImpl{
		renderer:      renderer,
		bitsPerPixel:  bits,
		bytesPerPixel: (bits + 7) / 8,
	}
	f.framedStream = newFramedStream(newStream(conn, log), l, async.UpdateFraming(f.bytesPerPixel), f.handle)

	if err := f.Refresh(); err != nil {
		return nil, multierr.Append(fmt.Errorf("requesting framebuffer refresh: %w", err), f.Close())
	}

	log.Info("framebuffer is now connected to the core",
		zap.String("addr", addr),
		zap.String("handshake", handshake))

	return f, nil
}

func parseBitsPerPixel(handshake string) (int, error) {
	value, ok := protocol.HandshakeValue(handshake, BitsPerPixelKey)
	if !ok {
		return 0, fmt.Errorf("%w: framebuffer handshake %q has no %s", async.ErrProtocolViolation, handshake, BitsPerPixelKey)
	}

	bits, err := strconv.ParseInt(value, 0, 32)
	if err != nil || bits <= 0 {
		return 0, fmt.Errorf("%w: invalid %s in framebuffer handshake %q", async.ErrProtocolViolation, BitsPerPixelKey, handshake)
	}
	return int(bits), nil
}

// Refresh asks the core to resend the whole framebuffer.
func (f *FramebufferImpl) Refresh() error {
	frame, err := protocol.EncodeFrame(protocol.RequestRefresh, nil)
	if err != nil {
		return err
	}
	return f.check(f.conn.Write(frame))
}

func (f *FramebufferImpl) BitsPerPixel() int {
	return f.bitsPerPixel
}

func (f *FramebufferImpl) BytesPerPixel() int {
	return f.bytesPerPixel
}

func (f *FramebufferImpl) handle(frame async.Frame) error {
	header, err := protocol.DecodeUpdateHeader(frame.Header)
	if err != nil {
		return fmt.Errorf("malformed framebuffer update: %w", err)
	}

	rect := storage.Rect{X: int(header.X), Y: int(header.Y), W: int(header.W), H: int(header.H)}
	if rect.Empty() {
		return nil
	}

	if err := f.renderer.Apply(rect, frame.Payload); err != nil {
		f.log.Warn("Failed to apply framebuffer update",
			zap.Int("x", rect.X), zap.Int("y", rect.Y),
			zap.Int("w", rect.W), zap.Int("h", rect.H),
			zap.Error(err))
	}
	return nil
}
