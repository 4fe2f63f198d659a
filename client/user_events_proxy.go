package client

import (
	"sync"

	"go.uber.org/zap"

	"github.com/luma/emuconsole/protocol"
)

// Key code bits understood by the core.
const (
	KeyCodeMask = protocol.KeyCodeMask
	KeyDownBit  = protocol.KeyDownBit
)

// UserEventsProxy forwards input to the core. Events are written in call
// order and the core applies them in that order.
type UserEventsProxy struct {
	mu sync.Mutex
	*stream
}

func NewUserEventsProxy(addr string, session string, log *zap.Logger) (*UserEventsProxy, error) {
	conn, handshake, err := CreateAndSwitch(addr, withSession(protocol.StreamUserEvents, session), log)
	if err != nil {
		return nil, err
	}

	log.Info("user-events is now connected to the core",
		zap.String("addr", addr),
		zap.String("handshake", handshake))

	return &UserEventsProxy{stream: newStream(conn, log)}, nil
}

func (p *UserEventsProxy) SendMouse(dx, dy, dz int, buttons uint32) error {
	return p.send(protocol.EventMouse, &protocol.MouseEvent{
		Dx: int32(dx), Dy: int32(dy), Dz: int32(dz), Buttons: buttons,
	})
}

func (p *UserEventsProxy) SendKeycode(code int) error {
	return p.send(protocol.EventKeycode, &protocol.KeycodeEvent{Code: int32(code)})
}

func (p *UserEventsProxy) SendKeycodes(codes []int) error {
	for _, code := range codes {
		if err := p.SendKeycode(code); err != nil {
			return err
		}
	}
	return nil
}

// SendKey sends a key press or release. Code zero is not a key and is
// ignored.
func (p *UserEventsProxy) SendKey(code uint, down bool) error {
	if code == 0 {
		return nil
	}

	keycode := int(code & KeyCodeMask)
	if down {
		keycode |= KeyDownBit
	}

	if ce := p.log.Check(zap.DebugLevel, "Key"); ce != nil {
		ce.Write(zap.Uint("code", code&KeyCodeMask), zap.Bool("down", down))
	}

	return p.SendKeycode(keycode)
}

func (p *UserEventsProxy) SendGeneric(eventType, code, value int) error {
	return p.send(protocol.EventGeneric, &protocol.GenericEvent{
		Type: int32(eventType), Code: int32(code), Value: int32(value),
	})
}

func (p *UserEventsProxy) send(t protocol.CommandType, event protocol.Marshaler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrNotOpen
	}

	frame, err := encodeCommand(t, event)
	if err != nil {
		return err
	}

	if err := p.check(p.conn.Write(frame)); err != nil {
		p.log.Warn("Unable to send user event",
			zap.String("event", protocol.CommandName(protocol.StreamUserEvents, t)),
			zap.Error(err))
		return err
	}
	return nil
}

func (p *UserEventsProxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stream.Close()
}
