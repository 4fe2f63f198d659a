package transport

import (
	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/protocol"
)

// UserEventsImpl applies user-events in the order they arrive.
type UserEventsImpl struct {
	*conn
	framed  framed
	handler UserEventsHandler
}

func newUserEventsImpl(sw switched, handler UserEventsHandler) *UserEventsImpl {
	u := &UserEventsImpl{handler: handler}
	u.conn = newConn(sw, protocol.StreamUserEvents, u, func(uint32) { u.readFrames(&u.framed) })
	u.framed = framed{
		reader:   async.NewFrameReader(u.fd(), u.io, async.CommandFraming()),
		dispatch: u.dispatch,
	}
	u.io.WantRead()
	return u
}

func (u *UserEventsImpl) dispatch(frame async.Frame) error {
	switch frame.Type() {
	case protocol.EventMouse:
		var e protocol.MouseEvent
		if err := e.Unmarshal(frame.Payload); err != nil {
			return err
		}
		u.handler.Mouse(int(e.Dx), int(e.Dy), int(e.Dz), e.Buttons)

	case protocol.EventKeycode:
		var e protocol.KeycodeEvent
		if err := e.Unmarshal(frame.Payload); err != nil {
			return err
		}
		u.handler.Keycode(int(e.Code))

	case protocol.EventGeneric:
		var e protocol.GenericEvent
		if err := e.Unmarshal(frame.Payload); err != nil {
			return err
		}
		u.handler.Generic(int(e.Type), int(e.Code), int(e.Value))

	default:
		u.log.Warn("Unknown event received from the UI",
			zap.Uint8("type", uint8(frame.Type())),
			zap.Int("paramSize", len(frame.Payload)))
	}

	return nil
}
