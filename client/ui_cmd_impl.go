package client

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/looper"
	"github.com/luma/emuconsole/protocol"
)

// UICmdHandler carries out the commands the core sends to the UI.
type UICmdHandler interface {
	SetWindowScale(scale float64, isDPI bool)
	ChangeDisplayBrightness(light string, brightness int)
}

// UICmdImpl reads core-ui-control commands and hands them to a UICmdHandler.
type UICmdImpl struct {
	*framedStream
	handler UICmdHandler
}

// NewUICmdImpl must be called on the loop goroutine.
func NewUICmdImpl(l *looper.Looper, addr string, session string, handler UICmdHandler, log *zap.Logger) (*UICmdImpl, error) {
	conn, handshake, err := CreateAndSwitch(addr, withSession(protocol.StreamCoreUIControl, session), log)
	if err != nil {
		return nil, err
	}

	u := &UICmdImpl{handler: handler}
	u.framedStream = newFramedStream(newStream(conn, log), l, async.CommandFraming(), u.handle)

	log.Info("core-ui-control is now connected to the core",
		zap.String("addr", addr),
		zap.String("handshake", handshake))

	return u, nil
}

// handle runs one command. Malformed parameters are an error and drop the
// stream, unknown command types are skipped.
func (u *UICmdImpl) handle(frame async.Frame) error {
	switch frame.Type() {
	case protocol.CmdSetWindowScale:
		var cmd protocol.SetWindowScale
		if err := cmd.Unmarshal(frame.Payload); err != nil {
			return fmt.Errorf("malformed SetWindowScale: %w", err)
		}
		u.handler.SetWindowScale(cmd.Scale, cmd.IsDPI)

	case protocol.CmdChangeDisplayBrightness:
		var cmd protocol.ChangeDisplayBrightness
		if err := cmd.Unmarshal(frame.Payload); err != nil {
			return fmt.Errorf("malformed ChangeDisplayBrightness: %w", err)
		}
		u.handler.ChangeDisplayBrightness(cmd.Light, int(cmd.Brightness))

	default:
		u.log.Warn("Unknown command received from the core",
			zap.Uint8("type", uint8(frame.Type())),
			zap.Int("paramSize", len(frame.Payload)))
	}
	return nil
}
