package transport

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/protocol"
)

// CoreCmdImpl serves ui-core-control. Commands with a response are answered
// before the next frame is read.
type CoreCmdImpl struct {
	*conn
	framed  framed
	handler CoreCmdHandler
}

func newCoreCmdImpl(sw switched, handler CoreCmdHandler) *CoreCmdImpl {
	c := &CoreCmdImpl{handler: handler}
	c.conn = newConn(sw, protocol.StreamUICoreControl, c, func(uint32) { c.readFrames(&c.framed) })
	c.framed = framed{
		reader:   async.NewFrameReader(c.fd(), c.io, async.CommandFraming()),
		dispatch: c.dispatch,
	}
	c.io.WantRead()
	return c
}

func (c *CoreCmdImpl) dispatch(frame async.Frame) error {
	switch frame.Type() {
	case protocol.CmdSetCoarseOrientation:
		var cmd protocol.SetCoarseOrientation
		if err := cmd.Unmarshal(frame.Payload); err != nil {
			return err
		}
		c.handler.SetCoarseOrientation(cmd.Orientation)

	case protocol.CmdToggleNetwork:
		c.handler.ToggleNetwork()

	case protocol.CmdTraceControl:
		var cmd protocol.TraceControl
		if err := cmd.Unmarshal(frame.Payload); err != nil {
			return err
		}
		c.handler.TraceControl(cmd.Start)

	case protocol.CmdIsNetworkDisabled:
		var result int32
		if c.handler.IsNetworkDisabled() {
			result = 1
		}
		return c.respond(result, nil)

	case protocol.CmdGetNetSpeed:
		var cmd protocol.TableIndex
		if err := cmd.Unmarshal(frame.Payload); err != nil {
			return err
		}

		speed, ok := c.handler.GetNetSpeed(int(cmd.Index))
		if !ok {
			return c.notFound()
		}
		return c.respondWith(&speed)

	case protocol.CmdGetNetDelay:
		var cmd protocol.TableIndex
		if err := cmd.Unmarshal(frame.Payload); err != nil {
			return err
		}

		delay, ok := c.handler.GetNetDelay(int(cmd.Index))
		if !ok {
			return c.notFound()
		}
		return c.respondWith(&delay)

	case protocol.CmdGetQemuPath:
		var cmd protocol.GetQemuPath
		if err := cmd.Unmarshal(frame.Payload); err != nil {
			return err
		}

		path, ok := c.handler.GetQemuPath(cmd.Type, cmd.Filename)
		if !ok {
			return c.notFound()
		}
		return c.respond(0, protocol.EncodeCString(path))

	case protocol.CmdGetLcdDensity:
		return c.respond(int32(c.handler.GetLcdDensity()), nil)

	default:
		c.log.Warn("Unknown command received from the UI",
			zap.Uint8("type", uint8(frame.Type())),
			zap.Int("paramSize", len(frame.Payload)))
	}

	return nil
}

func (c *CoreCmdImpl) notFound() error {
	return c.respond(-1, nil)
}

func (c *CoreCmdImpl) respondWith(data protocol.Marshaler) error {
	b, err := data.Marshal()
	if err != nil {
		return err
	}
	return c.respond(0, b)
}

func (c *CoreCmdImpl) respond(result int32, data []byte) error {
	if len(data) > protocol.MaxParamSize {
		return fmt.Errorf("%w: response of %d bytes", protocol.ErrFrameTooLarge, len(data))
	}

	head := protocol.RespHeader{Result: result, DataSize: uint32(len(data))}
	resp := append(head.Marshal(), data...)

	if err := c.write(resp); err != nil {
		c.log.Warn("Unable to send response", zap.Error(err))
	}
	return nil
}
