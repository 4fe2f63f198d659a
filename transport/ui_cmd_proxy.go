package transport

import (
	"go.uber.org/zap"

	"github.com/luma/emuconsole/protocol"
)

// UICmdProxy sends core-ui-control commands to the UI. The UI never writes
// on it, reads only watch for the UI going away.
type UICmdProxy struct {
	*conn
}

func newUICmdProxy(sw switched) *UICmdProxy {
	p := &UICmdProxy{}
	p.conn = newConn(sw, protocol.StreamCoreUIControl, p, func(ready uint32) { p.drain(ready) })
	p.io.WantRead()
	return p
}

func (p *UICmdProxy) SetWindowScale(scale float64, isDPI bool) error {
	return p.send(protocol.CmdSetWindowScale, &protocol.SetWindowScale{Scale: scale, IsDPI: isDPI})
}

func (p *UICmdProxy) ChangeDisplayBrightness(light string, brightness int) error {
	return p.send(protocol.CmdChangeDisplayBrightness, &protocol.ChangeDisplayBrightness{
		Light:      light,
		Brightness: int32(brightness),
	})
}

func (p *UICmdProxy) send(t protocol.CommandType, cmd protocol.Marshaler) error {
	params, err := cmd.Marshal()
	if err != nil {
		return err
	}

	frame, err := protocol.EncodeFrame(t, params)
	if err != nil {
		return err
	}

	if err := p.write(frame); err != nil {
		p.log.Warn("Unable to send command to the UI",
			zap.String("command", protocol.CommandName(p.stream, t)),
			zap.Error(err))
		return err
	}
	return nil
}
