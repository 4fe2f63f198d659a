package client

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/emuconsole/protocol"
)

// CoreCmdProxy sends ui-core-control commands to the core and reads back the
// responses of the ones that have them.
type CoreCmdProxy struct {
	mu sync.Mutex
	*stream
}

func NewCoreCmdProxy(addr string, session string, log *zap.Logger) (*CoreCmdProxy, error) {
	conn, handshake, err := CreateAndSwitch(addr, withSession(protocol.StreamUICoreControl, session), log)
	if err != nil {
		return nil, err
	}

	log.Info("ui-core-control is now connected to the core",
		zap.String("addr", addr),
		zap.String("handshake", handshake))

	return &CoreCmdProxy{stream: newStream(conn, log)}, nil
}

func (p *CoreCmdProxy) SetCoarseOrientation(orientation protocol.Orientation) error {
	return p.send(protocol.CmdSetCoarseOrientation, &protocol.SetCoarseOrientation{Orientation: orientation})
}

func (p *CoreCmdProxy) ToggleNetwork() error {
	return p.send(protocol.CmdToggleNetwork, nil)
}

func (p *CoreCmdProxy) TraceControl(start bool) error {
	return p.send(protocol.CmdTraceControl, &protocol.TraceControl{Start: start})
}

func (p *CoreCmdProxy) IsNetworkDisabled() (bool, error) {
	resp, _, err := p.request(protocol.CmdIsNetworkDisabled, nil)
	if err != nil {
		return false, err
	}
	return resp.Result != 0, nil
}

// GetNetSpeed returns entry index of the core's speed table. found is false
// when there is no such entry.
func (p *CoreCmdProxy) GetNetSpeed(index int) (speed protocol.NetSpeed, found bool, err error) {
	resp, data, err := p.request(protocol.CmdGetNetSpeed, &protocol.TableIndex{Index: int32(index)})
	if err != nil || resp.Result != 0 {
		return speed, false, err
	}

	if err := speed.Unmarshal(data); err != nil {
		return speed, false, fmt.Errorf("decoding net speed %d: %w", index, err)
	}
	return speed, true, nil
}

func (p *CoreCmdProxy) GetNetDelay(index int) (delay protocol.NetDelay, found bool, err error) {
	resp, data, err := p.request(protocol.CmdGetNetDelay, &protocol.TableIndex{Index: int32(index)})
	if err != nil || resp.Result != 0 {
		return delay, false, err
	}

	if err := delay.Unmarshal(data); err != nil {
		return delay, false, fmt.Errorf("decoding net delay %d: %w", index, err)
	}
	return delay, true, nil
}

// GetQemuPath asks the core where it finds filename of the given type.
func (p *CoreCmdProxy) GetQemuPath(fileType int32, filename string) (path string, found bool, err error) {
	resp, data, err := p.request(protocol.CmdGetQemuPath, &protocol.GetQemuPath{Type: fileType, Filename: filename})
	if err != nil || resp.Result != 0 || len(data) == 0 {
		return "", false, err
	}
	return protocol.DecodeCString(data), true, nil
}

func (p *CoreCmdProxy) GetLcdDensity() (int, error) {
	resp, _, err := p.request(protocol.CmdGetLcdDensity, nil)
	if err != nil {
		return 0, err
	}
	return int(resp.Result), nil
}

func (p *CoreCmdProxy) send(t protocol.CommandType, params protocol.Marshaler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sendLocked(t, params)
}

func (p *CoreCmdProxy) sendLocked(t protocol.CommandType, params protocol.Marshaler) error {
	if p.closed {
		return ErrNotOpen
	}

	frame, err := encodeCommand(t, params)
	if err != nil {
		return err
	}

	if err := p.check(p.conn.Write(frame)); err != nil {
		p.log.Warn("Unable to send UI control command",
			zap.String("command", protocol.CommandName(protocol.StreamUICoreControl, t)),
			zap.Int("size", len(frame)-protocol.HeaderSize),
			zap.Error(err))
		return err
	}
	return nil
}

func (p *CoreCmdProxy) request(t protocol.CommandType, params protocol.Marshaler) (protocol.RespHeader, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.sendLocked(t, params); err != nil {
		return protocol.RespHeader{}, nil, err
	}

	var header [protocol.RespHeaderSize]byte
	if err := p.check(p.conn.Read(header[:])); err != nil {
		return protocol.RespHeader{}, nil, fmt.Errorf("reading response header: %w", err)
	}

	resp, err := protocol.DecodeRespHeader(header[:])
	if err != nil {
		p.lost(err)
		return resp, nil, err
	}
	if resp.DataSize > protocol.MaxParamSize {
		p.lost(protocol.ErrFrameTooLarge)
		return resp, nil, fmt.Errorf("%w: response of %d bytes", protocol.ErrFrameTooLarge, resp.DataSize)
	}

	var data []byte
	if resp.DataSize > 0 {
		data = make([]byte, resp.DataSize)
		if err := p.check(p.conn.Read(data)); err != nil {
			return resp, nil, fmt.Errorf("reading response data: %w", err)
		}
	}

	return resp, data, nil
}

func encodeCommand(t protocol.CommandType, params protocol.Marshaler) ([]byte, error) {
	var payload []byte
	if params != nil {
		var err error
		if payload, err = params.Marshal(); err != nil {
			return nil, err
		}
	}
	return protocol.EncodeFrame(t, payload)
}

func (p *CoreCmdProxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stream.Close()
}
