package client

import (
	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/looper"
	"github.com/luma/emuconsole/protocol"
)

// AttachUI holds the attach-UI stream. Nothing travels on it, it only exists
// so each side notices when the other goes away.
type AttachUI struct {
	*stream
	session string
	scratch [64]byte
}

// NewAttachUI connects and attaches to the core at addr. Must be called on the
// loop goroutine.
func NewAttachUI(l *looper.Looper, addr string, log *zap.Logger) (*AttachUI, error) {
	conn, handshake, err := CreateAndSwitch(addr, protocol.StreamAttachUI, log)
	if err != nil {
		return nil, err
	}

	a := &AttachUI{stream: newStream(conn, log)}
	a.session, _ = protocol.HandshakeValue(handshake, SessionKey)
	a.watch(l, a.onReadable)

	log.Info("attach-UI is now connected to the core",
		zap.String("addr", addr),
		zap.String("handshake", handshake))

	return a, nil
}

// Session is the identifier the core gave this UI, empty if the core did not
// hand one out.
func (a *AttachUI) Session() string {
	return a.session
}

func (a *AttachUI) onReadable(uint32) {
	for !a.closed {
		_, err := async.Recv(a.conn.Fd(), a.scratch[:])
		if async.IsWouldBlock(err) {
			return
		}
		if err != nil {
			a.lost(err)
			return
		}
	}
}
