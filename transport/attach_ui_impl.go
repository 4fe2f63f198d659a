package transport

import (
	"github.com/luma/emuconsole/protocol"
)

// AttachUIImpl is the core end of attach-UI. Nothing is expected on it, the
// UI closing it tears its whole session down.
type AttachUIImpl struct {
	*conn
}

func newAttachUIImpl(sw switched) *AttachUIImpl {
	a := &AttachUIImpl{}
	a.conn = newConn(sw, protocol.StreamAttachUI, a, func(ready uint32) { a.drain(ready) })
	a.io.WantRead()
	return a
}
