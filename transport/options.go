package transport

import (
	"go.uber.org/zap"

	"github.com/luma/emuconsole/looper"
	"github.com/luma/emuconsole/storage"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, usually protocol.ConsolePort(instance)
	Port int

	// NumListeners is the number of SO_REUSEPORT listeners sharing the port.
	// Defaults to one.
	NumListeners int

	// Looper runs every switched stream. Required.
	Looper *looper.Looper

	// Commands handles ui-core-control. Defaults to Control.
	Commands CoreCmdHandler

	// Events handles user-events. Defaults to Control.
	Events UserEventsHandler

	// Control is used for Commands and Events when they are not set. A new
	// one backed by Store is made when it is nil.
	Control *Control

	// Store is the hardware config, its updates are logged.
	Store storage.Store

	// Surface is streamed on the framebuffer stream. Without one the stream
	// is refused.
	Surface *storage.Surface

	// Trace logs every frame received at debug level. This is only useful in
	// local debugging
	Trace bool

	Log *zap.Logger
}
