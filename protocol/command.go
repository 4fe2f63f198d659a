package protocol

import "fmt"

// CommandType is the first byte of every command frame. Its meaning depends
// on the stream the frame travels on.
type CommandType uint8

// ui-core-control commands, sent by the UI to the core.
const (
	CmdSetCoarseOrientation CommandType = 1
	CmdToggleNetwork        CommandType = 2
	CmdTraceControl         CommandType = 3
	CmdIsNetworkDisabled    CommandType = 4
	CmdGetNetSpeed          CommandType = 5
	CmdGetNetDelay          CommandType = 6
	CmdGetQemuPath          CommandType = 7
	CmdGetLcdDensity        CommandType = 8
)

// core-ui-control commands, sent by the core to the UI.
const (
	CmdSetWindowScale          CommandType = 1
	CmdChangeDisplayBrightness CommandType = 2
)

// user-events event types, sent by the UI to the core.
const (
	EventMouse   CommandType = 0
	EventKeycode CommandType = 1
	EventGeneric CommandType = 2
)

// Bits of a KeycodeEvent code.
const (
	KeyCodeMask = 0x1ff
	KeyDownBit  = 0x200
)

// framebuffer requests, sent by the UI to the core.
const (
	RequestRefresh CommandType = 1
)

// Stream names accepted by `qemu <stream>`.
const (
	StreamAttachUI      = "attach-UI"
	StreamUICoreControl = "ui-core-control"
	StreamCoreUIControl = "core-ui-control"
	StreamUserEvents    = "user-events"
	StreamFramebuffer   = "framebuffer"

	FramebufferRaw = "-raw"
)

// FramebufferStream returns the switch target for the framebuffer stream
// using the given pixel protocol.
func FramebufferStream(proto string) string {
	return StreamFramebuffer + " " + proto
}

var uiCoreNames = map[CommandType]string{
	CmdSetCoarseOrientation: "SetCoarseOrientation",
	CmdToggleNetwork:        "ToggleNetwork",
	CmdTraceControl:         "TraceControl",
	CmdIsNetworkDisabled:    "IsNetworkDisabled",
	CmdGetNetSpeed:          "GetNetSpeed",
	CmdGetNetDelay:          "GetNetDelay",
	CmdGetQemuPath:          "GetQemuPath",
	CmdGetLcdDensity:        "GetLcdDensity",
}

var coreUINames = map[CommandType]string{
	CmdSetWindowScale:          "SetWindowScale",
	CmdChangeDisplayBrightness: "ChangeDisplayBrightness",
}

var eventNames = map[CommandType]string{
	EventMouse:   "Mouse",
	EventKeycode: "Keycode",
	EventGeneric: "Generic",
}

// CommandName returns a human readable name for t on the given stream, for
// logging.
func CommandName(stream string, t CommandType) string {
	var names map[CommandType]string

	switch stream {
	case StreamUICoreControl:
		names = uiCoreNames
	case StreamCoreUIControl:
		names = coreUINames
	case StreamUserEvents:
		names = eventNames
	case StreamFramebuffer:
		if t == RequestRefresh {
			return "Refresh"
		}
	}

	if name, ok := names[t]; ok {
		return name
	}

	return fmt.Sprintf("unknown(%d)", uint8(t))
}
