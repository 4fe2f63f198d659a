package transport

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/emuconsole/protocol"
	"github.com/luma/emuconsole/storage"
)

// CoreCmdHandler carries out the ui-core-control commands. Methods are called
// on the loop goroutine.
type CoreCmdHandler interface {
	SetCoarseOrientation(orientation protocol.Orientation)
	ToggleNetwork()
	TraceControl(start bool)
	IsNetworkDisabled() bool
	GetNetSpeed(index int) (protocol.NetSpeed, bool)
	GetNetDelay(index int) (protocol.NetDelay, bool)
	GetQemuPath(fileType int32, filename string) (string, bool)
	GetLcdDensity() int
}

// UserEventsHandler receives user-events in arrival order, on the loop
// goroutine.
type UserEventsHandler interface {
	Mouse(dx, dy, dz int, buttons uint32)
	Keycode(code int)
	Generic(eventType, code, value int)
}

// ModemHook is told about the new registration state whenever the network is
// toggled.
type ModemHook func(registered bool)

var qemuPathDirs = map[int32][]string{
	protocol.FileTypeBIOS:   {"", "lib/pc-bios/", "../usr/share/pc-bios/"},
	protocol.FileTypeKeymap: {"keymaps/"},
}

type ControlOptions struct {
	// Hardware answers the network and display queries.
	Hardware storage.HardwareConfig

	// DataDir is the root GetQemuPath searches under.
	DataDir string

	Modem ModemHook

	Log *zap.Logger
}

// InputState is what the emulated input devices have seen so far.
type InputState struct {
	X, Y, Z  int
	Buttons  uint32
	KeysDown map[int]bool
	Generic  int
}

// Control is the core state driven by the UI: orientation, network, tracing
// and input. It is the default command target of a Server.
type Control struct {
	mu sync.Mutex

	hardware storage.HardwareConfig
	dataDir  string
	modem    ModemHook

	orientation     protocol.Orientation
	networkDisabled bool
	tracing         bool
	input           InputState

	log *zap.Logger
}

func NewControl(options ControlOptions) *Control {
	hardware := options.Hardware
	if hardware == nil {
		hardware = storage.NewHardwareStore()
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Control{
		hardware: hardware,
		dataDir:  options.DataDir,
		modem:    options.Modem,
		input:    InputState{KeysDown: make(map[int]bool)},
		log:      log,
	}
}

func (c *Control) SetCoarseOrientation(orientation protocol.Orientation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Info("Orientation changed", zap.Stringer("orientation", orientation))
	c.orientation = orientation
}

func (c *Control) Orientation() protocol.Orientation {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.orientation
}

func (c *Control) ToggleNetwork() {
	c.mu.Lock()
	c.networkDisabled = !c.networkDisabled
	disabled := c.networkDisabled
	c.mu.Unlock()

	c.log.Info("Network toggled", zap.Bool("disabled", disabled))

	if c.modem != nil {
		c.modem(!disabled)
	}
}

func (c *Control) IsNetworkDisabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.networkDisabled
}

func (c *Control) TraceControl(start bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Info("Tracing", zap.Bool("enabled", start))
	c.tracing = start
}

func (c *Control) Tracing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.tracing
}

func (c *Control) GetNetSpeed(index int) (protocol.NetSpeed, bool) {
	return c.hardware.NetSpeed(index)
}

func (c *Control) GetNetDelay(index int) (protocol.NetDelay, bool) {
	return c.hardware.NetDelay(index)
}

func (c *Control) GetLcdDensity() int {
	return c.hardware.LcdDensity()
}

// GetQemuPath finds a data file of the given type. A filename with a
// directory part is taken as is if it can be read.
func (c *Control) GetQemuPath(fileType int32, filename string) (string, bool) {
	if filename == "" {
		return "", false
	}

	if strings.ContainsRune(filename, os.PathSeparator) {
		if readable(filename) {
			return filename, true
		}
		return "", false
	}

	dirs, ok := qemuPathDirs[fileType]
	if !ok {
		return "", false
	}

	for _, dir := range dirs {
		path := filepath.Join(c.dataDir, dir, filename)
		if readable(path) {
			return path, true
		}
	}

	return "", false
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	return err == nil && info.Mode().IsRegular()
}

func (c *Control) Mouse(dx, dy, dz int, buttons uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.input.X += dx
	c.input.Y += dy
	c.input.Z += dz
	c.input.Buttons = buttons
}

func (c *Control) Keycode(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := code & protocol.KeyCodeMask
	if code&protocol.KeyDownBit != 0 {
		c.input.KeysDown[key] = true
	} else {
		delete(c.input.KeysDown, key)
	}
}

func (c *Control) Generic(eventType, code, value int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.input.Generic++

	if ce := c.log.Check(zap.DebugLevel, "Generic event"); ce != nil {
		ce.Write(zap.Int("type", eventType), zap.Int("code", code), zap.Int("value", value))
	}
}

// Input returns a copy of the input state.
func (c *Control) Input() InputState {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.input
	state.KeysDown = make(map[int]bool, len(c.input.KeysDown))
	for k, v := range c.input.KeysDown {
		state.KeysDown[k] = v
	}
	return state
}

var (
	_ CoreCmdHandler    = (*Control)(nil)
	_ UserEventsHandler = (*Control)(nil)
)
