package storage

import (
	"context"

	"github.com/luma/emuconsole/protocol"
)

// Update is sent to listeners whenever a key is set. Value is the raw JSON of
// the new value.
type Update struct {
	Key   []byte
	Value []byte
}

type Store interface {
	Set(ctx context.Context, key []byte, value interface{}) error
	Get(ctx context.Context, key []byte) ([]byte, error)

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}

// HardwareConfig answers the hardware queries of the ui-core-control stream.
type HardwareConfig interface {
	NetSpeed(index int) (protocol.NetSpeed, bool)
	NetDelay(index int) (protocol.NetDelay, bool)
	LcdDensity() int
}

// Keys of the hardware document.
const (
	KeyNetSpeeds  = "netspeeds"
	KeyNetDelays  = "netdelays"
	KeyLcdDensity = "hw.lcd_density"
)

// DefaultLcdDensity is reported when the document has no density.
const DefaultLcdDensity = 160

// DefaultNetSpeeds is the network speed table of a stock core, in bits per
// second. Zero means unlimited.
var DefaultNetSpeeds = []protocol.NetSpeed{
	{Name: "gsm", Display: "GSM/CSD", Upload: 14400, Download: 14400},
	{Name: "hscsd", Display: "HSCSD", Upload: 14400, Download: 43200},
	{Name: "gprs", Display: "GPRS", Upload: 40000, Download: 80000},
	{Name: "edge", Display: "EDGE/EGPRS", Upload: 118400, Download: 236800},
	{Name: "umts", Display: "UMTS/3G", Upload: 128000, Download: 1920000},
	{Name: "hsdpa", Display: "HSDPA", Upload: 348000, Download: 14400000},
	{Name: "full", Display: "no limit", Upload: 0, Download: 0},
}

// DefaultNetDelays is the latency table of a stock core, in milliseconds.
var DefaultNetDelays = []protocol.NetDelay{
	{Name: "gprs", Display: "GPRS", MinMs: 150, MaxMs: 550},
	{Name: "edge", Display: "EDGE/EGPRS", MinMs: 80, MaxMs: 400},
	{Name: "umts", Display: "UMTS/3G", MinMs: 35, MaxMs: 200},
	{Name: "none", Display: "no latency", MinMs: 0, MaxMs: 0},
}
