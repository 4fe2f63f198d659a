package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/luma/emuconsole/protocol"
)

type hardwareFile struct {
	Hw struct {
		LcdDensity int `toml:"lcd_density"`
	} `toml:"hw"`

	NetSpeeds []netSpeedEntry `toml:"netspeed"`
	NetDelays []netDelayEntry `toml:"netdelay"`
}

type netSpeedEntry struct {
	Name     string `toml:"name"`
	Display  string `toml:"display"`
	Upload   int32  `toml:"upload"`
	Download int32  `toml:"download"`
}

type netDelayEntry struct {
	Name    string `toml:"name"`
	Display string `toml:"display"`
	MinMs   int32  `toml:"min_ms"`
	MaxMs   int32  `toml:"max_ms"`
}

// LoadHardwareConfig reads a TOML hardware profile into store. Only the keys
// present in the file are replaced, the rest keep their current values. The
// whole profile is checked before anything is written, so a profile that
// fails to load leaves store as it was.
//
//	[hw]
//	lcd_density = 240
//
//	[[netspeed]]
//	name = "full"
//	display = "Full speed"
//	upload = 1000000
//	download = 1000000
func LoadHardwareConfig(ctx context.Context, path string, store Store) error {
	values, err := readHardwareConfig(path)
	if err != nil {
		return err
	}

	backup, err := store.Backup()
	if err != nil {
		return err
	}

	for _, v := range values {
		if err := store.Set(ctx, []byte(v.key), v.value); err != nil {
			if rerr := store.Restore(backup); rerr != nil {
				return fmt.Errorf("%w (restoring previous config: %v)", err, rerr)
			}
			return err
		}
	}

	return nil
}

type hardwareValue struct {
	key   string
	value interface{}
}

// readHardwareConfig parses and checks the profile at path, returning the
// store values it sets.
func readHardwareConfig(path string) ([]hardwareValue, error) {
	var raw hardwareFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load hardware config: %w", err)
	}

	var values []hardwareValue

	if meta.IsDefined("hw", "lcd_density") {
		if raw.Hw.LcdDensity <= 0 {
			return nil, fmt.Errorf("hw.lcd_density must be positive, got %d", raw.Hw.LcdDensity)
		}
		values = append(values, hardwareValue{KeyLcdDensity, raw.Hw.LcdDensity})
	}

	if meta.IsDefined("netspeed") {
		speeds := make([]protocol.NetSpeed, 0, len(raw.NetSpeeds))
		for i, e := range raw.NetSpeeds {
			name := strings.TrimSpace(e.Name)
			if name == "" {
				return nil, fmt.Errorf("netspeed %d has no name", i)
			}
			speeds = append(speeds, protocol.NetSpeed{Name: name, Display: e.Display, Upload: e.Upload, Download: e.Download})
		}
		values = append(values, hardwareValue{KeyNetSpeeds, netSpeedValues(speeds)})
	}

	if meta.IsDefined("netdelay") {
		delays := make([]protocol.NetDelay, 0, len(raw.NetDelays))
		for i, e := range raw.NetDelays {
			name := strings.TrimSpace(e.Name)
			if name == "" {
				return nil, fmt.Errorf("netdelay %d has no name", i)
			}
			delays = append(delays, protocol.NetDelay{Name: name, Display: e.Display, MinMs: e.MinMs, MaxMs: e.MaxMs})
		}
		values = append(values, hardwareValue{KeyNetDelays, netDelayValues(delays)})
	}

	return values, nil
}
