package storage

import (
	"context"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/emuconsole/protocol"
)

// InmemoryStore keeps the hardware document as a single JSON value.
type InmemoryStore struct {
	valuesMu sync.RWMutex
	values   []byte

	mu          sync.Mutex
	updateChans []chan *Update

	// stop willl be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte(""),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

// NewHardwareStore returns a store seeded with the stock speed and delay
// tables and LCD density.
func NewHardwareStore() *InmemoryStore {
	store := NewInmemoryStore()

	ctx := context.Background()
	store.Set(ctx, []byte(KeyNetSpeeds), netSpeedValues(DefaultNetSpeeds))
	store.Set(ctx, []byte(KeyNetDelays), netDelayValues(DefaultNetDelays))
	store.Set(ctx, []byte(KeyLcdDensity), DefaultLcdDensity)

	return store
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return nil
	}
	close(i.stop)

	for _, updateChan := range i.updateChans {
		close(updateChan)
	}
	i.updateChans = nil

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key []byte, value interface{}) error {
	i.valuesMu.Lock()
	values, err := sjson.SetBytes(i.values, string(key), value)
	if err != nil {
		i.valuesMu.Unlock()
		return err
	}
	i.values = values
	raw := []byte(gjson.GetBytes(values, string(key)).Raw)
	i.valuesMu.Unlock()

	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return nil
	}

	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- &Update{Key: key, Value: raw}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	result := gjson.GetBytes(i.values, string(key))

	if result.Index == 0 {
		return []byte(result.Raw), nil
	}

	return append([]byte{}, i.values[result.Index:result.Index+len(result.Raw)]...), nil
}

func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update, 255)
	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}
	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

func (i *InmemoryStore) Restore(values []byte) error {
	i.valuesMu.Lock()
	defer i.valuesMu.Unlock()

	i.values = append([]byte{}, values...)
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	return append([]byte{}, i.values...), nil
}

// NetSpeed returns entry index of the speed table.
func (i *InmemoryStore) NetSpeed(index int) (protocol.NetSpeed, bool) {
	entry, ok := i.entry(KeyNetSpeeds, index)
	if !ok {
		return protocol.NetSpeed{}, false
	}

	return protocol.NetSpeed{
		Name:     entry.Get("name").String(),
		Display:  entry.Get("display").String(),
		Upload:   int32(entry.Get("upload").Int()),
		Download: int32(entry.Get("download").Int()),
	}, true
}

// NetDelay returns entry index of the latency table.
func (i *InmemoryStore) NetDelay(index int) (protocol.NetDelay, bool) {
	entry, ok := i.entry(KeyNetDelays, index)
	if !ok {
		return protocol.NetDelay{}, false
	}

	return protocol.NetDelay{
		Name:    entry.Get("name").String(),
		Display: entry.Get("display").String(),
		MinMs:   int32(entry.Get("min_ms").Int()),
		MaxMs:   int32(entry.Get("max_ms").Int()),
	}, true
}

func (i *InmemoryStore) LcdDensity() int {
	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	result := gjson.GetBytes(i.values, KeyLcdDensity)
	if !result.Exists() || result.Int() <= 0 {
		return DefaultLcdDensity
	}
	return int(result.Int())
}

func (i *InmemoryStore) entry(table string, index int) (gjson.Result, bool) {
	if index < 0 {
		return gjson.Result{}, false
	}

	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	result := gjson.GetBytes(i.values, table+"."+strconv.Itoa(index))
	if !result.IsObject() {
		return gjson.Result{}, false
	}
	return result, true
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

func netSpeedValues(speeds []protocol.NetSpeed) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(speeds))
	for _, s := range speeds {
		out = append(out, map[string]interface{}{
			"name":     s.Name,
			"display":  s.Display,
			"upload":   s.Upload,
			"download": s.Download,
		})
	}
	return out
}

func netDelayValues(delays []protocol.NetDelay) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(delays))
	for _, d := range delays {
		out = append(out, map[string]interface{}{
			"name":    d.Name,
			"display": d.Display,
			"min_ms":  d.MinMs,
			"max_ms":  d.MaxMs,
		})
	}
	return out
}

var _ Store = (*InmemoryStore)(nil)
var _ HardwareConfig = (*InmemoryStore)(nil)
