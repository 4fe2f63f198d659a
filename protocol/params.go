package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

type Marshaler interface {
	Marshal() ([]byte, error)
}

type Unmarshaler interface {
	Unmarshal(data []byte) error
}

type Marshalable interface {
	Marshaler
	Unmarshaler
}

// Orientation is the coarse device orientation reported by the UI.
type Orientation int32

const (
	OrientationPortrait  Orientation = 0
	OrientationLandscape Orientation = 1
)

func (o Orientation) String() string {
	switch o {
	case OrientationPortrait:
		return "portrait"
	case OrientationLandscape:
		return "landscape"
	default:
		return fmt.Sprintf("orientation(%d)", int32(o))
	}
}

// File types understood by GetQemuPath.
const (
	FileTypeBIOS   int32 = 0
	FileTypeKeymap int32 = 1
)

type SetCoarseOrientation struct {
	Orientation Orientation
}

func (c *SetCoarseOrientation) Marshal() ([]byte, error) {
	return putInt32s(int32(c.Orientation)), nil
}

func (c *SetCoarseOrientation) Unmarshal(data []byte) error {
	v, err := int32s(data, 1)
	if err != nil {
		return err
	}
	c.Orientation = Orientation(v[0])
	return nil
}

type TraceControl struct {
	Start bool
}

func (c *TraceControl) Marshal() ([]byte, error) {
	return putInt32s(boolToInt32(c.Start)), nil
}

func (c *TraceControl) Unmarshal(data []byte) error {
	v, err := int32s(data, 1)
	if err != nil {
		return err
	}
	c.Start = v[0] != 0
	return nil
}

// TableIndex is the parameter of GetNetSpeed and GetNetDelay.
type TableIndex struct {
	Index int32
}

func (c *TableIndex) Marshal() ([]byte, error) {
	return putInt32s(c.Index), nil
}

func (c *TableIndex) Unmarshal(data []byte) error {
	v, err := int32s(data, 1)
	if err != nil {
		return err
	}
	c.Index = v[0]
	return nil
}

// NetSpeed is one entry of the core's network speed table, and the response
// data of GetNetSpeed.
type NetSpeed struct {
	Name     string
	Display  string
	Upload   int32
	Download int32
}

func (n *NetSpeed) Marshal() ([]byte, error) {
	b := putInt32s(n.Upload, n.Download)
	b = appendCString(b, n.Name)
	return appendCString(b, n.Display), nil
}

func (n *NetSpeed) Unmarshal(data []byte) error {
	v, err := int32s(data, 2)
	if err != nil {
		return err
	}
	n.Upload, n.Download = v[0], v[1]
	n.Name, n.Display = twoCStrings(data[8:])
	return nil
}

// NetDelay is one entry of the core's network latency table, and the
// response data of GetNetDelay.
type NetDelay struct {
	Name    string
	Display string
	MinMs   int32
	MaxMs   int32
}

func (n *NetDelay) Marshal() ([]byte, error) {
	b := putInt32s(n.MinMs, n.MaxMs)
	b = appendCString(b, n.Name)
	return appendCString(b, n.Display), nil
}

func (n *NetDelay) Unmarshal(data []byte) error {
	v, err := int32s(data, 2)
	if err != nil {
		return err
	}
	n.MinMs, n.MaxMs = v[0], v[1]
	n.Name, n.Display = twoCStrings(data[8:])
	return nil
}

type GetQemuPath struct {
	Type     int32
	Filename string
}

func (c *GetQemuPath) Marshal() ([]byte, error) {
	return appendCString(putInt32s(c.Type), c.Filename), nil
}

func (c *GetQemuPath) Unmarshal(data []byte) error {
	v, err := int32s(data, 1)
	if err != nil {
		return err
	}
	c.Type = v[0]
	c.Filename, _ = cString(data[4:])
	return nil
}

type SetWindowScale struct {
	Scale float64
	IsDPI bool
}

func (c *SetWindowScale) Marshal() ([]byte, error) {
	b := make([]byte, 8, 12)
	binary.LittleEndian.PutUint64(b, math.Float64bits(c.Scale))
	return append(b, putInt32s(boolToInt32(c.IsDPI))...), nil
}

func (c *SetWindowScale) Unmarshal(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("%w: SetWindowScale needs 12 bytes, got %d", ErrShortParams, len(data))
	}
	c.Scale = math.Float64frombits(binary.LittleEndian.Uint64(data[0:8]))
	c.IsDPI = binary.LittleEndian.Uint32(data[8:12]) != 0
	return nil
}

type ChangeDisplayBrightness struct {
	Light      string
	Brightness int32
}

func (c *ChangeDisplayBrightness) Marshal() ([]byte, error) {
	return appendCString(putInt32s(c.Brightness), c.Light), nil
}

func (c *ChangeDisplayBrightness) Unmarshal(data []byte) error {
	v, err := int32s(data, 1)
	if err != nil {
		return err
	}
	c.Brightness = v[0]
	c.Light, _ = cString(data[4:])
	return nil
}

type MouseEvent struct {
	Dx, Dy, Dz int32
	Buttons    uint32
}

func (e *MouseEvent) Marshal() ([]byte, error) {
	return putInt32s(e.Dx, e.Dy, e.Dz, int32(e.Buttons)), nil
}

func (e *MouseEvent) Unmarshal(data []byte) error {
	v, err := int32s(data, 4)
	if err != nil {
		return err
	}
	e.Dx, e.Dy, e.Dz, e.Buttons = v[0], v[1], v[2], uint32(v[3])
	return nil
}

type KeycodeEvent struct {
	Code int32
}

func (e *KeycodeEvent) Marshal() ([]byte, error) {
	return putInt32s(e.Code), nil
}

func (e *KeycodeEvent) Unmarshal(data []byte) error {
	v, err := int32s(data, 1)
	if err != nil {
		return err
	}
	e.Code = v[0]
	return nil
}

type GenericEvent struct {
	Type, Code, Value int32
}

func (e *GenericEvent) Marshal() ([]byte, error) {
	return putInt32s(e.Type, e.Code, e.Value), nil
}

func (e *GenericEvent) Unmarshal(data []byte) error {
	v, err := int32s(data, 3)
	if err != nil {
		return err
	}
	e.Type, e.Code, e.Value = v[0], v[1], v[2]
	return nil
}

// EncodeCString returns s as a NUL terminated byte string.
func EncodeCString(s string) []byte {
	return appendCString(nil, s)
}

// DecodeCString reads a NUL terminated string. A missing terminator means the
// string runs to the end of data.
func DecodeCString(data []byte) string {
	s, _ := cString(data)
	return s
}

func putInt32s(vs ...int32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(v))
	}
	return b
}

func int32s(data []byte, n int) ([]int32, error) {
	if len(data) < 4*n {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrShortParams, 4*n, len(data))
	}

	vs := make([]int32, n)
	for i := range vs {
		vs[i] = int32(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vs, nil
}

func appendCString(b []byte, s string) []byte {
	b = append(b, s...)
	return append(b, 0)
}

func cString(data []byte) (string, []byte) {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		return string(data[:i]), data[i+1:]
	}
	return string(data), nil
}

func twoCStrings(data []byte) (string, string) {
	first, rest := cString(data)
	second, _ := cString(rest)
	return first, second
}

func boolToInt32(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

var _ Marshalable = (*SetCoarseOrientation)(nil)
var _ Marshalable = (*TraceControl)(nil)
var _ Marshalable = (*TableIndex)(nil)
var _ Marshalable = (*NetSpeed)(nil)
var _ Marshalable = (*NetDelay)(nil)
var _ Marshalable = (*GetQemuPath)(nil)
var _ Marshalable = (*SetWindowScale)(nil)
var _ Marshalable = (*ChangeDisplayBrightness)(nil)
var _ Marshalable = (*MouseEvent)(nil)
var _ Marshalable = (*KeycodeEvent)(nil)
var _ Marshalable = (*GenericEvent)(nil)
