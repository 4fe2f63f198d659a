package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// HeaderSize is the packed size of a command frame header.
	HeaderSize = 5

	// RespHeaderSize is the size of a response frame header.
	RespHeaderSize = 8

	// UpdateHeaderSize is the size of a framebuffer update rectangle.
	UpdateHeaderSize = 8

	// MaxParamSize bounds the parameters of a single command frame.
	MaxParamSize = 16 << 20

	// MaxUpdateSize bounds the pixels of a single framebuffer update.
	MaxUpdateSize = 64 << 20
)

var (
	ErrShortHeader   = errors.New("protocol: short header")
	ErrShortParams   = errors.New("protocol: parameters shorter than their fixed prefix")
	ErrFrameTooLarge = errors.New("protocol: frame exceeds the maximum size")
)

// Header starts every command frame.
type Header struct {
	Type      CommandType
	ParamSize uint32
}

func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	h.Put(b)
	return b
}

// Put encodes h into the first HeaderSize bytes of b.
func (h Header) Put(b []byte) {
	b[0] = byte(h.Type)
	binary.LittleEndian.PutUint32(b[1:5], h.ParamSize)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}

	return Header{
		Type:      CommandType(b[0]),
		ParamSize: binary.LittleEndian.Uint32(b[1:5]),
	}, nil
}

// EncodeFrame returns the wire form of a command frame.
func EncodeFrame(t CommandType, params []byte) ([]byte, error) {
	if len(params) > MaxParamSize {
		return nil, fmt.Errorf("%w: %d bytes of parameters", ErrFrameTooLarge, len(params))
	}

	b := make([]byte, HeaderSize+len(params))
	Header{Type: t, ParamSize: uint32(len(params))}.Put(b)
	copy(b[HeaderSize:], params)

	return b, nil
}

// RespHeader starts every response frame on the request/response streams.
type RespHeader struct {
	Result   int32
	DataSize uint32
}

func (r RespHeader) Marshal() []byte {
	b := make([]byte, RespHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(r.Result))
	binary.LittleEndian.PutUint32(b[4:8], r.DataSize)
	return b
}

func DecodeRespHeader(b []byte) (RespHeader, error) {
	if len(b) < RespHeaderSize {
		return RespHeader{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}

	return RespHeader{
		Result:   int32(binary.LittleEndian.Uint32(b[0:4])),
		DataSize: binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

// UpdateHeader is the rectangle that precedes the pixels of a framebuffer
// update.
type UpdateHeader struct {
	X, Y, W, H uint16
}

func (u UpdateHeader) Marshal() []byte {
	b := make([]byte, UpdateHeaderSize)
	binary.LittleEndian.PutUint16(b[0:2], u.X)
	binary.LittleEndian.PutUint16(b[2:4], u.Y)
	binary.LittleEndian.PutUint16(b[4:6], u.W)
	binary.LittleEndian.PutUint16(b[6:8], u.H)
	return b
}

func DecodeUpdateHeader(b []byte) (UpdateHeader, error) {
	if len(b) < UpdateHeaderSize {
		return UpdateHeader{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}

	return UpdateHeader{
		X: binary.LittleEndian.Uint16(b[0:2]),
		Y: binary.LittleEndian.Uint16(b[2:4]),
		W: binary.LittleEndian.Uint16(b[4:6]),
		H: binary.LittleEndian.Uint16(b[6:8]),
	}, nil
}

// PixelsSize is the number of pixel bytes following the header.
func (u UpdateHeader) PixelsSize(bytesPerPixel int) int {
	return int(u.W) * int(u.H) * bytesPerPixel
}

// CorePortTimeout bounds connecting to the console and reading its banner.
const CorePortTimeout = 5 * time.Second

// TransferTimeout is the time allowed to move n bytes over a console
// socket: two seconds plus ten milliseconds per byte.
func TransferTimeout(n int) time.Duration {
	return 2*time.Second + time.Duration(n)*10*time.Millisecond
}
