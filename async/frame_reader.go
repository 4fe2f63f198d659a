package async

import (
	"fmt"

	"github.com/luma/emuconsole/protocol"
)

// inlineSize covers every fixed command parameter block, so only strings and
// framebuffer updates ever reach the heap.
const inlineSize = 256

type bufferKind int

const (
	inlineBuffer bufferKind = iota
	heapBuffer
)

// payloadBuffer holds one frame payload, inline when it is small and in an
// owned, reused heap slice otherwise.
type payloadBuffer struct {
	kind   bufferKind
	size   int
	inline [inlineSize]byte
	heap   []byte
}

func (p *payloadBuffer) reset(size int) []byte {
	p.size = size
	if size <= inlineSize {
		p.kind = inlineBuffer
		return p.inline[:size]
	}

	p.kind = heapBuffer
	if cap(p.heap) < size {
		p.heap = make([]byte, size)
	}
	return p.heap[:size]
}

func (p *payloadBuffer) bytes() []byte {
	if p.kind == inlineBuffer {
		return p.inline[:p.size]
	}
	return p.heap[:p.size]
}

// Framing describes a header-then-payload wire format.
type Framing struct {
	// HeaderSize is the fixed size of every header.
	HeaderSize int

	// PayloadSize derives the payload size from a complete header.
	PayloadSize func(header []byte) (int, error)

	// MaxPayload bounds PayloadSize. Larger frames fail with ErrNoBufferSpace.
	MaxPayload int
}

// CommandFraming is the `[type][param_size][params]` framing shared by the
// command sub-protocols.
func CommandFraming() Framing {
	return Framing{
		HeaderSize: protocol.HeaderSize,
		PayloadSize: func(header []byte) (int, error) {
			h, err := protocol.DecodeHeader(header)
			if err != nil {
				return 0, err
			}
			return int(h.ParamSize), nil
		},
		MaxPayload: protocol.MaxParamSize,
	}
}

// UpdateFraming is the framebuffer update framing for the negotiated pixel
// width.
func UpdateFraming(bytesPerPixel int) Framing {
	return Framing{
		HeaderSize: protocol.UpdateHeaderSize,
		PayloadSize: func(header []byte) (int, error) {
			u, err := protocol.DecodeUpdateHeader(header)
			if err != nil {
				return 0, err
			}
			return u.PixelsSize(bytesPerPixel), nil
		},
		MaxPayload: protocol.MaxUpdateSize,
	}
}

// Frame is one complete frame. Both slices are only valid until the next call
// to FrameReader.Next.
type Frame struct {
	Header  []byte
	Payload []byte
}

// Type is the command type of a command frame.
func (f Frame) Type() protocol.CommandType {
	return protocol.CommandType(f.Header[0])
}

type frameState interface {
	expecting() string
}

type expectsHeader struct{}

type expectsPayload struct {
	size int
}

func (expectsHeader) expecting() string  { return "header" }
func (expectsPayload) expecting() string { return "payload" }

// FrameReader is the reader half of every framed endpoint. It alternates
// between reading a fixed size header and exactly the payload the header
// declares. A frame is only handed out once it is complete.
type FrameReader struct {
	fd      int
	io      Interest
	framing Framing

	state   frameState
	reader  Reader
	header  []byte
	payload payloadBuffer

	err error
}

func NewFrameReader(fd int, io Interest, framing Framing) *FrameReader {
	r := &FrameReader{
		fd:      fd,
		io:      io,
		framing: framing,
		header:  make([]byte, framing.HeaderSize),
	}
	r.expectHeader()
	return r
}

// ExpectsHeader reports whether the reader sits on a frame boundary.
func (r *FrameReader) ExpectsHeader() bool {
	_, ok := r.state.(expectsHeader)
	return ok
}

// ExpectsParameters reports whether a header has been read and its payload is
// still outstanding.
func (r *FrameReader) ExpectsParameters() bool {
	_, ok := r.state.(expectsPayload)
	return ok
}

// Next reads until one frame is complete, the socket would block, or the
// stream fails. Errors are latched.
func (r *FrameReader) Next() (Frame, Status, error) {
	if r.err != nil {
		return Frame{}, Error, r.err
	}

	for {
		status, err := r.reader.Read()
		switch status {
		case NeedMore:
			return Frame{}, NeedMore, nil
		case Error:
			return r.fail(err)
		}

		switch r.state.(type) {
		case expectsHeader:
			size, err := r.framing.PayloadSize(r.header)
			if err != nil {
				return r.fail(err)
			}
			if size < 0 || (r.framing.MaxPayload > 0 && size > r.framing.MaxPayload) {
				return r.fail(&OpError{Op: opRead, Kind: fmt.Errorf("%w: frame payload of %d bytes", ErrNoBufferSpace, size)})
			}

			if size == 0 {
				r.payload.reset(0)
				frame := r.frame()
				r.expectHeader()
				return frame, Complete, nil
			}

			r.state = expectsPayload{size: size}
			r.reader.Init(r.fd, r.io, r.payload.reset(size))

		case expectsPayload:
			frame := r.frame()
			r.expectHeader()
			return frame, Complete, nil
		}
	}
}

func (r *FrameReader) frame() Frame {
	return Frame{Header: r.header, Payload: r.payload.bytes()}
}

func (r *FrameReader) expectHeader() {
	r.state = expectsHeader{}
	r.reader.Init(r.fd, r.io, r.header)
}

func (r *FrameReader) fail(err error) (Frame, Status, error) {
	r.err = err
	r.io.DontWantRead()
	return Frame{}, Error, err
}

// Err returns the latched error, if any.
func (r *FrameReader) Err() error {
	return r.err
}
