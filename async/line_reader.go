package async

import (
	"github.com/luma/emuconsole/protocol"
)

// LineReader reads a newline terminated line one byte at a time, so nothing
// past the newline is consumed from the socket.
type LineReader struct {
	reader Reader
	fd     int
	io     Interest
	buf    []byte
	pos    int
	done   bool
}

// Init prepares the reader to fill buf. A line that does not fit in buf fails
// with ErrNoBufferSpace.
func (l *LineReader) Init(fd int, io Interest, buf []byte) {
	*l = LineReader{fd: fd, io: io, buf: buf}
}

func (l *LineReader) Read() (Status, error) {
	if l.done {
		return Complete, nil
	}

	for {
		if l.pos >= len(l.buf) {
			l.io.DontWantRead()
			return Error, NewOpError(opReadLn, ErrNoBufferSpace)
		}

		l.reader.Init(l.fd, l.io, l.buf[l.pos:l.pos+1])
		status, err := l.reader.Read()
		if status != Complete {
			return status, err
		}

		l.pos++
		if l.buf[l.pos-1] == '\n' {
			l.done = true
			return Complete, nil
		}
	}
}

// RawLine returns the bytes read so far, including the terminator once the
// line is complete.
func (l *LineReader) RawLine() []byte {
	return l.buf[:l.pos]
}

// Line returns the completed line without its `\n` or `\r\n` terminator. It
// returns ok=false until Read has returned Complete.
func (l *LineReader) Line() (string, bool) {
	if !l.done {
		return "", false
	}
	return string(protocol.RemoveTrailingCRLF(l.buf[:l.pos])), true
}
