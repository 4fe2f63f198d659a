package async

// Reader reads exactly len(buf) bytes from a non-blocking descriptor.
type Reader struct {
	fd  int
	io  Interest
	buf []byte
	pos int
}

// Init points the reader at a new destination. Nothing is read until Read.
func (r *Reader) Init(fd int, io Interest, buf []byte) {
	*r = Reader{fd: fd, io: io, buf: buf}
}

// Read reads as much as is available. It returns Complete once the whole
// buffer has been filled, and NeedMore with read interest armed otherwise.
// Read interest is disarmed on Complete and Error.
func (r *Reader) Read() (Status, error) {
	for r.pos < len(r.buf) {
		n, err := Recv(r.fd, r.buf[r.pos:])
		if IsWouldBlock(err) {
			r.io.WantRead()
			return NeedMore, nil
		}
		if err != nil {
			r.io.DontWantRead()
			return Error, err
		}
		r.pos += n
	}

	r.io.DontWantRead()
	return Complete, nil
}

// Offset is the number of bytes read so far.
func (r *Reader) Offset() int {
	return r.pos
}

// Buffer is the destination passed to Init.
func (r *Reader) Buffer() []byte {
	return r.buf
}
