package async

// Writer writes exactly len(buf) bytes to a non-blocking descriptor.
type Writer struct {
	fd  int
	io  Interest
	buf []byte
	pos int
}

func (w *Writer) Init(fd int, io Interest, buf []byte) {
	*w = Writer{fd: fd, io: io, buf: buf}
}

// Write sends as much as the socket accepts. It returns Complete once the
// whole buffer has been written, and NeedMore with write interest armed
// otherwise.
func (w *Writer) Write() (Status, error) {
	for w.pos < len(w.buf) {
		n, err := Send(w.fd, w.buf[w.pos:])
		if IsWouldBlock(err) {
			w.io.WantWrite()
			return NeedMore, nil
		}
		if err != nil {
			w.io.DontWantWrite()
			return Error, err
		}
		w.pos += n
	}

	w.io.DontWantWrite()
	return Complete, nil
}

func (w *Writer) Offset() int {
	return w.pos
}
