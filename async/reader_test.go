package async_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/luma/emuconsole/async"
)

var _ = Describe("Reader", func() {
	var (
		local, remote int
		io            *interest
	)

	BeforeEach(func() {
		local, remote = socketPair()
		io = &interest{}
	})

	AfterEach(func() {
		unix.Close(local)
		unix.Close(remote)
	})

	It("completes only once the exact byte count has arrived", func() {
		buf := make([]byte, 6)

		var r async.Reader
		r.Init(local, io, buf)

		status, err := r.Read()
		Expect(err).To(Succeed())
		Expect(status).To(Equal(async.NeedMore))
		Expect(io.read).To(BeTrue())

		send(remote, []byte("abc"))
		status, _ = r.Read()
		Expect(status).To(Equal(async.NeedMore))
		Expect(r.Offset()).To(Equal(3))

		send(remote, []byte("def"))
		status, err = r.Read()
		Expect(err).To(Succeed())
		Expect(status).To(Equal(async.Complete))
		Expect(buf).To(Equal([]byte("abcdef")))
		Expect(io.read).To(BeFalse())
	})

	It("treats a zero byte read as a reset", func() {
		var r async.Reader
		r.Init(local, io, make([]byte, 4))

		send(remote, []byte("ab"))
		Expect(unix.Close(remote)).To(Succeed())
		remote = -1

		status, err := r.Read()
		Expect(status).To(Equal(async.Error))
		Expect(errors.Is(err, async.ErrConnectionReset)).To(BeTrue())
		Expect(r.Offset()).To(Equal(2))
	})
})

var _ = Describe("Writer", func() {
	var (
		local, remote int
		io            *interest
	)

	BeforeEach(func() {
		local, remote = socketPair()
		io = &interest{}
	})

	AfterEach(func() {
		unix.Close(local)
		unix.Close(remote)
	})

	It("keeps partial progress until the peer drains the socket", func() {
		data := make([]byte, 4<<20)
		for i := range data {
			data[i] = byte(i)
		}

		var w async.Writer
		w.Init(local, io, data)

		status, err := w.Write()
		Expect(err).To(Succeed())
		Expect(status).To(Equal(async.NeedMore))
		Expect(io.write).To(BeTrue())
		Expect(w.Offset()).To(BeNumerically(">", 0))

		received := make([]byte, 0, len(data))
		chunk := make([]byte, 64<<10)

		for status != async.Complete {
			n, err := unix.Read(remote, chunk)
			if err == nil {
				received = append(received, chunk[:n]...)
			}

			status, err = w.Write()
			Expect(err).To(Succeed())
		}

		for len(received) < len(data) {
			n, err := unix.Read(remote, chunk)
			Expect(err).To(Succeed())
			received = append(received, chunk[:n]...)
		}

		Expect(received).To(Equal(data))
		Expect(io.write).To(BeFalse())
	})

	It("reports a closed peer as a reset", func() {
		Expect(unix.Close(remote)).To(Succeed())
		remote = -1

		var w async.Writer
		w.Init(local, io, []byte("hello"))

		status, err := w.Write()
		Expect(status).To(Equal(async.Error))
		Expect(errors.Is(err, async.ErrConnectionReset)).To(BeTrue())
	})
})

var _ = Describe("LineReader", func() {
	var (
		local, remote int
		io            *interest
	)

	BeforeEach(func() {
		local, remote = socketPair()
		io = &interest{}
	})

	AfterEach(func() {
		unix.Close(local)
		unix.Close(remote)
	})

	It("stops at the newline and leaves the rest on the socket", func() {
		send(remote, []byte("OK bitsperpixel=16\r\nrest"))

		var l async.LineReader
		l.Init(local, io, make([]byte, 64))

		status, err := l.Read()
		Expect(err).To(Succeed())
		Expect(status).To(Equal(async.Complete))

		line, ok := l.Line()
		Expect(ok).To(BeTrue())
		Expect(line).To(Equal("OK bitsperpixel=16"))
		Expect(l.RawLine()).To(Equal([]byte("OK bitsperpixel=16\r\n")))

		rest := make([]byte, 8)
		n, err := unix.Read(local, rest)
		Expect(err).To(Succeed())
		Expect(string(rest[:n])).To(Equal("rest"))
	})

	It("has no line until one is complete", func() {
		send(remote, []byte("partial"))

		var l async.LineReader
		l.Init(local, io, make([]byte, 64))

		status, _ := l.Read()
		Expect(status).To(Equal(async.NeedMore))

		_, ok := l.Line()
		Expect(ok).To(BeFalse())
		Expect(l.RawLine()).To(Equal([]byte("partial")))
	})

	It("fails with ErrNoBufferSpace when the line does not fit", func() {
		send(remote, []byte("too long\n"))

		var l async.LineReader
		l.Init(local, io, make([]byte, 4))

		status, err := l.Read()
		Expect(status).To(Equal(async.Error))
		Expect(errors.Is(err, async.ErrNoBufferSpace)).To(BeTrue())
	})
})
