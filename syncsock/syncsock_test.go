package syncsock_test

import (
	"errors"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/syncsock"
)

var _ = Describe("SyncSocket", func() {
	var (
		sock   *syncsock.SyncSocket
		remote int
	)

	BeforeEach(func() {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		Expect(err).To(Succeed())

		sock, err = syncsock.New(fds[0], zap.NewNop())
		Expect(err).To(Succeed())
		remote = fds[1]
	})

	AfterEach(func() {
		Expect(sock.Close()).To(Succeed())
		unix.Close(remote)
	})

	Describe("Read()", func() {
		It("reads exactly the requested bytes", func() {
			go func() {
				defer GinkgoRecover()
				for _, part := range []string{"he", "ll", "o"} {
					time.Sleep(5 * time.Millisecond)
					_, err := unix.Write(remote, []byte(part))
					Expect(err).To(Succeed())
				}
			}()

			buf := make([]byte, 5)
			n, err := sock.Read(buf, time.Second)
			Expect(err).To(Succeed())
			Expect(n).To(Equal(5))
			Expect(string(buf)).To(Equal("hello"))
		})

		It("times out against a silent peer, never early", func() {
			timeout := 100 * time.Millisecond

			start := time.Now()
			_, err := sock.Read(make([]byte, 1), timeout)

			Expect(errors.Is(err, async.ErrTimeout)).To(BeTrue())
			Expect(errors.Is(err, unix.ETIMEDOUT)).To(BeTrue())
			Expect(time.Since(start)).To(BeNumerically(">=", timeout))
		})

		It("accepts an absolute deadline", func() {
			deadline := time.Now().Add(50 * time.Millisecond)

			_, err := sock.ReadDeadline(make([]byte, 1), deadline)
			Expect(errors.Is(err, async.ErrTimeout)).To(BeTrue())
			Expect(time.Now()).To(BeTemporally(">=", deadline))
		})

		It("reports the peer closing as a reset with the partial count", func() {
			_, err := unix.Write(remote, []byte("ab"))
			Expect(err).To(Succeed())
			Expect(unix.Close(remote)).To(Succeed())
			remote = -1

			n, err := sock.Read(make([]byte, 4), time.Second)
			Expect(n).To(Equal(2))
			Expect(errors.Is(err, async.ErrConnectionReset)).To(BeTrue())
		})
	})

	Describe("Write()", func() {
		It("accumulates partial writes until everything is sent", func() {
			data := make([]byte, 2<<20)
			for i := range data {
				data[i] = byte(i % 251)
			}

			received := make(chan []byte, 1)
			go func() {
				var out []byte
				chunk := make([]byte, 32<<10)
				for len(out) < len(data) {
					n, err := unix.Read(remote, chunk)
					if err != nil {
						break
					}
					out = append(out, chunk[:n]...)
				}
				received <- out
			}()

			n, err := sock.Write(data, 5*time.Second)
			Expect(err).To(Succeed())
			Expect(n).To(Equal(len(data)))
			Eventually(received, 5*time.Second).Should(Receive(Equal(data)))
		})
	})

	Describe("ReadLine()", func() {
		It("stops at the newline", func() {
			_, err := unix.Write(remote, []byte("OK\r\nnext"))
			Expect(err).To(Succeed())

			buf := make([]byte, 32)
			n, err := sock.ReadLine(buf, time.Second)
			Expect(err).To(Succeed())
			Expect(string(buf[:n])).To(Equal("OK\r\n"))

			n, err = sock.Read(buf[:4], time.Second)
			Expect(err).To(Succeed())
			Expect(string(buf[:n])).To(Equal("next"))
		})

		It("fails with ErrNoBufferSpace when the line is too long", func() {
			_, err := unix.Write(remote, []byte("0123456789\n"))
			Expect(err).To(Succeed())

			_, err = sock.ReadLine(make([]byte, 4), time.Second)
			Expect(errors.Is(err, async.ErrNoBufferSpace)).To(BeTrue())
		})
	})

	Describe("interest", func() {
		It("treats a double stop as a no-op", func() {
			sock.StartRead()
			sock.StartRead()
			sock.StopRead()
			sock.StopRead()

			sock.StopWrite()
		})

		It("still reads while reading has been started", func() {
			sock.StartRead()
			defer sock.StopRead()

			_, err := unix.Write(remote, []byte("x"))
			Expect(err).To(Succeed())

			buf := make([]byte, 1)
			_, err = sock.Read(buf, time.Second)
			Expect(err).To(Succeed())
			Expect(buf).To(Equal([]byte("x")))
		})
	})

	It("refuses I/O after Close", func() {
		Expect(sock.Close()).To(Succeed())
		Expect(sock.Close()).To(Succeed())

		_, err := sock.Read(make([]byte, 1), time.Second)
		Expect(err).To(MatchError(syncsock.ErrClosed))
	})
})

var _ = Describe("Connect()", func() {
	It("connects to a listening console", func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).To(Succeed())
		defer listener.Close()

		go func() {
			conn, err := listener.Accept()
			if err == nil {
				conn.Write([]byte("hi"))
				conn.Close()
			}
		}()

		sock, err := syncsock.Connect(listener.Addr().String(), time.Second, zap.NewNop())
		Expect(err).To(Succeed())
		defer sock.Close()

		buf := make([]byte, 2)
		_, err = sock.Read(buf, time.Second)
		Expect(err).To(Succeed())
		Expect(string(buf)).To(Equal("hi"))
	})

	It("reports a refused connection", func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).To(Succeed())
		addr := listener.Addr().String()
		Expect(listener.Close()).To(Succeed())

		_, err = syncsock.Connect(addr, time.Second, zap.NewNop())
		Expect(errors.Is(err, async.ErrConnectionRefused)).To(BeTrue())
	})
})
