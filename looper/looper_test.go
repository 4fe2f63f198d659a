package looper_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luma/emuconsole/looper"
)

var _ = Describe("Looper", func() {
	var (
		l      *looper.Looper
		cancel context.CancelFunc
		runErr chan error
	)

	BeforeEach(func() {
		var (
			ctx context.Context
			err error
		)

		l, err = looper.New(zap.NewNop())
		Expect(err).To(Succeed())

		ctx, cancel = context.WithCancel(context.Background())
		runErr = make(chan error, 1)
		go func() { runErr <- l.Run(ctx) }()
	})

	AfterEach(func() {
		cancel()
		Eventually(runErr).Should(Receive(BeNil()))
		Expect(l.Close()).To(Succeed())
	})

	It("runs posted functions in order", func() {
		var order []int
		for i := 0; i < 5; i++ {
			i := i
			l.Post(func() { order = append(order, i) })
		}

		Expect(l.Call(context.Background(), func() {})).To(Succeed())
		Expect(order).To(Equal([]int{0, 1, 2, 3, 4}))
	})

	It("dispatches readiness to the io handler", func() {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
		Expect(err).To(Succeed())
		defer unix.Close(fds[0])
		defer unix.Close(fds[1])

		received := make(chan string, 1)

		Expect(l.Call(context.Background(), func() {
			var io *looper.IO
			io = l.NewIO(fds[0], func(ready uint32) {
				buf := make([]byte, 16)
				n, _ := unix.Read(fds[0], buf)
				io.Done()
				received <- string(buf[:n])
			})
			io.WantRead()
		})).To(Succeed())

		_, err = unix.Write(fds[1], []byte("ping"))
		Expect(err).To(Succeed())

		Eventually(received).Should(Receive(Equal("ping")))
	})

	It("stops dispatching once an io is done", func() {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
		Expect(err).To(Succeed())
		defer unix.Close(fds[0])
		defer unix.Close(fds[1])

		calls := make(chan struct{}, 16)

		Expect(l.Call(context.Background(), func() {
			io := l.NewIO(fds[0], func(uint32) { calls <- struct{}{} })
			io.WantRead()
			io.Done()
			io.Done()
		})).To(Succeed())

		_, err = unix.Write(fds[1], []byte("x"))
		Expect(err).To(Succeed())

		Consistently(calls, 50*time.Millisecond).ShouldNot(Receive())
	})

	It("refuses calls once stopped", func() {
		cancel()
		Eventually(l.Stopped()).Should(BeClosed())

		err := l.Call(context.Background(), func() {})
		Expect(err).To(MatchError(looper.ErrLooperStopped))
	})
})
