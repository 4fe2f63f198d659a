package async_test

import (
	"context"
	"errors"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/looper"
)

// opened collects the sockets created by newConnector so they can be closed
// after each test.
var opened []int

func newConnector(addr string) (*async.ConsoleConnector, *[]async.ConsoleState) {
	fd, sa, err := async.Dial(addr)
	Expect(err).To(Succeed())
	opened = append(opened, fd)

	states := &[]async.ConsoleState{}
	connector := async.NewConsoleConnector(fd, &interest{}, sa)
	connector.OnStateChange = func(s async.ConsoleState) {
		*states = append(*states, s)
	}

	return connector, states
}

func runUntilDone(c *async.ConsoleConnector) async.Status {
	var status async.Status
	Eventually(func() async.Status {
		status, _ = c.Run()
		return status
	}, 2*time.Second, time.Millisecond).ShouldNot(Equal(async.NeedMore))
	return status
}

var _ = Describe("ConsoleConnector", func() {
	AfterEach(func() {
		for _, fd := range opened {
			unix.Close(fd)
		}
		opened = nil
	})

	It("walks every state on a good banner", func() {
		addr, release := serveBanner("Android Console: foo\r\n", "OK\r\n")
		defer close(release)

		connector, states := newConnector(addr)
		Expect(runUntilDone(connector)).To(Equal(async.Complete))

		Expect(*states).To(Equal([]async.ConsoleState{
			async.ConsoleConnecting,
			async.ConsoleReadBanner1,
			async.ConsoleReadBanner2,
			async.ConsoleComplete,
		}))
	})

	It("stays complete once complete", func() {
		addr, release := serveBanner("Android Console: type 'help'\r\n", "OK\r\n")
		defer close(release)

		connector, states := newConnector(addr)
		Expect(runUntilDone(connector)).To(Equal(async.Complete))

		transitions := len(*states)
		for i := 0; i < 3; i++ {
			status, err := connector.Run()
			Expect(err).To(Succeed())
			Expect(status).To(Equal(async.Complete))
		}
		Expect(*states).To(HaveLen(transitions))
	})

	It("accepts any suffix after the prefix", func() {
		for _, suffix := range []string{"", " ", "x", " type 'help' for a list of commands", "\t\x01"} {
			addr, release := serveBanner("Android Console:"+suffix+"\r\n", "OK\r\n")

			connector, _ := newConnector(addr)
			Expect(runUntilDone(connector)).To(Equal(async.Complete), "suffix %q", suffix)

			close(release)
		}
	})

	It("latches BadBanner for any other first line", func() {
		for _, banner := range []string{"\r\n", "Android Console\r\n", "android console: nope\r\n", "SSH-2.0-OpenSSH\r\n"} {
			addr, release := serveBanner(banner, "OK\r\n")

			connector, states := newConnector(addr)
			Expect(runUntilDone(connector)).To(Equal(async.Error), "banner %q", banner)

			err := connector.Err()
			Expect(errors.Is(err, async.ErrBadBanner)).To(BeTrue(), "banner %q", banner)

			status, again := connector.Run()
			Expect(status).To(Equal(async.Error))
			Expect(again).To(Equal(err))

			failures := 0
			for _, s := range *states {
				if s == async.ConsoleError {
					failures++
				}
			}
			Expect(failures).To(Equal(1))

			close(release)
		}
	})

	It("fails the connect when nothing listens", func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).To(Succeed())
		addr := listener.Addr().String()
		Expect(listener.Close()).To(Succeed())

		connector, _ := newConnector(addr)
		Expect(runUntilDone(connector)).To(Equal(async.Error))
		Expect(errors.Is(connector.Err(), async.ErrConnectionRefused)).To(BeTrue())
	})

	Describe("DialConsole()", func() {
		It("hands over a connected socket on the looper", func() {
			addr, release := serveBanner("Android Console: foo\r\n", "OK\r\n")
			defer close(release)

			l, err := looper.New(zap.NewNop())
			Expect(err).To(Succeed())

			ctx, cancel := context.WithCancel(context.Background())
			go l.Run(ctx)
			defer func() {
				cancel()
				<-l.Stopped()
				l.Close()
			}()

			type result struct {
				fd  int
				err error
			}
			results := make(chan result, 1)
			states := make(chan async.ConsoleState, 8)

			l.Post(func() {
				err := async.DialConsole(l, addr, func(s async.ConsoleState) { states <- s },
					func(fd int, err error) { results <- result{fd, err} })
				if err != nil {
					results <- result{-1, err}
				}
			})

			var res result
			Eventually(results, 2*time.Second).Should(Receive(&res))
			Expect(res.err).To(Succeed())
			Expect(res.fd).To(BeNumerically(">=", 0))
			unix.Close(res.fd)

			Expect(states).To(Receive(Equal(async.ConsoleConnecting)))
			Expect(states).To(Receive(Equal(async.ConsoleReadBanner1)))
			Expect(states).To(Receive(Equal(async.ConsoleReadBanner2)))
			Expect(states).To(Receive(Equal(async.ConsoleComplete)))
		})
	})
})
