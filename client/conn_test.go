package client_test

import (
	"errors"
	"io"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/client"
)

var _ = Describe("CoreConnection", func() {
	var console *fakeConsole

	AfterEach(func() {
		if console != nil {
			console.Close()
			console = nil
		}
	})

	It("switches streams and returns the handshake", func() {
		console = okConsole()

		conn, handshake, err := client.CreateAndSwitch(console.Addr(), "attach-UI", zap.NewNop())
		Expect(err).To(Succeed())
		defer conn.Close()

		Expect(handshake).To(Equal("session=test-session"))
		Expect(conn.Stream()).To(Equal("attach-UI"))
		Expect(conn.Fd()).To(BeNumerically(">=", 0))

		var p *peer
		Eventually(console.peers).Should(Receive(&p))
		Expect(p.Switch).To(Equal("qemu attach-UI"))
	})

	It("switches only once", func() {
		console = okConsole()

		conn, _, err := client.CreateAndSwitch(console.Addr(), "user-events", zap.NewNop())
		Expect(err).To(Succeed())
		defer conn.Close()

		_, err = conn.SwitchStream("framebuffer -raw")
		Expect(err).To(MatchError(client.ErrAlreadySwitched))
	})

	It("surfaces KO as a rejection", func() {
		console = newFakeConsole(func(string) []string {
			return []string{"KO unknown stream 'nope'\r\n"}
		})

		_, _, err := client.CreateAndSwitch(console.Addr(), "nope", zap.NewNop())

		var rejected *client.RejectedError
		Expect(errors.As(err, &rejected)).To(BeTrue())
		Expect(rejected.Stream).To(Equal("nope"))
		Expect(rejected.Message).To(Equal("unknown stream 'nope'"))
		Expect(errors.Is(err, async.ErrProtocolViolation)).To(BeTrue())
	})

	It("treats a reply that is neither OK nor KO as a violation", func() {
		console = newFakeConsole(func(string) []string {
			return []string{"what?\r\n"}
		})

		_, _, err := client.CreateAndSwitch(console.Addr(), "user-events", zap.NewNop())
		Expect(errors.Is(err, async.ErrProtocolViolation)).To(BeTrue())
	})

	It("needs the confirming OK", func() {
		console = newFakeConsole(func(string) []string {
			return []string{"OK\r\n", "KO changed my mind\r\n"}
		})

		_, _, err := client.CreateAndSwitch(console.Addr(), "user-events", zap.NewNop())
		Expect(errors.Is(err, async.ErrProtocolViolation)).To(BeTrue())
	})

	It("closes the connection after a refused switch", func() {
		console = newFakeConsole(func(line string) []string {
			if line == "qemu nope" {
				return []string{"KO unknown stream 'nope'\r\n"}
			}
			return okReplies(line)
		})

		conn := client.NewCoreConnection(console.Addr(), zap.NewNop())
		Expect(conn.Open()).To(Succeed())

		_, err := conn.SwitchStream("nope")
		Expect(err).To(MatchError(async.ErrProtocolViolation))
		Expect(conn.Fd()).To(Equal(-1))

		_, err = conn.SwitchStream("user-events")
		Expect(err).To(MatchError(client.ErrNotOpen))
		Expect(conn.Stream()).To(BeEmpty())
	})

	It("closes the connection after a garbled reply", func() {
		console = newFakeConsole(func(string) []string {
			return []string{"what?\r\n"}
		})

		conn := client.NewCoreConnection(console.Addr(), zap.NewNop())
		Expect(conn.Open()).To(Succeed())

		_, err := conn.SwitchStream("user-events")
		Expect(err).To(MatchError(async.ErrProtocolViolation))

		Expect(conn.Write([]byte("qemu user-events\r\n"))).To(MatchError(client.ErrNotOpen))
	})

	It("refuses a server without the console banner", func() {
		console = newFakeConsoleWithBanner("SSH-2.0-OpenSSH_8.9\r\n", okReplies)

		conn := client.NewCoreConnection(console.Addr(), zap.NewNop())
		err := conn.Open()
		Expect(errors.Is(err, async.ErrBadBanner)).To(BeTrue())
	})

	It("detaches with a lone newline", func() {
		console = okConsole()

		conn, _, err := client.CreateAndSwitch(console.Addr(), "attach-UI", zap.NewNop())
		Expect(err).To(Succeed())
		defer conn.Close()

		var p *peer
		Eventually(console.peers).Should(Receive(&p))

		Expect(conn.Detach()).To(Succeed())

		b := make([]byte, 1)
		_, err = io.ReadFull(p, b)
		Expect(err).To(Succeed())
		Expect(b).To(Equal([]byte("\n")))
	})

	It("does nothing before Open", func() {
		conn := client.NewCoreConnection("127.0.0.1:1", zap.NewNop())

		Expect(conn.Write([]byte("x"))).To(MatchError(client.ErrNotOpen))
		Expect(conn.Fd()).To(Equal(-1))
		Expect(conn.Close()).To(Succeed())
	})
})
