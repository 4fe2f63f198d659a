package transport_test

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/emuconsole/looper"
	"github.com/luma/emuconsole/protocol"
	"github.com/luma/emuconsole/transport"
)

type mouseCall struct {
	dx, dy, dz int
	buttons    uint32
}

// recordingEvents hands every event to the test over channels.
type recordingEvents struct {
	mice     chan mouseCall
	keycodes chan int
	generics chan [3]int
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{
		mice:     make(chan mouseCall, 16),
		keycodes: make(chan int, 16),
		generics: make(chan [3]int, 16),
	}
}

func (r *recordingEvents) Mouse(dx, dy, dz int, buttons uint32) {
	r.mice <- mouseCall{dx, dy, dz, buttons}
}

func (r *recordingEvents) Keycode(code int) {
	r.keycodes <- code
}

func (r *recordingEvents) Generic(eventType, code, value int) {
	r.generics <- [3]int{eventType, code, value}
}

// core is a running Server with its own looper.
type core struct {
	*transport.Server
	looper *looper.Looper
	cancel context.CancelFunc
}

func startCore(options transport.Options) *core {
	l, err := looper.New(zap.NewNop())
	Expect(err).To(Succeed())

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)

	options.Host = "127.0.0.1"
	options.Looper = l
	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	server, err := transport.NewServer(options)
	Expect(err).To(Succeed())
	Expect(server.Start(ctx)).To(Succeed())

	return &core{Server: server, looper: l, cancel: cancel}
}

func (c *core) Stop() {
	Expect(c.Server.Close()).To(Succeed())
	c.cancel()
	<-c.looper.Stopped()
	c.looper.Close()
}

func (c *core) sessions() []transport.SessionInfo {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessions, err := c.Sessions(ctx)
	Expect(err).To(Succeed())
	return sessions
}

// consoleClient is a raw console connection.
type consoleClient struct {
	net.Conn
	r *bufio.Reader
}

func dial(addr string) *consoleClient {
	conn, err := net.Dial("tcp", addr)
	Expect(err).To(Succeed())

	c := &consoleClient{Conn: conn, r: bufio.NewReader(conn)}
	Expect(c.line()).To(HavePrefix(protocol.BannerPrefix))
	Expect(c.line()).To(Equal("OK"))
	return c
}

func (c *consoleClient) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// line reads one line without its CRLF.
func (c *consoleClient) line() string {
	Expect(c.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
	line, err := c.r.ReadString('\n')
	Expect(err).To(Succeed())
	return strings.TrimRight(line, "\r\n")
}

func (c *consoleClient) send(line string) {
	_, err := io.WriteString(c, line+"\r\n")
	Expect(err).To(Succeed())
}

// switchTo switches the connection and returns the handshake.
func (c *consoleClient) switchTo(stream string) string {
	c.send("qemu " + stream)

	reply := c.line()
	Expect(reply).To(HavePrefix("OK"))
	Expect(c.line()).To(Equal("OK"))
	return strings.TrimPrefix(strings.TrimPrefix(reply, "OK"), " ")
}

func (c *consoleClient) sendFrame(t protocol.CommandType, params protocol.Marshaler) {
	var payload []byte
	if params != nil {
		var err error
		payload, err = params.Marshal()
		Expect(err).To(Succeed())
	}

	frame, err := protocol.EncodeFrame(t, payload)
	Expect(err).To(Succeed())

	_, err = c.Write(frame)
	Expect(err).To(Succeed())
}

func (c *consoleClient) readFull(n int) []byte {
	Expect(c.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
	b := make([]byte, n)
	_, err := io.ReadFull(c, b)
	Expect(err).To(Succeed())
	return b
}

// expectClosed waits for the core to close the connection.
func (c *consoleClient) expectClosed() {
	Expect(c.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
	_, err := io.ReadAll(c)
	Expect(err).To(Succeed())
}
