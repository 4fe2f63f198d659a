package transport

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/luma/emuconsole/async"
	"github.com/luma/emuconsole/protocol"
	"github.com/luma/emuconsole/syncsock"
)

const (
	// consoleLineSize bounds a console command line.
	consoleLineSize = 4096

	// consolePoll is how often an idle console checks for shutdown.
	consolePoll = 250 * time.Millisecond
)

const helpText = "Android console command help:\r\n" +
	"\r\n" +
	"    help|h|?         print a list of commands\r\n" +
	"    ping             check if the emulator is alive\r\n" +
	"    qemu <stream>    switch to a binary stream\r\n" +
	"    quit|exit        quit control session\r\n" +
	"\r\n"

const unknownCommand = "KO: unknown command, try 'help'\r\n"

// console runs the text console of one connection until it quits, fails, or
// switches to a stream.
type console struct {
	ctx    context.Context
	server *Server
	sock   *syncsock.SyncSocket
	buf    [consoleLineSize]byte

	log *zap.Logger
}

func newConsole(ctx context.Context, server *Server, sock *syncsock.SyncSocket, log *zap.Logger) *console {
	return &console{
		ctx:    ctx,
		server: server,
		sock:   sock,
		log:    log,
	}
}

func (c *console) Run() {
	handedOff := false
	defer func() {
		if !handedOff {
			if err := c.sock.Close(); err != nil {
				c.log.Warn("Failed to close console socket", zap.Error(err))
			}
		}
	}()

	if err := c.send(protocol.Banner + string(protocol.OkTerminal)); err != nil {
		c.log.Warn("Failed to send banner", zap.Error(err))
		return
	}

	for {
		line, err := c.readLine()
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, async.ErrConnectionReset) {
				c.log.Warn("Console read failed", zap.Error(err))
			}
			return
		}

		done, err := c.handle(string(protocol.RemoveTrailingCRLF(line)))
		if err != nil {
			c.log.Warn("Console write failed", zap.Error(err))
			return
		}

		switch done {
		case consoleQuit:
			return
		case consoleSwitched:
			handedOff = true
			return
		}
	}
}

type consoleOutcome int

const (
	consoleContinue consoleOutcome = iota
	consoleQuit
	consoleSwitched
)

func (c *console) handle(line string) (consoleOutcome, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return consoleContinue, nil
	}

	switch fields[0] {
	case "help", "h", "?":
		return consoleContinue, c.send(helpText + string(protocol.OkTerminal))

	case "ping":
		return consoleContinue, c.send("I am alive!\r\n" + string(protocol.OkTerminal))

	case "quit", "exit":
		return consoleQuit, c.send(string(protocol.OkTerminal))

	case protocol.SwitchVerb:
		stream, args, ok := protocol.ParseSwitch(line)
		if !ok {
			return consoleContinue, c.send(string(protocol.KoReply("missing stream name")))
		}
		return c.switchStream(stream, args)
	}

	return consoleContinue, c.send(unknownCommand)
}

func (c *console) switchStream(stream string, args []string) (consoleOutcome, error) {
	var (
		consumed bool
		ko       string
	)

	// Not bounded by c.ctx: once posted, bind may take the socket.
	if err := c.server.looper.Call(context.Background(), func() {
		consumed, ko = c.server.bind(stream, args, c.sock, c.log)
	}); err != nil {
		return consoleQuit, nil
	}

	if consumed {
		return consoleSwitched, nil
	}

	c.log.Info("Refused stream switch", zap.String("stream", stream), zap.String("reason", ko))
	return consoleContinue, c.send(string(protocol.KoReply(ko)))
}

// readLine reads one line, waking up now and then to notice shutdown.
func (c *console) readLine() ([]byte, error) {
	var n int
	for {
		read, err := c.sock.ReadLine(c.buf[n:], consolePoll)
		n += read
		if err == nil {
			return c.buf[:n], nil
		}

		if !errors.Is(err, async.ErrTimeout) || c.ctx.Err() != nil {
			return nil, err
		}
	}
}

func (c *console) send(s string) error {
	b := []byte(s)
	_, err := c.sock.Write(b, protocol.TransferTimeout(len(b)))
	return err
}
