package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luma/emuconsole/looper"
	"github.com/luma/emuconsole/protocol"
	"github.com/luma/emuconsole/storage"
	"github.com/luma/emuconsole/syncsock"
)

var (
	ErrNoSuchSession = errors.New("no such session")
	ErrNotAttached   = errors.New("stream is not attached")
)

// SessionInfo describes one UI session.
type SessionInfo struct {
	ID       string   `json:"id"`
	Attached bool     `json:"attached"`
	Streams  []string `json:"streams"`
}

// Server is the core console. It accepts console connections, runs the text
// console on each, and hands switched sockets to endpoints on the looper.
type Server struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	numListeners int
	listeners    []*TCPListener

	looper   *looper.Looper
	registry *Registry

	commands CoreCmdHandler
	events   UserEventsHandler
	control  *Control
	store    storage.Store
	surface  *storage.Surface

	closeOnce sync.Once

	log   *zap.Logger
	trace bool
}

func NewServer(options Options) (*Server, error) {
	if options.Looper == nil {
		return nil, errors.New("transport: a looper is required")
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	if s := options.Surface; s != nil && (s.Width() > 0xffff || s.Height() > 0xffff) {
		return nil, fmt.Errorf("transport: surface of %dx%d is too large", s.Width(), s.Height())
	}

	numListeners := options.NumListeners
	if numListeners < 1 {
		numListeners = 1
	}

	control := options.Control
	if control == nil {
		hardware, _ := options.Store.(storage.HardwareConfig)
		control = NewControl(ControlOptions{Hardware: hardware, Log: log.Named("control")})
	}

	commands := options.Commands
	if commands == nil {
		commands = control
	}

	events := options.Events
	if events == nil {
		events = control
	}

	return &Server{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		looper:       options.Looper,
		registry:     NewRegistry(log.Named("registry")),
		commands:     commands,
		events:       events,
		control:      control,
		store:        options.Store,
		surface:      options.Surface,
		trace:        options.Trace,
		log:          log,
	}, nil
}

// Start binds every listener before returning, then accepts in the
// background until ctx is done or Close is called.
func (s *Server) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancel = cancel

	s.log.Info("Starting console listeners", zap.Int("count", s.numListeners))

	for i := 0; i < s.numListeners; i++ {
		listener, err := listen(ctx, s, s.addr, s.log.Named("listener").With(zap.Int("listener", i)))
		if err != nil {
			cancel()
			for _, l := range s.listeners {
				err = multierr.Append(err, l.Close())
			}
			return err
		}

		// Port 0 picks a port once, the other listeners share it.
		s.addr = listener.Addr()
		s.listeners = append(s.listeners, listener)
	}

	for _, listener := range s.listeners {
		s.stopWaiter.Add(1)
		go func(listener *TCPListener) {
			defer s.stopWaiter.Done()

			if err := listener.Serve(); err != nil {
				s.log.Error("Listener failed", zap.Error(err))
			}
		}(listener)
	}

	if s.surface != nil {
		updates := s.surface.ListenToUpdates()

		s.stopWaiter.Add(1)
		go func() {
			defer s.stopWaiter.Done()
			s.forwardSurfaceUpdates(ctx, updates)
		}()
	}

	if s.store != nil {
		updates := s.store.ListenToUpdates()

		s.stopWaiter.Add(1)
		go func() {
			defer s.stopWaiter.Done()
			s.logStoreUpdates(ctx, updates)
		}()
	}

	return nil
}

// Addr is the address the listeners are bound to.
func (s *Server) Addr() string {
	return s.addr
}

// Control is the default command and event target.
func (s *Server) Control() *Control {
	return s.control
}

func (s *Server) forwardSurfaceUpdates(ctx context.Context, updates <-chan storage.Rect) {
	for {
		select {
		case <-ctx.Done():
			return

		case rect, ok := <-updates:
			if !ok {
				return
			}

			s.looper.Post(func() {
				for _, session := range s.registry.Sessions() {
					if fb := session.Framebuffer(); fb != nil {
						if err := fb.Push(rect); err != nil {
							s.log.Warn("Failed to push framebuffer update",
								zap.String("session", session.ID()),
								zap.Error(err))
						}
					}
				}
			})
		}
	}
}

func (s *Server) logStoreUpdates(ctx context.Context, updates <-chan *storage.Update) {
	for {
		select {
		case <-ctx.Done():
			return

		case update, ok := <-updates:
			if !ok {
				return
			}

			s.log.Info("Hardware config updated",
				zap.ByteString("key", update.Key),
				zap.ByteString("value", update.Value))
		}
	}
}

// bind switches sock to stream for the session args point at. It runs on the
// loop goroutine. When consumed is true sock now belongs to an endpoint (or
// was closed), otherwise ko says why the switch was refused.
func (s *Server) bind(stream string, args []string, sock *syncsock.SyncSocket, log *zap.Logger) (consumed bool, ko string) {
	var handshake string

	switch stream {
	case protocol.StreamAttachUI, protocol.StreamUICoreControl, protocol.StreamCoreUIControl, protocol.StreamUserEvents:

	case protocol.StreamFramebuffer:
		if s.surface == nil {
			return false, "framebuffer is not available"
		}

		var proto string
		if len(args) > 0 {
			proto = args[0]
		}
		if proto != protocol.FramebufferRaw {
			return false, fmt.Sprintf("unsupported framebuffer protocol '%s'", proto)
		}
		handshake = framebufferHandshake(s.surface)

	default:
		return false, fmt.Sprintf("unknown stream '%s'", stream)
	}

	var (
		session *Session
		err     error
	)

	if stream == protocol.StreamAttachUI {
		session = s.registry.Attach()
		handshake = SessionKey + "=" + session.ID()
	} else if session, err = s.registry.Resolve(args); err != nil {
		return false, err.Error()
	}

	// A session made for this switch alone is dropped again if the switch
	// does not go through.
	discard := func() {
		if len(session.endpoints) == 0 && (stream == protocol.StreamAttachUI || !session.Attached()) {
			if err := session.Teardown(); err != nil {
				log.Warn("Session did not tear down cleanly", zap.String("session", session.ID()), zap.Error(err))
			}
		}
	}

	if session.has(stream) {
		discard()
		return false, fmt.Sprintf("stream '%s' already attached to session %s", stream, session.ID())
	}

	reply := append(protocol.OkReply(handshake), protocol.OkTerminal...)
	if _, err := sock.Write(reply, protocol.TransferTimeout(len(reply))); err != nil {
		log.Warn("Failed to confirm stream switch", zap.String("stream", stream), zap.Error(err))
		discard()
		if cerr := sock.Close(); cerr != nil {
			log.Warn("Failed to close console socket", zap.Error(cerr))
		}
		return true, ""
	}

	sw := switched{
		looper:  s.looper,
		sock:    sock,
		session: session,
		trace:   s.trace,
		log:     session.log,
	}

	var ep endpoint
	switch stream {
	case protocol.StreamAttachUI:
		ep = newAttachUIImpl(sw)
	case protocol.StreamUICoreControl:
		ep = newCoreCmdImpl(sw, s.commands)
	case protocol.StreamCoreUIControl:
		ep = newUICmdProxy(sw)
	case protocol.StreamUserEvents:
		ep = newUserEventsImpl(sw, s.events)
	case protocol.StreamFramebuffer:
		ep = newFramebufferProxy(sw, s.surface)
	}

	if err := session.add(ep); err != nil {
		log.Warn("Failed to add stream to session", zap.Error(err))
		if cerr := ep.Close(); cerr != nil {
			log.Warn("Stream did not close cleanly", zap.String("stream", stream), zap.Error(cerr))
		}
		return true, ""
	}

	log.Info("Stream attached",
		zap.String("stream", stream),
		zap.String("session", session.ID()))
	return true, ""
}

// call runs fn on the loop. Once the loop has stopped nothing else touches
// loop state, so fn runs on the caller instead.
func (s *Server) call(ctx context.Context, fn func()) error {
	err := s.looper.Call(ctx, fn)
	if errors.Is(err, looper.ErrLooperStopped) {
		fn()
		return nil
	}
	return err
}

// Sessions describes every live session, oldest first.
func (s *Server) Sessions(ctx context.Context) ([]SessionInfo, error) {
	infos := []SessionInfo{}

	err := s.looper.Call(ctx, func() {
		for _, session := range s.registry.Sessions() {
			infos = append(infos, SessionInfo{
				ID:       session.ID(),
				Attached: session.Attached(),
				Streams:  session.Streams(),
			})
		}
	})

	return infos, err
}

// SetWindowScale sends SetWindowScale to the UI of session id.
func (s *Server) SetWindowScale(ctx context.Context, id string, scale float64, isDPI bool) error {
	return s.withUICmd(ctx, id, func(p *UICmdProxy) error {
		return p.SetWindowScale(scale, isDPI)
	})
}

// ChangeDisplayBrightness sends ChangeDisplayBrightness to the UI of session
// id.
func (s *Server) ChangeDisplayBrightness(ctx context.Context, id string, light string, brightness int) error {
	return s.withUICmd(ctx, id, func(p *UICmdProxy) error {
		return p.ChangeDisplayBrightness(light, brightness)
	})
}

// WatchTeardown calls fn on the loop goroutine once session id is torn down.
func (s *Server) WatchTeardown(ctx context.Context, id string, fn func(*Session)) error {
	var err error

	if cerr := s.looper.Call(ctx, func() {
		session, ok := s.registry.Lookup(id)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrNoSuchSession, id)
			return
		}
		session.OnTeardown(fn)
	}); cerr != nil {
		return cerr
	}

	return err
}

func (s *Server) withUICmd(ctx context.Context, id string, fn func(*UICmdProxy) error) error {
	var err error

	if cerr := s.looper.Call(ctx, func() {
		session, ok := s.registry.Lookup(id)
		if !ok {
			err = fmt.Errorf("%w: %s", ErrNoSuchSession, id)
			return
		}

		proxy := session.UICmd()
		if proxy == nil {
			err = fmt.Errorf("%w: %s in session %s", ErrNotAttached, protocol.StreamCoreUIControl, id)
			return
		}

		err = fn(proxy)
	}); cerr != nil {
		return cerr
	}

	return err
}

// Close stops accepting, closes every console connection and tears down
// every session.
func (s *Server) Close() (err error) {
	s.closeOnce.Do(func() {
		s.log.Info("Stopping console server")
		if s.cancel != nil {
			s.cancel()
		}

		for _, listener := range s.listeners {
			err = multierr.Append(err, listener.Close())
		}

		s.stopWaiter.Wait()

		var teardownErr error
		cerr := s.call(context.Background(), func() {
			teardownErr = s.registry.Close()
		})
		err = multierr.Combine(err, cerr, teardownErr)

		s.log.Info("Console server stopped")
	})

	return err
}

// TCPListener accepts console connections on one SO_REUSEPORT socket.
type TCPListener struct {
	ctx    context.Context
	server *Server

	listener   net.Listener
	connWaiter sync.WaitGroup

	log *zap.Logger
}

func listen(ctx context.Context, server *Server, addr string, log *zap.Logger) (*TCPListener, error) {
	listener, err := reuseport.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &TCPListener{
		ctx:      ctx,
		server:   server,
		listener: listener,
		log:      log,
	}, nil
}

func (t *TCPListener) Addr() string {
	return t.listener.Addr().String()
}

func (t *TCPListener) Close() error {
	err := t.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Serve accepts until the listener is closed, then waits for the consoles
// it started.
func (t *TCPListener) Serve() error {
	defer t.connWaiter.Wait()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
				t.log.Info("Stopped accepting new connections")
				return nil
			}
			return err
		}

		log := t.log.Named("console").With(zap.String("remote", conn.RemoteAddr().String()))

		sock, err := adopt(conn, log)
		if err != nil {
			t.log.Warn("Failed to take over console connection", zap.Error(err))
			continue
		}

		console := newConsole(t.ctx, t.server, sock, log)

		t.connWaiter.Add(1)
		go func() {
			defer t.connWaiter.Done()
			console.Run()
		}()
	}
}

// adopt moves an accepted connection off the runtime poller onto a
// SyncSocket of its own.
func adopt(conn net.Conn, log *zap.Logger) (*syncsock.SyncSocket, error) {
	defer conn.Close()

	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("%T has no file descriptor", conn)
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}

	var (
		fd     = -1
		dupErr error
	)
	if err := raw.Control(func(s uintptr) {
		fd, dupErr = unix.Dup(int(s))
	}); err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, fmt.Errorf("duplicating console socket: %w", dupErr)
	}
	unix.CloseOnExec(fd)

	sock, err := syncsock.New(fd, log)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return sock, nil
}
