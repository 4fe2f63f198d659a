package client

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/emuconsole/looper"
	"github.com/luma/emuconsole/protocol"
)

// SessionKey is the handshake and switch argument naming the UI session a
// stream belongs to.
const SessionKey = "session"

func withSession(stream, session string) string {
	if session == "" {
		return stream
	}
	return stream + " " + SessionKey + "=" + session
}

type Options struct {
	// Addr of the core console.
	Addr string

	// Looper runs every reader of the session.
	Looper *looper.Looper

	// Handler receives the core-ui-control commands.
	Handler UICmdHandler

	// Renderer receives framebuffer updates.
	Renderer Renderer

	// FramebufferProtocol defaults to "-raw".
	FramebufferProtocol string

	// OnDisconnect is called once if the core goes away.
	OnDisconnect func(error)

	Log *zap.Logger
}

// Session is a UI attached to one core: the attach-UI stream plus the four
// framed streams. If any of them loses the core, all of them are closed.
type Session struct {
	AttachUI     *AttachUI
	CoreCmd      *CoreCmdProxy
	UserEvents   *UserEventsProxy
	Framebuffer  *FramebufferImpl
	UICmd        *UICmdImpl
	onDisconnect func(error)

	looper *looper.Looper
	closed bool
	log    *zap.Logger
}

// Connect attaches a UI to the core at opts.Addr. It must be called on the
// loop goroutine, and so must Close.
func Connect(opts Options) (s *Session, err error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	proto := opts.FramebufferProtocol
	if proto == "" {
		proto = protocol.FramebufferRaw
	}

	s = &Session{
		onDisconnect: opts.OnDisconnect,
		looper:       opts.Looper,
		log:          opts.Log,
	}

	defer func() {
		if err != nil {
			err = multierr.Append(err, s.Close())
			s = nil
		}
	}()

	if s.AttachUI, err = NewAttachUI(opts.Looper, opts.Addr, opts.Log.Named("attach-ui")); err != nil {
		return s, err
	}
	s.AttachUI.onLost = s.lost

	id := s.AttachUI.Session()
	s.log = s.log.With(zap.String("session", id))

	if s.CoreCmd, err = NewCoreCmdProxy(opts.Addr, id, opts.Log.Named("core-cmd")); err != nil {
		return s, err
	}
	s.CoreCmd.onLost = s.lost

	if s.UserEvents, err = NewUserEventsProxy(opts.Addr, id, opts.Log.Named("user-events")); err != nil {
		return s, err
	}
	s.UserEvents.onLost = s.lost

	if s.Framebuffer, err = NewFramebufferImpl(opts.Looper, opts.Addr, id, proto, opts.Renderer, opts.Log.Named("framebuffer")); err != nil {
		return s, err
	}
	s.Framebuffer.onLost = s.lost

	if s.UICmd, err = NewUICmdImpl(opts.Looper, opts.Addr, id, opts.Handler, opts.Log.Named("ui-cmd")); err != nil {
		return s, err
	}
	s.UICmd.onLost = s.lost

	return s, nil
}

// ID is the session identifier assigned by the core.
func (s *Session) ID() string {
	if s.AttachUI == nil {
		return ""
	}
	return s.AttachUI.Session()
}

// lost may be reported from a proxy call on any goroutine, so the teardown
// itself always happens on the loop.
func (s *Session) lost(err error) {
	s.looper.Post(func() {
		if s.closed {
			return
		}

		s.log.Warn("Lost connection to the core, closing session", zap.Error(err))
		if cerr := s.Close(); cerr != nil {
			s.log.Warn("Session did not close cleanly", zap.Error(cerr))
		}

		if s.onDisconnect != nil {
			s.onDisconnect(err)
		}
	})
}

// Close closes every stream of the session. Calling it again is a no-op.
func (s *Session) Close() (err error) {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.UICmd != nil {
		err = multierr.Append(err, s.UICmd.Close())
	}
	if s.Framebuffer != nil {
		err = multierr.Append(err, s.Framebuffer.Close())
	}
	if s.UserEvents != nil {
		err = multierr.Append(err, s.UserEvents.Close())
	}
	if s.CoreCmd != nil {
		err = multierr.Append(err, s.CoreCmd.Close())
	}
	if s.AttachUI != nil {
		err = multierr.Append(err, s.AttachUI.Close())
	}

	return err
}
