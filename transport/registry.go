package transport

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/emuconsole/protocol"
)

// SessionKey is the switch argument naming the session a stream joins.
const SessionKey = "session"

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrSlotTaken      = errors.New("stream already attached")
)

// endpoint is one switched console socket serving a sub-protocol.
type endpoint interface {
	Stream() string
	Close() error
}

// Session groups the endpoints of one UI. It holds at most one endpoint per
// sub-protocol. Sessions belong to the loop goroutine.
type Session struct {
	id         string
	seq        uint64
	attached   bool
	endpoints  map[string]endpoint
	registry   *Registry
	tornDown   bool
	teardownCb []func(*Session)

	log *zap.Logger
}

func (s *Session) ID() string {
	return s.id
}

// Attached reports whether an attach-UI stream owns the session.
func (s *Session) Attached() bool {
	return s.attached
}

// Streams lists the sub-protocols currently attached, sorted.
func (s *Session) Streams() []string {
	streams := make([]string, 0, len(s.endpoints))
	for stream := range s.endpoints {
		streams = append(streams, stream)
	}
	sort.Strings(streams)
	return streams
}

// UICmd is the core-ui-control endpoint, nil if the UI has not opened one.
func (s *Session) UICmd() *UICmdProxy {
	p, _ := s.endpoints[protocol.StreamCoreUIControl].(*UICmdProxy)
	return p
}

// Framebuffer is the framebuffer endpoint, nil if the UI has not opened one.
func (s *Session) Framebuffer() *FramebufferProxy {
	p, _ := s.endpoints[protocol.StreamFramebuffer].(*FramebufferProxy)
	return p
}

// OnTeardown registers fn to run once the session is torn down.
func (s *Session) OnTeardown(fn func(*Session)) {
	s.teardownCb = append(s.teardownCb, fn)
}

func (s *Session) add(ep endpoint) error {
	if s.tornDown {
		return fmt.Errorf("%w: %s", ErrUnknownSession, s.id)
	}

	stream := ep.Stream()
	if _, ok := s.endpoints[stream]; ok {
		return fmt.Errorf("%w: '%s' in session %s", ErrSlotTaken, stream, s.id)
	}

	s.endpoints[stream] = ep
	return nil
}

func (s *Session) has(stream string) bool {
	_, ok := s.endpoints[stream]
	return ok
}

// lost handles the reset of one endpoint. Losing attach-UI takes the whole
// session down, losing anything else only that endpoint.
func (s *Session) lost(ep endpoint, err error) {
	if s.tornDown {
		return
	}

	if ep.Stream() == protocol.StreamAttachUI {
		s.log.Info("UI detached, tearing down session", zap.Error(err))
		if terr := s.Teardown(); terr != nil {
			s.log.Warn("Session did not tear down cleanly", zap.Error(terr))
		}
		return
	}

	s.log.Info("Stream disconnected", zap.String("stream", ep.Stream()), zap.Error(err))
	if current, ok := s.endpoints[ep.Stream()]; ok && current == ep {
		delete(s.endpoints, ep.Stream())
	}
	if cerr := ep.Close(); cerr != nil {
		s.log.Warn("Stream did not close cleanly", zap.String("stream", ep.Stream()), zap.Error(cerr))
	}

	if !s.attached && len(s.endpoints) == 0 {
		if terr := s.Teardown(); terr != nil {
			s.log.Warn("Session did not tear down cleanly", zap.Error(terr))
		}
	}
}

// Teardown closes every endpoint and forgets the session. Only the first call
// does anything.
func (s *Session) Teardown() (err error) {
	if s.tornDown {
		return nil
	}
	s.tornDown = true

	for _, stream := range s.Streams() {
		err = multierr.Append(err, s.endpoints[stream].Close())
		delete(s.endpoints, stream)
	}

	s.registry.remove(s)

	for _, fn := range s.teardownCb {
		fn(s)
	}

	return err
}

// Registry tracks the sessions of every UI talking to the core. It belongs to
// the loop goroutine.
type Registry struct {
	sessions map[string]*Session

	// attached is in attach order, the latest last.
	attached []*Session
	seq      uint64

	log *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log,
	}
}

func (r *Registry) newSession(attached bool) *Session {
	id := uuid.New().String()
	r.seq++

	s := &Session{
		id:        id,
		seq:       r.seq,
		attached:  attached,
		endpoints: make(map[string]endpoint),
		registry:  r,
		log:       r.log.With(zap.String("session", id)),
	}

	r.sessions[id] = s
	if attached {
		r.attached = append(r.attached, s)
	}

	r.log.Info("Session created", zap.String("session", id), zap.Bool("attached", attached))
	return s
}

// Attach starts the session of a newly attached UI.
func (r *Registry) Attach() *Session {
	return r.newSession(true)
}

func (r *Registry) Lookup(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// Latest is the most recently attached session still alive, or nil.
func (r *Registry) Latest() *Session {
	if len(r.attached) == 0 {
		return nil
	}
	return r.attached[len(r.attached)-1]
}

// Resolve finds the session a stream switch with args binds to: the one named
// by a session=<id> argument, else the latest attached one, else a new
// standalone session.
func (r *Registry) Resolve(args []string) (*Session, error) {
	for _, arg := range args {
		id, ok := protocol.HandshakeValue(arg, SessionKey)
		if !ok {
			continue
		}

		s, ok := r.sessions[id]
		if !ok {
			return nil, fmt.Errorf("%w '%s'", ErrUnknownSession, id)
		}
		return s, nil
	}

	if s := r.Latest(); s != nil {
		return s, nil
	}

	return r.newSession(false), nil
}

// Sessions returns every live session, oldest first.
func (r *Registry) Sessions() []*Session {
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].seq < sessions[j].seq
	})
	return sessions
}

func (r *Registry) remove(s *Session) {
	if _, ok := r.sessions[s.id]; !ok {
		return
	}
	delete(r.sessions, s.id)

	for i, a := range r.attached {
		if a == s {
			r.attached = append(r.attached[:i], r.attached[i+1:]...)
			break
		}
	}

	r.log.Info("Session removed", zap.String("session", s.id))
}

// Close tears down every session.
func (r *Registry) Close() (err error) {
	for _, s := range r.Sessions() {
		err = multierr.Append(err, s.Teardown())
	}
	return err
}
