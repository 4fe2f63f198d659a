package looper

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrLooperStopped = errors.New("looper is not running")
)

// Handler is invoked on the loop goroutine with the readiness bits (EventRead,
// EventWrite) that fired for an IO.
type Handler func(ready uint32)

// Looper is a single goroutine event loop. Every IO registered with it, and
// every function passed to Post, runs on the loop goroutine, so state owned
// by handlers needs no locking.
type Looper struct {
	poller *Poller
	ios    map[int]*IO

	mu     sync.Mutex
	posted []func()

	stopped   chan struct{}
	closeOnce sync.Once

	log *zap.Logger
}

func New(log *zap.Logger) (*Looper, error) {
	poller, err := MakePoller()
	if err != nil {
		return nil, err
	}

	return &Looper{
		poller:  poller,
		ios:     make(map[int]*IO),
		stopped: make(chan struct{}),
		log:     log,
	}, nil
}

// NewIO binds fd to handler. No readiness is armed until WantRead or
// WantWrite is called. Must be called on the loop goroutine, or before Run.
func (l *Looper) NewIO(fd int, handler Handler) *IO {
	io := &IO{looper: l, fd: fd, handler: handler}
	l.ios[fd] = io
	return io
}

// Run dispatches readiness and posted functions until ctx is cancelled or the
// poller fails.
func (l *Looper) Run(ctx context.Context) error {
	defer l.closeStopped()

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			if err := l.poller.Wake(); err != nil {
				l.log.Warn("Failed to wake looper on cancel", zap.Error(err))
			}
		case <-stop:
		}
	}()

	events := make([]Event, 64)

	for {
		if ctx.Err() != nil {
			l.log.Debug("Context cancelled, looper exiting")
			return nil
		}

		n, woken, err := l.poller.Wait(events, -1)
		if err != nil {
			return err
		}

		if woken {
			l.runPosted()
		}

		for _, event := range events[:n] {
			// Look the IO up at dispatch time, an earlier handler in this batch
			// may have released it.
			io, ok := l.ios[event.Fd]
			if !ok {
				continue
			}

			if ready := event.Ready & io.wanted; ready != 0 {
				io.handler(ready)
			}
		}
	}
}

// Post schedules fn to run on the loop goroutine. It is safe to call from any
// goroutine. Functions posted after Run returns are dropped.
func (l *Looper) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()

	if err := l.poller.Wake(); err != nil {
		l.log.Warn("Failed to wake looper", zap.Error(err))
	}
}

// Call runs fn on the loop goroutine and waits for it to return.
func (l *Looper) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})

	l.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		// fn may still have run if it was dispatched just before Run exited.
		select {
		case <-done:
			return nil
		default:
			return ErrLooperStopped
		}
	}
}

// Stopped is closed once Run has returned.
func (l *Looper) Stopped() <-chan struct{} {
	return l.stopped
}

func (l *Looper) Close() error {
	l.closeStopped()
	return l.poller.Close()
}

func (l *Looper) closeStopped() {
	l.closeOnce.Do(func() { close(l.stopped) })
}

func (l *Looper) runPosted() {
	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	l.mu.Unlock()

	for _, fn := range posted {
		fn()
	}
}

// IO is the interest handle for one descriptor registered with a Looper. Its
// methods must be called on the loop goroutine.
type IO struct {
	looper  *Looper
	fd      int
	handler Handler
	wanted  uint32
	done    bool
}

func (io *IO) Fd() int {
	return io.fd
}

func (io *IO) WantRead() {
	io.set(io.wanted | EventRead)
}

func (io *IO) DontWantRead() {
	io.set(io.wanted &^ EventRead)
}

func (io *IO) WantWrite() {
	io.set(io.wanted | EventWrite)
}

func (io *IO) DontWantWrite() {
	io.set(io.wanted &^ EventWrite)
}

// Done disarms all interest and unregisters the IO. The descriptor itself is
// left open. Calling Done more than once is a no-op.
func (io *IO) Done() {
	if io.done {
		return
	}

	io.set(0)
	io.done = true

	if current, ok := io.looper.ios[io.fd]; ok && current == io {
		delete(io.looper.ios, io.fd)
	}
}

func (io *IO) set(wanted uint32) {
	if io.done || wanted == io.wanted {
		return
	}

	if err := io.looper.poller.Set(io.fd, wanted); err != nil {
		io.looper.log.Warn("Failed to update io interest",
			zap.Int("fd", io.fd),
			zap.Uint32("events", wanted),
			zap.Error(err))
		return
	}

	io.wanted = wanted
}
