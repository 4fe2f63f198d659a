package storage

import (
	"errors"
	"fmt"
	"sync"
)

var ErrOutOfBounds = errors.New("rectangle is outside the surface")

// Rect is a rectangle of framebuffer pixels.
type Rect struct {
	X, Y, W, H int
}

func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Surface is an in-memory framebuffer. Listeners are told about every
// rectangle that changes.
type Surface struct {
	mu     sync.RWMutex
	width  int
	height int
	bpp    int
	pixels []byte

	listenersMu sync.Mutex
	listeners   []*surfaceListener
	closed      bool
}

type surfaceListener struct {
	ch chan Rect

	// missed is set when an update could not be delivered. The next delivery
	// is then widened to the whole surface.
	missed bool
}

func NewSurface(width, height, bytesPerPixel int) *Surface {
	return &Surface{
		width:  width,
		height: height,
		bpp:    bytesPerPixel,
		pixels: make([]byte, width*height*bytesPerPixel),
	}
}

func (s *Surface) Width() int         { return s.width }
func (s *Surface) Height() int        { return s.height }
func (s *Surface) BytesPerPixel() int { return s.bpp }

// Bounds is the rectangle covering the whole surface.
func (s *Surface) Bounds() Rect {
	return Rect{W: s.width, H: s.height}
}

// Fill paints rect with a single pixel value.
func (s *Surface) Fill(rect Rect, pixel []byte) error {
	if len(pixel) != s.bpp {
		return fmt.Errorf("pixel is %d bytes, surface uses %d", len(pixel), s.bpp)
	}
	if err := s.check(rect); err != nil {
		return err
	}

	s.mu.Lock()
	for y := rect.Y; y < rect.Y+rect.H; y++ {
		row := s.offset(rect.X, y)
		for x := 0; x < rect.W; x++ {
			copy(s.pixels[row+x*s.bpp:], pixel)
		}
	}
	s.mu.Unlock()

	s.notify(rect)
	return nil
}

// Apply copies tightly packed pixels into rect.
func (s *Surface) Apply(rect Rect, pixels []byte) error {
	if err := s.check(rect); err != nil {
		return err
	}
	if want := rect.W * rect.H * s.bpp; len(pixels) != want {
		return fmt.Errorf("got %d bytes of pixels for a rectangle needing %d", len(pixels), want)
	}

	s.mu.Lock()
	stride := rect.W * s.bpp
	for y := 0; y < rect.H; y++ {
		copy(s.pixels[s.offset(rect.X, rect.Y+y):], pixels[y*stride:(y+1)*stride])
	}
	s.mu.Unlock()

	s.notify(rect)
	return nil
}

// Snapshot returns a tightly packed copy of the pixels in rect.
func (s *Surface) Snapshot(rect Rect) ([]byte, error) {
	if err := s.check(rect); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stride := rect.W * s.bpp
	out := make([]byte, rect.H*stride)
	for y := 0; y < rect.H; y++ {
		start := s.offset(rect.X, rect.Y+y)
		copy(out[y*stride:], s.pixels[start:start+stride])
	}
	return out, nil
}

// ListenToUpdates returns a channel of changed rectangles. It is closed by
// Close.
func (s *Surface) ListenToUpdates() <-chan Rect {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	l := &surfaceListener{ch: make(chan Rect, 255)}
	if s.closed {
		close(l.ch)
		return l.ch
	}
	s.listeners = append(s.listeners, l)
	return l.ch
}

func (s *Surface) Close() error {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, l := range s.listeners {
		close(l.ch)
	}
	s.listeners = nil
	return nil
}

// notify never blocks the painter. A listener that falls behind gets a full
// surface rectangle once it has room again.
func (s *Surface) notify(rect Rect) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	for _, l := range s.listeners {
		next := rect
		if l.missed {
			next = s.Bounds()
		}

		select {
		case l.ch <- next:
			l.missed = false
		default:
			l.missed = true
		}
	}
}

func (s *Surface) check(rect Rect) error {
	if rect.Empty() || rect.X < 0 || rect.Y < 0 || rect.X+rect.W > s.width || rect.Y+rect.H > s.height {
		return fmt.Errorf("%w: %+v on %dx%d", ErrOutOfBounds, rect, s.width, s.height)
	}
	return nil
}

func (s *Surface) offset(x, y int) int {
	return (y*s.width + x) * s.bpp
}
