// Package capture implements the frame capturer (C1): a keep-latest
// single-slot register fed by a frame Source, plus the production
// Source backed by go-astiav screen capture.
package capture

import "sync"

// Slot is a single-frame, overwrite-on-write register. The capture loop
// is the sole producer; the encoder is the sole consumer. A producer
// never blocks waiting for a reader; a reader always observes the most
// recently produced frame, never a stale one (spec §4.1).
type Slot struct {
	mu      sync.Mutex
	frame   Frame
	hasAny  bool
	version uint64
}

// Frame is an opaque capture, generic over the concrete representation
// used by the capture backend (AstiavSource stores a decoded software
// *astiav.Frame; the encoder uploads it to the GPU).
type Frame struct {
	Handle     any
	Sequence   uint64
	TimestampN int64 // monotonic nanoseconds at capture time
}

// NewSlot constructs an empty Slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Put overwrites the slot's current frame. Never blocks.
func (s *Slot) Put(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = f
	s.hasAny = true
	s.version++
}

// Latest returns the most recent frame, its version, and whether one has
// ever been produced, without blocking. The encoder's ticker-paced loop
// calls this every tick; observing the same version twice in a row (a
// stable frame between ticks) is expected and correct, not an error.
func (s *Slot) Latest() (Frame, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.version, s.hasAny
}
