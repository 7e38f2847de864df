// Package conflate implements the single-slot "latest frame wins" buffer
// between the capture flow and the send flow.
package conflate

import (
	"sync/atomic"

	"mirrorcast/internal/types"
)

// Slot holds at most one pending frame. Publish never blocks and never
// queues: a frame that has not been taken yet is replaced.
type Slot struct {
	pending   atomic.Pointer[types.Frame]
	ready     chan struct{}
	conflated atomic.Uint64
}

func New() *Slot {
	return &Slot{ready: make(chan struct{}, 1)}
}

// Publish stores f as the pending frame. It reports whether an unconsumed
// frame was overwritten.
func (s *Slot) Publish(f *types.Frame) bool {
	old := s.pending.Swap(f)
	select {
	case s.ready <- struct{}{}:
	default:
	}
	if old != nil {
		s.conflated.Add(1)
		return true
	}
	return false
}

// TakeLatest atomically removes and returns the pending frame, or nil when
// the slot is empty.
func (s *Slot) TakeLatest() *types.Frame {
	return s.pending.Swap(nil)
}

// Ready is signalled after Publish. A signal may be stale: TakeLatest can
// still return nil if the frame was already taken.
func (s *Slot) Ready() <-chan struct{} {
	return s.ready
}

// Conflated returns how many frames were overwritten unseen.
func (s *Slot) Conflated() uint64 {
	return s.conflated.Load()
}
