// Package governor bounds the control plane's resource usage: concurrent
// dispatch slots per session, retry pacing with jittered backoff, and a
// bounded lookup cache.
package governor

import "sync"

// Slots tracks in-flight dispatch capacity. A capacity of 0 means unlimited.
type Slots struct {
	mu       sync.Mutex
	capacity int
	inUse    int
}

// NewSlots creates a slot tracker with the given capacity.
func NewSlots(capacity int) *Slots {
	return &Slots{capacity: capacity}
}

// TryAcquire claims one slot if capacity allows. Non-blocking.
func (s *Slots) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity > 0 && s.inUse >= s.capacity {
		return false
	}
	s.inUse++
	return true
}

// Release returns one slot. Releasing below zero is a caller bug and is
// clamped rather than propagated.
func (s *Slots) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inUse > 0 {
		s.inUse--
	}
}

// InUse returns the number of claimed slots.
func (s *Slots) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// Available returns how many more slots can be claimed, or -1 when unlimited.
func (s *Slots) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity <= 0 {
		return -1
	}
	return s.capacity - s.inUse
}
