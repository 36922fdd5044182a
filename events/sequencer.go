/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package events

import "sync"

// Sequencer delivers versioned events to a Channel strictly in version order,
// one at a time. Versions start at 1 and every version must be published
// exactly once; an event waits until all lower versions have been delivered.
//
// No lock is held while handlers run. When another goroutine is already
// delivering, Publish queues the event and returns; that goroutine delivers it
// before it stops. A handler may therefore publish again, directly or through
// an operation on the same entity type, without deadlocking.
type Sequencer struct {
	ch       *Channel
	mu       sync.Mutex
	next     uint64
	pending  map[uint64]Event
	draining bool
}

// NewSequencer creates a sequencer delivering to ch.
func NewSequencer(ch *Channel) *Sequencer {
	return &Sequencer{
		ch:      ch,
		next:    1,
		pending: make(map[uint64]Event),
	}
}

// Publish stamps ev with version and delivers it, together with any queued
// successors, once every lower version has been delivered. Versions already
// delivered or queued are dropped.
func (s *Sequencer) Publish(version uint64, ev Event) {
	ev.Version = version

	s.mu.Lock()
	if _, dup := s.pending[version]; dup || version < s.next {
		s.mu.Unlock()
		s.ch.logger.Warn("event version published twice",
			"entity_type", s.ch.entityType,
			"event", string(ev.Name),
			"version", version,
		)
		return
	}
	s.pending[version] = ev
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for {
		next, ok := s.pending[s.next]
		if !ok {
			s.draining = false
			s.mu.Unlock()
			return
		}
		delete(s.pending, s.next)
		s.next++
		s.mu.Unlock()

		s.ch.Emit(next)

		s.mu.Lock()
	}
}

// Delivered returns the highest version handed to the channel so far.
func (s *Sequencer) Delivered() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next - 1
}
