/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package events

import (
	"sync"

	"github.com/suparena/entitystate/logging"
)

// Handler receives emitted events.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Channel is the pub/sub channel of one entity type. One Emit runs the
// handlers of the event name synchronously in subscription order. A panicking
// handler is logged and skipped; the remaining handlers still run.
//
// Emit calls from different goroutines are not serialized, so handlers may
// run concurrently. Publish through a Sequencer to deliver one event at a
// time in version order.
type Channel struct {
	mu         sync.RWMutex
	entityType string
	nextID     uint64
	subs       map[Name][]subscription
	logger     logging.Logger
}

// NewChannel creates a channel for entityType. A nil logger discards logs.
func NewChannel(entityType string, logger logging.Logger) *Channel {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Channel{
		entityType: entityType,
		subs:       make(map[Name][]subscription),
		logger:     logger,
	}
}

// EntityType returns the entity type key the channel belongs to.
func (c *Channel) EntityType() string {
	return c.entityType
}

// Subscribe registers handler for name and returns a function that removes
// it again. Calling the returned function more than once is harmless.
func (c *Channel) Subscribe(name Name, handler Handler) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[name] = append(c.subs[name], subscription{id: id, handler: handler})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.remove(name, id) })
	}
}

func (c *Channel) remove(name Name, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.subs[name]
	for i, s := range subs {
		if s.id == id {
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			c.subs[name] = next
			return
		}
	}
}

// Emit delivers ev to the handlers subscribed to ev.Name at the time of the
// call and returns how many of them panicked.
func (c *Channel) Emit(ev Event) (failed int) {
	if ev.EntityType == "" {
		ev.EntityType = c.entityType
	}

	c.mu.RLock()
	subs := c.subs[ev.Name]
	c.mu.RUnlock()

	for _, s := range subs {
		if !c.deliver(s, ev.clone()) {
			failed++
		}
	}
	return failed
}

func (c *Channel) deliver(s subscription, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event subscriber failed",
				"entity_type", c.entityType,
				"event", string(ev.Name),
				"event_id", ev.ID,
				"subscription", s.id,
				logging.PanicAttr(r),
			)
			ok = false
		}
	}()
	s.handler(ev)
	return true
}

// SubscriberCount returns the number of handlers registered for name.
func (c *Channel) SubscriberCount(name Name) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs[name])
}
