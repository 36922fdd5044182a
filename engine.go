/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entitystate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/suparena/entitystate/cache"
	"github.com/suparena/entitystate/events"
	"github.com/suparena/entitystate/logging"
	"github.com/suparena/entitystate/registry"
	"github.com/suparena/entitystate/transport"
)

// Engine is the entity registry: it maps entity type keys to their bundles and
// creates a bundle the first time a key is used. An Engine is an explicit
// context object; create one with New and pass it to whoever needs it.
type Engine struct {
	mu         sync.RWMutex
	bundles    map[string]*Bundle
	transports map[string]transport.Transport
	transport  transport.Transport
	endpoints  *registry.Endpoints
	logger     logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine, its bundles and channels.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEndpoints sets the endpoint registry used to build request paths.
func WithEndpoints(r *registry.Endpoints) Option {
	return func(e *Engine) {
		if r != nil {
			e.endpoints = r
		}
	}
}

// New creates an Engine whose bundles talk to t unless a per-type transport
// is registered with RegisterTransport.
func New(t transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		bundles:    make(map[string]*Bundle),
		transports: make(map[string]transport.Transport),
		transport:  t,
		endpoints:  registry.NewEndpoints(),
		logger:     logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Bundle returns the bundle for key, creating it on first access. Every call
// with the same key returns the same *Bundle, so all callers share one cache
// and one event channel.
func (e *Engine) Bundle(key string) *Bundle {
	e.mu.RLock()
	b, ok := e.bundles[key]
	e.mu.RUnlock()
	if ok {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.bundles[key]; ok {
		return b
	}
	logger := logging.With(e.logger, "entity_type", key)
	ch := events.NewChannel(key, logger)
	b = &Bundle{
		key:    key,
		engine: e,
		entry:  cache.NewEntry(key),
		events: ch,
		seq:    events.NewSequencer(ch),
		logger: logger,
	}
	e.bundles[key] = b
	e.logger.Debug("entity type registered", "entity_type", key)
	return b
}

// Keys returns the keys of all bundles created so far, sorted.
func (e *Engine) Keys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	keys := make([]string, 0, len(e.bundles))
	for k := range e.bundles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns the cache snapshot for key.
func (e *Engine) Snapshot(key string) cache.Snapshot {
	return e.Bundle(key).Snapshot()
}

// Subscribe registers handler for name on key's channel.
func (e *Engine) Subscribe(key string, name events.Name, handler events.Handler) (unsubscribe func()) {
	return e.Bundle(key).Subscribe(name, handler)
}

// Endpoints returns the endpoint registry.
func (e *Engine) Endpoints() *registry.Endpoints {
	return e.endpoints
}

// RegisterTransport routes key's requests to t instead of the default
// transport. A key can be routed once.
func (e *Engine) RegisterTransport(key string, t transport.Transport) error {
	if t == nil {
		return fmt.Errorf("transport for %q is nil", key)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.transports[key]; exists {
		return fmt.Errorf("transport for %q already registered", key)
	}
	e.transports[key] = t
	return nil
}

func (e *Engine) transportFor(key string) (transport.Transport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if t, ok := e.transports[key]; ok {
		return t, nil
	}
	if e.transport == nil {
		return nil, fmt.Errorf("no transport configured for %q", key)
	}
	return e.transport, nil
}
