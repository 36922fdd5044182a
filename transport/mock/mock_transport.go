/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package mock provides an in-memory implementation of transport.Transport for testing
package mock

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/suparena/entitystate/errors"
	"github.com/suparena/entitystate/storagemodels"
	"github.com/suparena/entitystate/transport"
)

// Hook runs before every call without any lock held, so it may block to
// control response ordering. A non-nil error is returned as the call's result.
type Hook func(ctx context.Context, op transport.Op, path string) error

// Call records one invocation.
type Call struct {
	Op   transport.Op
	Path string
	Body storagemodels.Record
}

type collection struct {
	order   []storagemodels.ID
	records map[storagemodels.ID]storagemodels.Record
}

// Transport is an in-memory server stand-in. Records live in collections keyed
// by collection path; ids are assigned from a counter when a created record
// has none.
type Transport struct {
	mu          sync.Mutex
	collections map[string]*collection
	nextID      int64
	calls       []Call
	hook        Hook
	createError error
	listError   error
	updateError error
	deleteError error
}

// New creates an empty mock transport
func New() *Transport {
	return &Transport{
		collections: make(map[string]*collection),
	}
}

// WithHook sets a function that runs before every call
func (m *Transport) WithHook(h Hook) *Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
	return m
}

// WithCreateError makes Create operations return an error
func (m *Transport) WithCreateError(err error) *Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createError = err
	return m
}

// WithListError makes List operations return an error
func (m *Transport) WithListError(err error) *Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listError = err
	return m
}

// WithUpdateError makes Update operations return an error
func (m *Transport) WithUpdateError(err error) *Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateError = err
	return m
}

// WithDeleteError makes Delete operations return an error
func (m *Transport) WithDeleteError(err error) *Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteError = err
	return m
}

func (m *Transport) before(ctx context.Context, op transport.Op, path string, body storagemodels.Record) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: op, Path: path, Body: body.Clone()})
	hook := m.hook
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return errors.WrapTransport(string(op), path, err)
	}
	if hook != nil {
		return hook(ctx, op, path)
	}
	return nil
}

// Create stores body in the collection at path
func (m *Transport) Create(ctx context.Context, path string, body storagemodels.Record) (storagemodels.Record, error) {
	if err := m.before(ctx, transport.OpCreate, path, body); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createError != nil {
		return nil, m.createError
	}

	rec := body.Clone()
	if rec == nil {
		rec = storagemodels.Record{}
	}
	if _, ok := rec[storagemodels.IDField]; !ok {
		m.nextID++
		rec[storagemodels.IDField] = m.nextID
	}
	id, err := rec.ID()
	if err != nil {
		return nil, errors.NewTransportError(string(transport.OpCreate), path, http.StatusBadRequest, err.Error())
	}

	c := m.collection(path)
	if _, exists := c.records[id]; exists {
		return nil, errors.NewTransportError(string(transport.OpCreate), path, http.StatusConflict,
			fmt.Sprintf("record %s already exists", id))
	}
	c.order = append(c.order, id)
	c.records[id] = rec
	return rec.Clone(), nil
}

// List returns every record stored under path
func (m *Transport) List(ctx context.Context, path string) ([]storagemodels.Record, error) {
	if err := m.before(ctx, transport.OpList, path, nil); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listError != nil {
		return nil, m.listError
	}

	c := m.collection(path)
	out := make([]storagemodels.Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id].Clone())
	}
	return out, nil
}

// Update merges body into the record at path
func (m *Transport) Update(ctx context.Context, path string, body storagemodels.Record) (storagemodels.Record, error) {
	if err := m.before(ctx, transport.OpUpdate, path, body); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateError != nil {
		return nil, m.updateError
	}

	c, id, err := m.item(transport.OpUpdate, path)
	if err != nil {
		return nil, err
	}
	merged := c.records[id].Merge(body)
	merged[storagemodels.IDField] = c.records[id][storagemodels.IDField]
	c.records[id] = merged
	return merged.Clone(), nil
}

// Delete removes the record at path
func (m *Transport) Delete(ctx context.Context, path string) error {
	if err := m.before(ctx, transport.OpDelete, path, nil); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteError != nil {
		return m.deleteError
	}

	c, id, err := m.item(transport.OpDelete, path)
	if err != nil {
		return err
	}
	delete(c.records, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Transport) collection(path string) *collection {
	key := cleanPath(path)
	c, ok := m.collections[key]
	if !ok {
		c = &collection{records: make(map[storagemodels.ID]storagemodels.Record)}
		m.collections[key] = c
	}
	return c
}

func (m *Transport) item(op transport.Op, path string) (*collection, storagemodels.ID, error) {
	clean := cleanPath(path)
	idx := strings.LastIndex(clean, "/")
	if idx <= 0 {
		return nil, "", errors.NewTransportError(string(op), path, http.StatusBadRequest, "not an item path")
	}
	raw, err := url.PathUnescape(clean[idx+1:])
	if err != nil {
		return nil, "", errors.NewTransportError(string(op), path, http.StatusBadRequest, err.Error())
	}
	id, err := storagemodels.ParseID(raw)
	if err != nil {
		return nil, "", errors.NewTransportError(string(op), path, http.StatusBadRequest, err.Error())
	}
	c, ok := m.collections[clean[:idx]]
	if !ok || c.records[id] == nil {
		return nil, "", errors.WrapTransport(string(op), path, errors.NewNotFoundError(clean[:idx], id.String()))
	}
	return c, id, nil
}

func cleanPath(path string) string {
	return "/" + strings.Trim(path, "/")
}

// Helper methods for testing

// SetData replaces the records of the collection at path
func (m *Transport) SetData(path string, records []storagemodels.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := &collection{records: make(map[storagemodels.ID]storagemodels.Record)}
	for _, r := range records {
		id, err := r.ID()
		if err != nil {
			return err
		}
		if _, dup := c.records[id]; !dup {
			c.order = append(c.order, id)
		}
		c.records[id] = r.Clone()
	}
	m.collections[cleanPath(path)] = c
	return nil
}

// GetData returns a copy of the records stored under path
func (m *Transport) GetData(path string) []storagemodels.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[cleanPath(path)]
	if !ok {
		return nil
	}
	out := make([]storagemodels.Record, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id].Clone())
	}
	return out
}

// Count returns the number of records stored under path
func (m *Transport) Count(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.collections[cleanPath(path)]; ok {
		return len(c.order)
	}
	return 0
}

// Calls returns the calls made so far
func (m *Transport) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Clear removes all data and recorded calls
func (m *Transport) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections = make(map[string]*collection)
	m.calls = nil
}

var _ transport.Transport = (*Transport)(nil)
