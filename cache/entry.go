/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package cache

import (
	"sync"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/suparena/entitystate/errors"
	"github.com/suparena/entitystate/storagemodels"
)

// Entry is the cache of one entity type: an ordered, id-unique list of
// records plus loading and error status.
//
// Loading is true while at least one request is outstanding. SetLoading(true)
// starts a request; Upsert, Patch, Remove, Replace, SetError and SetLoading(false)
// each settle one. Only the owning bundle should call the mutating methods.
//
// Every successful Upsert, Patch, Remove and Replace increments the entry
// version under the same lock that applies the change and returns the new
// value, so versions order changes exactly as they were applied.
type Entry struct {
	mu         sync.RWMutex
	entityType string
	records    []storagemodels.Record
	index      map[storagemodels.ID]int
	version    uint64
	pending    int
	err        string
	loaded     bool
	fetchedAt  time.Time
	updatedAt  time.Time
	now        func() time.Time
}

// NewEntry creates an empty entry for entityType.
func NewEntry(entityType string) *Entry {
	return &Entry{
		entityType: entityType,
		index:      make(map[storagemodels.ID]int),
		now:        time.Now,
	}
}

// EntityType returns the entity type key the entry belongs to.
func (e *Entry) EntityType() string {
	return e.entityType
}

// Upsert replaces the record with the same id in place, or appends it, and
// returns the version of the change.
func (e *Entry) Upsert(record storagemodels.Record) (uint64, error) {
	id, err := record.ID()
	if err != nil {
		return 0, err
	}
	stored := record.Clone()

	e.mu.Lock()
	defer e.mu.Unlock()

	if pos, ok := e.index[id]; ok {
		e.records[pos] = stored
	} else {
		e.index[id] = len(e.records)
		e.records = append(e.records, stored)
	}
	e.settleLocked()
	e.err = ""
	e.updatedAt = e.now()
	e.version++
	return e.version, nil
}

// Patch merges record's attributes onto the cached record with the same id
// and returns the result with the version of the change. Unknown ids are
// appended like Upsert does. The read and the write happen under one lock, so
// concurrent patches never lose an attribute written by the other.
func (e *Entry) Patch(record storagemodels.Record) (storagemodels.Record, uint64, error) {
	id, err := record.ID()
	if err != nil {
		return nil, 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var merged storagemodels.Record
	if pos, ok := e.index[id]; ok {
		merged = e.records[pos].Merge(record)
		e.records[pos] = merged
	} else {
		merged = record.Clone()
		e.index[id] = len(e.records)
		e.records = append(e.records, merged)
	}
	e.settleLocked()
	e.err = ""
	e.updatedAt = e.now()
	e.version++
	return merged.Clone(), e.version, nil
}

// Remove deletes the record with id. It reports whether a record was removed;
// removing an unknown id is not an error. A confirmed remove is a change even
// when the id was not cached, so the version moves either way.
func (e *Entry) Remove(id storagemodels.ID) (removed bool, version uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.settleLocked()
	e.err = ""
	e.version++
	pos, ok := e.index[id]
	if !ok {
		return false, e.version
	}
	e.records = append(e.records[:pos], e.records[pos+1:]...)
	delete(e.index, id)
	for i := pos; i < len(e.records); i++ {
		rid, _ := e.records[i].ID()
		e.index[rid] = i
	}
	e.updatedAt = e.now()
	return true, e.version
}

// Replace swaps the whole record list, keeping the given order, and returns a
// copy of what was stored with the version of the change. Records that repeat
// an id collapse onto the first position with the last attributes. Nothing
// changes when any record lacks a valid id.
func (e *Entry) Replace(records []storagemodels.Record) ([]storagemodels.Record, uint64, error) {
	next := make([]storagemodels.Record, 0, len(records))
	index := make(map[storagemodels.ID]int, len(records))
	for _, r := range records {
		id, err := r.ID()
		if err != nil {
			return nil, 0, err
		}
		if pos, ok := index[id]; ok {
			next[pos] = r.Clone()
			continue
		}
		index[id] = len(next)
		next = append(next, r.Clone())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.records = next
	e.index = index
	e.settleLocked()
	e.err = ""
	e.loaded = true
	e.fetchedAt = e.now()
	e.updatedAt = e.fetchedAt
	e.version++
	return storagemodels.CloneAll(next), e.version, nil
}

// SetLoading starts (true) or settles (false) one outstanding request.
func (e *Entry) SetLoading(loading bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if loading {
		e.pending++
		return
	}
	e.settleLocked()
}

// SetError records a failure and settles one outstanding request.
func (e *Entry) SetError(message string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.settleLocked()
	e.err = message
	e.updatedAt = e.now()
}

func (e *Entry) settleLocked() {
	if e.pending > 0 {
		e.pending--
	}
}

// Snapshot returns an immutable copy of the entry's current state.
func (e *Entry) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Snapshot{
		EntityType: e.entityType,
		Records:    storagemodels.CloneAll(e.records),
		Loading:    e.pending > 0,
		Error:      e.err,
		Loaded:     e.loaded,
		Version:    e.version,
	}
	if s.Records == nil {
		s.Records = []storagemodels.Record{}
	}
	if !e.fetchedAt.IsZero() {
		s.FetchedAt = strfmt.DateTime(e.fetchedAt.UTC())
	}
	if !e.updatedAt.IsZero() {
		s.UpdatedAt = strfmt.DateTime(e.updatedAt.UTC())
	}
	return s
}

// Get returns a copy of the cached record with id.
func (e *Entry) Get(id storagemodels.ID) (storagemodels.Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pos, ok := e.index[id]
	if !ok {
		return nil, errors.NewNotFoundError(e.entityType, id.String())
	}
	return e.records[pos].Clone(), nil
}

// Version returns the version of the last applied change, 0 before any.
func (e *Entry) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Loaded reports whether a fetch has ever succeeded.
func (e *Entry) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}
