/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/suparena/entitystate/storagemodels"
)

// Name identifies a record lifecycle event.
type Name string

// Recognized lifecycle events.
const (
	Created Name = "created"
	Updated Name = "updated"
	Removed Name = "removed"
	Loaded  Name = "loaded"
)

// Names returns the recognized event names.
func Names() []Name {
	return []Name{Created, Updated, Removed, Loaded}
}

// Valid reports whether n is one of the recognized names.
func (n Name) Valid() bool {
	switch n {
	case Created, Updated, Removed, Loaded:
		return true
	}
	return false
}

// Event announces one successful mutation of an entity type's cache.
// Which payload field is set depends on Name: Record for created and updated,
// RecordID for removed and Records for loaded. Version is the cache version
// the mutation produced; a subscriber holding a snapshot with a higher
// version can ignore the event.
type Event struct {
	ID         string                 `json:"id"`
	Name       Name                   `json:"name"`
	EntityType string                 `json:"entityType"`
	Version    uint64                 `json:"version,omitempty"`
	Record     storagemodels.Record   `json:"record,omitempty"`
	RecordID   storagemodels.ID       `json:"recordId,omitempty"`
	Records    []storagemodels.Record `json:"records,omitempty"`
	At         time.Time              `json:"at"`
}

func newEvent(name Name, entityType string) Event {
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		EntityType: entityType,
		At:         time.Now().UTC(),
	}
}

// NewCreated builds a created event carrying record.
func NewCreated(entityType string, record storagemodels.Record) Event {
	e := newEvent(Created, entityType)
	e.Record = record.Clone()
	return e
}

// NewUpdated builds an updated event carrying record.
func NewUpdated(entityType string, record storagemodels.Record) Event {
	e := newEvent(Updated, entityType)
	e.Record = record.Clone()
	return e
}

// NewRemoved builds a removed event carrying the removed id.
func NewRemoved(entityType string, id storagemodels.ID) Event {
	e := newEvent(Removed, entityType)
	e.RecordID = id
	return e
}

// NewLoaded builds a loaded event carrying the fetched records.
func NewLoaded(entityType string, records []storagemodels.Record) Event {
	e := newEvent(Loaded, entityType)
	e.Records = storagemodels.CloneAll(records)
	if e.Records == nil {
		e.Records = []storagemodels.Record{}
	}
	return e
}

// clone gives every handler its own payload so one handler cannot change
// what the next one sees.
func (e Event) clone() Event {
	e.Record = e.Record.Clone()
	if e.Records != nil {
		e.Records = storagemodels.CloneAll(e.Records)
	}
	return e
}
