/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package cache

import (
	"github.com/go-openapi/strfmt"

	"github.com/suparena/entitystate/errors"
	"github.com/suparena/entitystate/storagemodels"
)

// Snapshot is a point-in-time copy of an Entry, safe to read and render
// without locking. Mutating it has no effect on the cache.
type Snapshot struct {
	EntityType string                 `json:"entityType" yaml:"entityType"`
	Records    []storagemodels.Record `json:"records" yaml:"records"`
	Loading    bool                   `json:"loading" yaml:"loading"`
	Error      string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Loaded     bool                   `json:"loaded" yaml:"loaded"`
	Version    uint64                 `json:"version" yaml:"version"`
	FetchedAt  strfmt.DateTime        `json:"fetchedAt,omitempty" yaml:"fetchedAt,omitempty"`
	UpdatedAt  strfmt.DateTime        `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Len returns the number of records.
func (s Snapshot) Len() int {
	return len(s.Records)
}

// IDs returns the record ids in cache order.
func (s Snapshot) IDs() []storagemodels.ID {
	ids := make([]storagemodels.ID, 0, len(s.Records))
	for _, r := range s.Records {
		id, _ := r.ID()
		ids = append(ids, id)
	}
	return ids
}

// Get returns the record with id.
func (s Snapshot) Get(id storagemodels.ID) (storagemodels.Record, error) {
	for _, r := range s.Records {
		if rid, _ := r.ID(); rid == id {
			return r, nil
		}
	}
	return nil, errors.NewNotFoundError(s.EntityType, id.String())
}

// HasError reports whether the last request failed.
func (s Snapshot) HasError() bool {
	return s.Error != ""
}
