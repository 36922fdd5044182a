/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package transport

import (
	"context"

	"github.com/suparena/entitystate/storagemodels"
)

// Transport is the remote side of the engine. Collection paths are used for
// Create and List, item paths ("<collection>/<id>") for Update and Delete.
// Failures should be *errors.TransportError values; the engine wraps anything
// else.
type Transport interface {
	// Create stores body and returns the record as the server saw it, id included.
	Create(ctx context.Context, path string, body storagemodels.Record) (storagemodels.Record, error)

	// List returns every record of the collection in server order.
	List(ctx context.Context, path string) ([]storagemodels.Record, error)

	// Update applies body to an existing record and returns the result. A nil
	// record with a nil error means the server accepted the update without
	// echoing it.
	Update(ctx context.Context, path string, body storagemodels.Record) (storagemodels.Record, error)

	// Delete removes the record.
	Delete(ctx context.Context, path string) error
}

// Op names a transport operation in logs and errors.
type Op string

const (
	OpCreate Op = "create"
	OpList   Op = "list"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)
