/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entitystate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/suparena/entitystate/cache"
	"github.com/suparena/entitystate/errors"
	"github.com/suparena/entitystate/events"
	"github.com/suparena/entitystate/logging"
	"github.com/suparena/entitystate/storagemodels"
	"github.com/suparena/entitystate/transport"
)

// Bundle is the generated slice of one entity type: its CRUD operations, its
// cache and its event channel. Obtain bundles from Engine.Bundle.
//
// Every operation follows the same steps: mark the request in flight, call
// the transport, then either fold the response into the cache and emit one
// event, or record the error and return it with the records untouched.
// Overlapping operations are not serialized; the response applied last wins.
//
// Events reach subscribers one at a time and in the order their changes were
// applied to the cache, each stamped with the cache version it produced. When
// another operation is delivering events, an operation can return before its
// own event has been delivered; it is delivered right after the ones before it.
type Bundle struct {
	key    string
	engine *Engine
	entry  *cache.Entry
	events *events.Channel
	seq    *events.Sequencer
	logger logging.Logger
	flight singleflight.Group
}

// Key returns the entity type key.
func (b *Bundle) Key() string {
	return b.key
}

// Snapshot returns a read-only copy of the cache.
func (b *Bundle) Snapshot() cache.Snapshot {
	return b.entry.Snapshot()
}

// Subscribe registers handler for the named lifecycle event.
func (b *Bundle) Subscribe(name events.Name, handler events.Handler) (unsubscribe func()) {
	return b.events.Subscribe(name, handler)
}

// Add creates a record remotely and caches the record the server returns.
func (b *Bundle) Add(ctx context.Context, payload storagemodels.Record) (storagemodels.Record, error) {
	path := b.engine.endpoints.CollectionPath(b.key)
	req := b.begin(transport.OpCreate, path)

	t, err := b.engine.transportFor(b.key)
	if err != nil {
		return nil, req.fail(errors.WrapTransport(string(transport.OpCreate), path, err))
	}
	created, err := t.Create(ctx, path, payload.Clone())
	if err != nil {
		return nil, req.fail(errors.WrapTransport(string(transport.OpCreate), path, err))
	}
	version, err := b.entry.Upsert(created)
	if err != nil {
		return nil, req.fail(malformed(transport.OpCreate, path, err))
	}

	b.seq.Publish(version, events.NewCreated(b.key, created))
	req.done()
	return created.Clone(), nil
}

// Update sends payload, which must carry the target id, and caches the
// merge of the cached record, the payload and the server response. A record
// that was not cached yet is added to the cache.
func (b *Bundle) Update(ctx context.Context, payload storagemodels.Record) (storagemodels.Record, error) {
	id, err := payload.ID()
	if err != nil {
		path := b.engine.endpoints.CollectionPath(b.key)
		return nil, b.begin(transport.OpUpdate, path).fail(err)
	}
	path := b.engine.endpoints.ItemPath(b.key, id)
	req := b.begin(transport.OpUpdate, path)

	t, err := b.engine.transportFor(b.key)
	if err != nil {
		return nil, req.fail(errors.WrapTransport(string(transport.OpUpdate), path, err))
	}
	resp, err := t.Update(ctx, path, payload.Clone())
	if err != nil {
		return nil, req.fail(errors.WrapTransport(string(transport.OpUpdate), path, err))
	}
	if resp != nil {
		rid, err := resp.ID()
		if err != nil || rid != id {
			// keep the id the caller addressed
			resp = resp.Merge(storagemodels.Record{storagemodels.IDField: payload[storagemodels.IDField]})
		}
	}
	merged, version, err := b.entry.Patch(payload.Merge(resp))
	if err != nil {
		return nil, req.fail(malformed(transport.OpUpdate, path, err))
	}

	b.seq.Publish(version, events.NewUpdated(b.key, merged))
	req.done()
	return merged, nil
}

// Remove deletes the record remotely, then locally. A record missing from
// the cache is not an error once the server confirmed the delete.
func (b *Bundle) Remove(ctx context.Context, id storagemodels.ID) error {
	_, err := b.remove(ctx, id)
	return err
}

// remove is Remove returning the canonical id it removed.
func (b *Bundle) remove(ctx context.Context, raw storagemodels.ID) (storagemodels.ID, error) {
	id, err := storagemodels.ParseID(raw)
	if err != nil {
		path := b.engine.endpoints.CollectionPath(b.key)
		return "", b.begin(transport.OpDelete, path).fail(err)
	}
	path := b.engine.endpoints.ItemPath(b.key, id)
	req := b.begin(transport.OpDelete, path)

	t, err := b.engine.transportFor(b.key)
	if err != nil {
		return "", req.fail(errors.WrapTransport(string(transport.OpDelete), path, err))
	}
	if err := t.Delete(ctx, path); err != nil {
		return "", req.fail(errors.WrapTransport(string(transport.OpDelete), path, err))
	}
	_, version := b.entry.Remove(id)

	b.seq.Publish(version, events.NewRemoved(b.key, id))
	req.done()
	return id, nil
}

// Fetch replaces the cached records with the server's list, in server order.
// On failure the previously cached records stay in place.
func (b *Bundle) Fetch(ctx context.Context) ([]storagemodels.Record, error) {
	path := b.engine.endpoints.CollectionPath(b.key)
	req := b.begin(transport.OpList, path)

	t, err := b.engine.transportFor(b.key)
	if err != nil {
		return nil, req.fail(errors.WrapTransport(string(transport.OpList), path, err))
	}
	list, err := t.List(ctx, path)
	if err != nil {
		return nil, req.fail(errors.WrapTransport(string(transport.OpList), path, err))
	}
	stored, version, err := b.entry.Replace(list)
	if err != nil {
		return nil, req.fail(malformed(transport.OpList, path, err))
	}

	b.seq.Publish(version, events.NewLoaded(b.key, stored))
	req.done()
	return stored, nil
}

// Ensure fetches the entity type unless a fetch already succeeded.
// Concurrent callers share a single request.
func (b *Bundle) Ensure(ctx context.Context) error {
	if b.entry.Loaded() {
		return nil
	}
	_, err, _ := b.flight.Do("fetch", func() (any, error) {
		if b.entry.Loaded() {
			return nil, nil
		}
		return b.Fetch(ctx)
	})
	return err
}

// AddAsync describes an Add for Engine.Dispatch.
func (b *Bundle) AddAsync(payload storagemodels.Record) Action {
	return Action{EntityType: b.key, Kind: KindAdd, Payload: payload.Clone()}
}

// UpdateAsync describes an Update for Engine.Dispatch.
func (b *Bundle) UpdateAsync(payload storagemodels.Record) Action {
	return Action{EntityType: b.key, Kind: KindUpdate, Payload: payload.Clone()}
}

// RemoveAsync describes a Remove for Engine.Dispatch.
func (b *Bundle) RemoveAsync(id storagemodels.ID) Action {
	return Action{EntityType: b.key, Kind: KindRemove, ID: id}
}

// FetchAsync describes a Fetch for Engine.Dispatch.
func (b *Bundle) FetchAsync() Action {
	return Action{EntityType: b.key, Kind: KindFetch}
}

// request tracks one in-flight operation for logging and settles the cache
// status on failure.
type request struct {
	bundle *Bundle
	id     string
	op     transport.Op
	path   string
	start  time.Time
}

func (b *Bundle) begin(op transport.Op, path string) *request {
	b.entry.SetLoading(true)
	r := &request{bundle: b, id: uuid.NewString(), op: op, path: path, start: time.Now()}
	b.logger.Debug("request started", "op", string(op), "path", path, "request_id", r.id)
	return r
}

func (r *request) done() {
	r.bundle.logger.Debug("request succeeded",
		"op", string(r.op),
		"path", r.path,
		"request_id", r.id,
		"duration", time.Since(r.start),
	)
}

func (r *request) fail(err error) error {
	r.bundle.entry.SetError(err.Error())
	r.bundle.logger.Warn("request failed",
		"op", string(r.op),
		"path", r.path,
		"request_id", r.id,
		"status", errors.StatusOf(err),
		logging.ErrAttr(err),
	)
	return err
}

func malformed(op transport.Op, path string, err error) error {
	return &errors.TransportError{
		Op:      string(op),
		Path:    path,
		Message: "malformed response: " + err.Error(),
		Err:     err,
	}
}
