/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entitystate

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/entitystate/errors"
	"github.com/suparena/entitystate/events"
	"github.com/suparena/entitystate/registry"
	"github.com/suparena/entitystate/storagemodels"
	"github.com/suparena/entitystate/transport"
	"github.com/suparena/entitystate/transport/mock"
)

type record = storagemodels.Record

// recorder collects every event emitted for one entity type.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func watch(b *Bundle) *recorder {
	r := &recorder{}
	for _, name := range events.Names() {
		b.Subscribe(name, func(ev events.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		})
	}
	return r
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestBundleIsMemoized(t *testing.T) {
	e := New(mock.New())

	a := e.Bundle("taskTags")
	b := e.Bundle("taskTags")
	require.Same(t, a, b)
	assert.NotSame(t, a, e.Bundle("tasktags"), "keys are case-sensitive")
	assert.Equal(t, []string{"taskTags", "tasktags"}, e.Keys())
}

func TestSubscriptionsSurviveLookups(t *testing.T) {
	e := New(mock.New())

	var got int
	e.Bundle("taskTags").Subscribe(events.Created, func(events.Event) { got++ })

	_, err := e.Bundle("taskTags").Add(context.Background(), record{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestConcurrentBundleCreation(t *testing.T) {
	e := New(mock.New())

	var wg sync.WaitGroup
	bundles := make([]*Bundle, 32)
	for i := range bundles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bundles[i] = e.Bundle("workflows")
		}(i)
	}
	wg.Wait()

	for _, b := range bundles {
		require.Same(t, bundles[0], b)
	}
}

func TestAddScenario(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	// the server assigns id 7
	for i := 0; i < 6; i++ {
		_, _ = m.Create(ctx, "/scratch", record{})
	}
	e := New(m)
	tags := e.Bundle("taskTags")
	rec := watch(tags)

	created, err := tags.Add(ctx, record{"name": "urgent"})
	require.NoError(t, err)
	assert.Equal(t, record{"id": int64(7), "name": "urgent"}, created)

	snap := tags.Snapshot()
	assert.Equal(t, []record{{"id": int64(7), "name": "urgent"}}, snap.Records)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error)

	evs := rec.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.Created, evs[0].Name)
	assert.Equal(t, "taskTags", evs[0].EntityType)
	assert.Equal(t, created, evs[0].Record)
}

func TestRemoveFailureScenario(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	require.NoError(t, m.SetData("/taskTags", []record{{"id": 7, "name": "urgent"}}))

	e := New(m)
	tags := e.Bundle("taskTags")
	_, err := tags.Fetch(ctx)
	require.NoError(t, err)
	before := tags.Snapshot().Records

	rec := watch(tags)
	m.WithDeleteError(errors.NewTransportError("delete", "/taskTags/7", 500, "internal server error"))

	res := e.Dispatch(ctx, tags.RemoveAsync(storagemodels.MustID(7)))
	_, err = res.Unwrap()

	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
	assert.Equal(t, 500, errors.StatusOf(err))

	snap := tags.Snapshot()
	assert.Equal(t, before, snap.Records)
	assert.Contains(t, snap.Error, "500")
	assert.False(t, snap.Loading)
	assert.Empty(t, rec.all(), "no removed event on failure")
}

func TestReversedConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	require.NoError(t, m.SetData("/taskTags", []record{{"id": 7, "name": "urgent"}}))

	e := New(m)
	tags := e.Bundle("taskTags")
	_, err := tags.Fetch(ctx)
	require.NoError(t, err)

	// the first update is held until the second one has been applied
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	var calls int
	var mu sync.Mutex
	m.WithHook(func(ctx context.Context, op transport.Op, path string) error {
		if op != transport.OpUpdate {
			return nil
		}
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		entered <- struct{}{}
		if n == 1 {
			<-release
		}
		return nil
	})

	first := e.Dispatch(ctx, tags.UpdateAsync(record{"id": 7, "name": "first"}))
	<-entered
	second := e.Dispatch(ctx, tags.UpdateAsync(record{"id": 7, "name": "second"}))
	<-entered

	_, err = second.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, "second", mustGet(t, tags, 7)["name"])
	assert.True(t, tags.Snapshot().Loading, "the first update is still in flight")

	close(release)
	out, err := first.Unwrap()
	require.NoError(t, err)
	assert.Equal(t, "first", out.Record["name"])

	snap := tags.Snapshot()
	assert.Equal(t, "first", mustGet(t, tags, 7)["name"], "the last response to arrive wins")
	assert.False(t, snap.Loading)
	assert.Equal(t, 1, snap.Len())
}

func TestEventsFollowCacheOrder(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	require.NoError(t, m.SetData("/taskTags", []record{{"id": 7, "name": "urgent"}}))

	e := New(m)
	tags := e.Bundle("taskTags")
	_, err := tags.Fetch(ctx)
	require.NoError(t, err)

	// the first subscriber holds the "first" event until released
	entered := make(chan struct{})
	release := make(chan struct{})
	tags.Subscribe(events.Updated, func(ev events.Event) {
		if ev.Record["name"] == "first" {
			close(entered)
			<-release
		}
	})
	rec := watch(tags)

	first := e.Dispatch(ctx, tags.UpdateAsync(record{"id": 7, "name": "first"}))
	<-entered

	_, err = tags.Update(ctx, record{"id": 7, "name": "second"})
	require.NoError(t, err)
	assert.Equal(t, "second", mustGet(t, tags, 7)["name"])
	assert.Empty(t, rec.all(), "a later change is not delivered ahead of an earlier one")

	close(release)
	_, err = first.Unwrap()
	require.NoError(t, err)

	evs := rec.all()
	require.Len(t, evs, 2)
	assert.Equal(t, "first", evs[0].Record["name"])
	assert.Equal(t, "second", evs[1].Record["name"])
	assert.Less(t, evs[0].Version, evs[1].Version)

	snap := tags.Snapshot()
	assert.Equal(t, snap.Version, evs[1].Version, "the last event describes the cached state")
	assert.Equal(t, mustGet(t, tags, 7)["name"], evs[1].Record["name"])
}

func TestSubscriberMayChangeItsOwnType(t *testing.T) {
	ctx := context.Background()
	e := New(mock.New())
	tags := e.Bundle("taskTags")

	var updateErr error
	tags.Subscribe(events.Created, func(ev events.Event) {
		_, updateErr = tags.Update(ctx, record{"id": ev.Record["id"], "seen": true})
	})
	rec := watch(tags)

	created, err := tags.Add(ctx, record{"name": "a"})
	require.NoError(t, err)
	require.NoError(t, updateErr)
	assert.Equal(t, true, mustGet(t, tags, created["id"])["seen"])

	evs := rec.all()
	require.Len(t, evs, 2)
	assert.Equal(t, events.Created, evs[0].Name)
	assert.Equal(t, events.Updated, evs[1].Name)
	assert.Equal(t, []uint64{1, 2}, []uint64{evs[0].Version, evs[1].Version})
}

func TestUpdateMergesCachedRecord(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	require.NoError(t, m.SetData("/taskTags", []record{{"id": 1, "name": "a", "color": "red"}, {"id": 2}}))
	e := New(m)
	tags := e.Bundle("taskTags")
	_, err := tags.Fetch(ctx)
	require.NoError(t, err)
	rec := watch(tags)

	updated, err := tags.Update(ctx, record{"id": 1, "name": "b"})
	require.NoError(t, err)
	assert.Equal(t, record{"id": 1, "name": "b", "color": "red"}, updated)
	assert.Equal(t, []storagemodels.ID{"1", "2"}, tags.Snapshot().IDs(), "updates stay in place")

	evs := rec.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.Updated, evs[0].Name)
	assert.Equal(t, updated, evs[0].Record)
}

// silentTransport accepts updates without echoing the record back.
type silentTransport struct {
	transport.Transport
}

func (silentTransport) Update(context.Context, string, storagemodels.Record) (storagemodels.Record, error) {
	return nil, nil
}

func TestUpdateWithoutResponseBody(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	require.NoError(t, m.SetData("/taskTags", []record{{"id": 1, "name": "a", "color": "red"}}))
	e := New(silentTransport{Transport: m})
	tags := e.Bundle("taskTags")
	_, err := tags.Fetch(ctx)
	require.NoError(t, err)

	updated, err := tags.Update(ctx, record{"id": 1, "color": "blue"})
	require.NoError(t, err)
	assert.Equal(t, record{"id": 1, "name": "a", "color": "blue"}, updated)
}

func TestUpdateRequiresID(t *testing.T) {
	m := mock.New()
	e := New(m)
	tags := e.Bundle("taskTags")

	_, err := tags.Update(context.Background(), record{"name": "no id"})
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.Empty(t, m.Calls(), "no remote call without an id")

	snap := tags.Snapshot()
	assert.NotEmpty(t, snap.Error)
	assert.False(t, snap.Loading)
}

func TestRemoveUnknownLocalRecord(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	require.NoError(t, m.SetData("/taskTags", []record{{"id": "a"}}))
	e := New(m)
	tags := e.Bundle("taskTags")
	rec := watch(tags)

	require.NoError(t, tags.Remove(ctx, "a"))
	assert.Equal(t, 0, tags.Snapshot().Len())

	evs := rec.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.Removed, evs[0].Name)
	assert.Equal(t, storagemodels.ID("a"), evs[0].RecordID)
	assert.Equal(t, 0, m.Count("/taskTags"))
}

func TestUpdateUnknownLocalRecord(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	require.NoError(t, m.SetData("/taskTags", []record{{"id": 5, "name": "a", "color": "red"}}))
	e := New(m)
	tags := e.Bundle("taskTags")
	rec := watch(tags)

	updated, err := tags.Update(ctx, record{"id": 5, "name": "b"})
	require.NoError(t, err)
	assert.Equal(t, record{"id": 5, "name": "b", "color": "red"}, updated)

	snap := tags.Snapshot()
	assert.Equal(t, []storagemodels.ID{"5"}, snap.IDs(), "the merged record is upserted")
	assert.Equal(t, updated, mustGet(t, tags, 5))
	assert.False(t, snap.Loaded, "an update does not mark the type loaded")

	evs := rec.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.Updated, evs[0].Name)
	assert.Equal(t, updated, evs[0].Record)
}

func TestRemoteNotFoundIsTransportFailure(t *testing.T) {
	e := New(mock.New())
	err := e.Bundle("taskTags").Remove(context.Background(), storagemodels.MustID(3))
	assert.True(t, errors.IsTransport(err))
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 404, errors.StatusOf(err))
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	require.NoError(t, m.SetData("/taskTags", []record{{"id": 3}, {"id": 1}, {"id": 2}}))
	e := New(m)
	tags := e.Bundle("taskTags")
	rec := watch(tags)

	list, err := tags.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	snap := tags.Snapshot()
	assert.Equal(t, []storagemodels.ID{"3", "1", "2"}, snap.IDs(), "server order is kept")
	assert.True(t, snap.Loaded)

	evs := rec.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.Loaded, evs[0].Name)
	assert.Equal(t, snap.Records, evs[0].Records)
}

func TestFetchFailureKeepsRecords(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	require.NoError(t, m.SetData("/taskTags", []record{{"id": 1}}))
	e := New(m)
	tags := e.Bundle("taskTags")
	_, err := tags.Fetch(ctx)
	require.NoError(t, err)

	m.WithListError(fmt.Errorf("connection reset"))
	_, err = tags.Fetch(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err), "plain transport errors are wrapped")

	snap := tags.Snapshot()
	assert.Equal(t, []storagemodels.ID{"1"}, snap.IDs())
	assert.Contains(t, snap.Error, "connection reset")
	assert.False(t, snap.Loading)
}

// badTransport returns records without ids.
type badTransport struct {
	transport.Transport
}

func (badTransport) Create(context.Context, string, storagemodels.Record) (storagemodels.Record, error) {
	return record{"name": "who am i"}, nil
}

func (badTransport) List(context.Context, string) ([]storagemodels.Record, error) {
	return []storagemodels.Record{{"id": 1}, {"nope": true}}, nil
}

func TestMalformedResponses(t *testing.T) {
	ctx := context.Background()
	e := New(badTransport{Transport: mock.New()})
	tags := e.Bundle("taskTags")
	rec := watch(tags)

	_, err := tags.Add(ctx, record{"name": "x"})
	assert.True(t, errors.IsTransport(err))
	assert.Contains(t, err.Error(), "malformed response")

	_, err = tags.Fetch(ctx)
	assert.True(t, errors.IsTransport(err))

	snap := tags.Snapshot()
	assert.Equal(t, 0, snap.Len())
	assert.False(t, snap.Loaded)
	assert.False(t, snap.Loading)
	assert.Empty(t, rec.all())
}

func TestNoPartialMutationOnFailure(t *testing.T) {
	ctx := context.Background()
	failure := errors.NewTransportError("x", "/x", 503, "unavailable")

	cases := map[string]func(m *mock.Transport, b *Bundle) error{
		"add": func(m *mock.Transport, b *Bundle) error {
			m.WithCreateError(failure)
			_, err := b.Add(ctx, record{"name": "n"})
			return err
		},
		"update": func(m *mock.Transport, b *Bundle) error {
			m.WithUpdateError(failure)
			_, err := b.Update(ctx, record{"id": 1, "name": "changed"})
			return err
		},
		"remove": func(m *mock.Transport, b *Bundle) error {
			m.WithDeleteError(failure)
			return b.Remove(ctx, storagemodels.MustID(1))
		},
		"fetch": func(m *mock.Transport, b *Bundle) error {
			m.WithListError(failure)
			_, err := b.Fetch(ctx)
			return err
		},
	}

	for name, run := range cases {
		t.Run(name, func(t *testing.T) {
			m := mock.New()
			require.NoError(t, m.SetData("/taskTags", []record{{"id": 1, "name": "a"}, {"id": 2, "name": "b"}}))
			b := New(m).Bundle("taskTags")
			_, err := b.Fetch(ctx)
			require.NoError(t, err)

			before := b.Snapshot().Records
			rec := watch(b)

			err = run(m, b)
			require.Error(t, err)
			assert.Equal(t, 503, errors.StatusOf(err))

			snap := b.Snapshot()
			assert.Equal(t, before, snap.Records)
			assert.NotEmpty(t, snap.Error)
			assert.False(t, snap.Loading)
			assert.Empty(t, rec.all())
		})
	}
}

func TestIdempotentAddResult(t *testing.T) {
	ctx := context.Background()
	m := mock.New()
	e := New(m)
	tags := e.Bundle("taskTags")

	_, err := tags.Add(ctx, record{"id": "x", "name": "one"})
	require.NoError(t, err)
	once := tags.Snapshot().Records

	// the server reports the same record again
	require.NoError(t, m.SetData("/taskTags", nil))
	_, err = tags.Add(ctx, record{"id": "x", "name": "one"})
	require.NoError(t, err)
	assert.Equal(t, once, tags.Snapshot().Records)
}

func TestIndependentEntityTypes(t *testing.T) {
	ctx := context.Background()
	e := New(mock.New())
	tags := e.Bundle("taskTags")
	keys := e.Bundle("apiKeys")
	tagEvents := watch(tags)
	keyEvents := watch(keys)

	_, err := tags.Add(ctx, record{"name": "t"})
	require.NoError(t, err)
	_, err = keys.Add(ctx, record{"name": "k"})
	require.NoError(t, err)

	assert.Equal(t, 1, tags.Snapshot().Len())
	assert.Equal(t, 1, keys.Snapshot().Len())
	assert.Len(t, tagEvents.all(), 1)
	assert.Len(t, keyEvents.all(), 1)
	assert.Equal(t, "k", keys.Snapshot().Records[0]["name"])
}

func TestEndpointsShapePaths(t *testing.T) {
	ctx := context.Background()
	endpoints := registry.NewEndpoints()
	require.NoError(t, endpoints.Register(registry.Endpoint{Key: "apiKeys", Path: "/api/v1/api-keys"}))

	m := mock.New()
	e := New(m, WithEndpoints(endpoints))
	keys := e.Bundle("apiKeys")

	created, err := keys.Add(ctx, record{"name": "ci"})
	require.NoError(t, err)
	id, _ := created.ID()
	require.NoError(t, keys.Remove(ctx, id))

	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/api/v1/api-keys", calls[0].Path)
	assert.Equal(t, "/api/v1/api-keys/1", calls[1].Path)
}

func TestRegisterTransport(t *testing.T) {
	ctx := context.Background()
	shared := mock.New()
	private := mock.New()
	e := New(shared)

	require.NoError(t, e.RegisterTransport("apiKeys", private))
	assert.Error(t, e.RegisterTransport("apiKeys", private))
	assert.Error(t, e.RegisterTransport("other", nil))

	_, err := e.Bundle("apiKeys").Add(ctx, record{"name": "k"})
	require.NoError(t, err)
	_, err = e.Bundle("taskTags").Add(ctx, record{"name": "t"})
	require.NoError(t, err)

	assert.Equal(t, 1, private.Count("/apiKeys"))
	assert.Equal(t, 0, shared.Count("/apiKeys"))
	assert.Equal(t, 1, shared.Count("/taskTags"))
}

func TestMissingTransport(t *testing.T) {
	e := New(nil)
	_, err := e.Bundle("taskTags").Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
	assert.False(t, e.Snapshot("taskTags").Loading)
}

func TestPanickingSubscriberDoesNotFailOperation(t *testing.T) {
	e := New(mock.New())
	tags := e.Bundle("taskTags")

	tags.Subscribe(events.Created, func(events.Event) { panic("bad subscriber") })
	var after int
	tags.Subscribe(events.Created, func(events.Event) { after++ })

	_, err := tags.Add(context.Background(), record{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, 1, after)
	assert.Equal(t, 1, tags.Snapshot().Len())
}

func TestEngineShortcuts(t *testing.T) {
	e := New(mock.New())
	var got []events.Name
	stop := e.Subscribe("taskTags", events.Created, func(ev events.Event) { got = append(got, ev.Name) })

	_, err := e.Bundle("taskTags").Add(context.Background(), record{"name": "x"})
	require.NoError(t, err)
	stop()
	_, err = e.Bundle("taskTags").Add(context.Background(), record{"name": "y"})
	require.NoError(t, err)

	assert.Equal(t, []events.Name{events.Created}, got)
	assert.Equal(t, 2, e.Snapshot("taskTags").Len())
	assert.NotNil(t, e.Endpoints())
}

func mustGet(t *testing.T, b *Bundle, id any) storagemodels.Record {
	t.Helper()
	r, err := b.Snapshot().Get(storagemodels.MustID(id))
	require.NoError(t, err)
	return r
}
