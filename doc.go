/*
Package entitystate is a generic entity state engine: given only an entity type
name it provides CRUD operations against a remote transport, an in-memory
cache of the type's records and a channel announcing every change.

Each entity type gets its own bundle, created lazily and shared by everyone
who asks for the same key:

	engine := entitystate.New(rest.New("https://api.example.com"),
	    entitystate.WithLogger(logger),
	)

	tags := engine.Bundle("taskTags")
	stop := tags.Subscribe(events.Created, func(ev events.Event) {
	    fmt.Println("created", ev.Record["name"])
	})
	defer stop()

	tag, err := tags.Add(ctx, storagemodels.Record{"name": "urgent"})

Operations can also be described as data and dispatched asynchronously:

	res := engine.Dispatch(ctx, tags.RemoveAsync(storagemodels.MustID(7)))
	if _, err := res.Unwrap(); err != nil {
	    // the cache still holds record 7; the error is in tags.Snapshot().Error
	}

The cache is updated only after the transport confirms an operation. A failed
operation records its error on the cache entry, returns it to the caller and
leaves the cached records exactly as they were. Operations on one entity type
are not serialized: when two are in flight, the response applied last wins.

Sub-packages:
  - cache: per-type record cache and snapshots
  - events: per-type lifecycle event channel
  - registry: entity type to endpoint mapping
  - transport: the remote collaborator and its implementations
  - config: environment and YAML configuration

The entityctl command (cmd/entityctl) drives an engine from the console.
*/
package entitystate
