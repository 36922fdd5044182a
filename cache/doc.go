/*
Package cache holds the per-entity-type record cache.

An Entry keeps the records of one entity type in insertion order and unique by
id. Updates replace a record in place; they never move it:

	entry := cache.NewEntry("taskTags")
	_, _ = entry.Upsert(storagemodels.Record{"id": 7, "name": "urgent"}) // version 1
	_, _ = entry.Upsert(storagemodels.Record{"id": 7, "name": "later"})  // same slot, version 2

	snap := entry.Snapshot()
	snap.Records // [{id:7 name:later}]

Readers only ever see Snapshot copies. Mutation is reserved for the bundle
that owns the entry, which pairs every SetLoading(true) with exactly one
settling call (Upsert, Patch, Remove, Replace, SetError or SetLoading(false)).
Each applied change returns the entry version it produced; Snapshot.Version
tells which change a copy reflects.
*/
package cache
