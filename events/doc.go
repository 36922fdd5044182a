/*
Package events implements the per-entity-type lifecycle event channel.

Each entity type owns one Channel. After every successful mutation the engine
emits exactly one event:

	created  Record   the record returned by the server
	updated  Record   the merged record now in the cache
	removed  RecordID the id of the removed record
	loaded   Records  the full list returned by a fetch

Subscribers register per event name and get an unsubscribe function back:

	stop := ch.Subscribe(events.Created, func(ev events.Event) {
	    fmt.Println("new tag", ev.Record["name"])
	})
	defer stop()

Delivery is synchronous and in subscription order. Handlers are isolated from
each other: a panic in one is recovered and logged, and delivery continues.
Subscriptions live until they are removed; tearing them down is the
subscriber's job.
*/
package events
