/*
Package storagemodels defines the data structures shared by the engine, the
cache and the transports.

Record:
An opaque attribute map with a mandatory "id" attribute:

	tag := storagemodels.Record{"id": 7, "name": "urgent"}
	id, err := tag.ID() // "7"

ID:
The canonical textual form of a record id. Numbers and strings are both
accepted; integral numbers and their decimal spelling are the same id:

	storagemodels.MustID(7) == storagemodels.MustID("7") // true
	storagemodels.MustID(7.0) == storagemodels.MustID(7) // true

Records handed to or returned by the cache are deep copies (Clone), so no two
owners ever alias the same map.
*/
package storagemodels
