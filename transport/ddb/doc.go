/*
Package ddb provides a DynamoDB implementation of the transport.Transport interface.

The Store supports:
  - Single-table design patterns
  - Macro-based key expansion (e.g., "TAG#{id}")
  - Listing an entity type through a Global Secondary Index
  - Paginated queries with retry on throttling
  - Conditional writes that surface conflicts and missing items as 409 and 404
  - Automatic EntityType injection for polymorphic storage

Key Features:

Macro Expansion:
Keys come from the entity type's endpoint index map. Macros are replaced with
record attribute values; PK and SK may only reference {id}:

	registry.Endpoint{
	    Key: "taskTags",
	    IndexMap: map[string]string{
	        "PK":     "TAG#{id}",      // Becomes "TAG#7"
	        "SK":     "TAG#{id}",
	        "GSI2PK": "COLOR#{color}", // Extra attributes expand from the record
	    },
	}

Listing:
Every item carries PK1 = entity type and SK1 = "<created>#<id>", so

	store.List(ctx, "/taskTags")

is a single GSI1 query returning records oldest first.
*/
package ddb
