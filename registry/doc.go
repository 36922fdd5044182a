/*
Package registry maps entity type keys to their remote endpoints.

Every entity type gets an independent endpoint: a collection path for list and
create calls, item paths for update and delete calls, and an index map used by
single-table backends such as DynamoDB:

	endpoints := registry.NewEndpoints()
	_ = endpoints.Register(registry.Endpoint{
	    Key:  "taskTags",
	    Path: "/task-tags",
	    IndexMap: map[string]string{
	        "PK": "TAG#{id}",
	        "SK": "TAG#{id}",
	    },
	})

	endpoints.CollectionPath("taskTags")                    // "/task-tags"
	endpoints.ItemPath("taskTags", storagemodels.MustID(7)) // "/task-tags/7"

Resolve is total: a key that was never registered resolves to "/<key>" with
"<key>#{id}" keys. Definitions are usually loaded from YAML through the config
package. The registry is an explicit value passed to the engine and the
transports; there is no package-level state.
*/
package registry
