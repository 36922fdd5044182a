/*
Package transport defines the remote collaborator the engine talks to.

	type Transport interface {
	    Create(ctx context.Context, path string, body storagemodels.Record) (storagemodels.Record, error)
	    List(ctx context.Context, path string) ([]storagemodels.Record, error)
	    Update(ctx context.Context, path string, body storagemodels.Record) (storagemodels.Record, error)
	    Delete(ctx context.Context, path string) error
	}

Implementations:
  - rest: JSON over HTTP
  - ddb: DynamoDB single-table backend
  - sqlite: local SQLite backend
  - mock: in-memory backend for tests with error injection and call hooks

The engine only distinguishes success from failure; status codes and
messages travel inside *errors.TransportError.
*/
package transport
