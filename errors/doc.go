/*
Package errors provides semantic error types for the entitystate engine.

Every failed remote call surfaces as a *TransportError, which matches the
ErrTransport sentinel. A remote 404 additionally matches ErrNotFound, so a
caller can check either:

	var (
	    ErrTransport    = errors.New("transport failure")
	    ErrNotFound     = errors.New("record not found")
	    ErrInvalidInput = errors.New("invalid input")
	)

Usage:

	_, err := tags.Update(ctx, storagemodels.Record{"id": 7, "name": "later"})
	if err != nil {
	    if errors.IsNotFound(err) {
	        // the server no longer knows record 7
	    }
	    if errors.StatusOf(err) >= 500 {
	        // retry later
	    }
	    return err
	}

There is no duplicate-key error: the cache replaces a record with a known id in
place, so two records with the same id cannot be produced.
*/
package errors
