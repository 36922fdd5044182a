/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entitystate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// maxParallelFetches bounds the concurrent fetches issued by Hydrate.
const maxParallelFetches = 8

// Hydrate ensures every key is loaded, fetching the missing ones in parallel.
// Every key is attempted; the first error is returned.
func (e *Engine) Hydrate(ctx context.Context, keys ...string) error {
	var g errgroup.Group
	g.SetLimit(maxParallelFetches)

	for _, key := range keys {
		b := e.Bundle(key)
		g.Go(func() error {
			if err := b.Ensure(ctx); err != nil {
				return fmt.Errorf("hydrate %s: %w", b.Key(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
