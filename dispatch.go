/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entitystate

import (
	"context"
	"fmt"

	"github.com/suparena/entitystate/errors"
	"github.com/suparena/entitystate/storagemodels"
)

// ActionKind names one of the generated operations.
type ActionKind string

const (
	KindAdd    ActionKind = "addAsync"
	KindUpdate ActionKind = "updateAsync"
	KindRemove ActionKind = "removeAsync"
	KindFetch  ActionKind = "fetchAsync"
)

// Action is an operation described as data. It does nothing until passed to
// Engine.Dispatch.
type Action struct {
	EntityType string
	Kind       ActionKind
	Payload    storagemodels.Record
	ID         storagemodels.ID
}

func (a Action) String() string {
	return fmt.Sprintf("%s/%s", a.EntityType, a.Kind)
}

// Outcome is the resolved value of a dispatched action. Record is set for
// add and update, the canonical removed ID for remove and Records for fetch.
type Outcome struct {
	Action  Action
	Record  storagemodels.Record
	ID      storagemodels.ID
	Records []storagemodels.Record
}

// Result is the awaitable handle returned by Dispatch.
type Result struct {
	action  Action
	done    chan struct{}
	outcome Outcome
	err     error
}

// Done is closed once the action has finished.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Unwrap waits for the action and returns its outcome, or the error it failed with.
func (r *Result) Unwrap() (Outcome, error) {
	<-r.done
	return r.outcome, r.err
}

// Err waits for the action and returns its error.
func (r *Result) Err() error {
	<-r.done
	return r.err
}

// Action returns the dispatched action.
func (r *Result) Action() Action {
	return r.action
}

// Dispatch runs a on its own goroutine and returns immediately. The cache
// mutation and event happen whether or not anyone waits on the result.
func (e *Engine) Dispatch(ctx context.Context, a Action) *Result {
	res := &Result{action: a, done: make(chan struct{})}
	go func() {
		defer close(res.done)
		res.outcome, res.err = e.execute(ctx, a)
	}()
	return res
}

// Execute runs a synchronously.
func (e *Engine) Execute(ctx context.Context, a Action) (Outcome, error) {
	return e.execute(ctx, a)
}

func (e *Engine) execute(ctx context.Context, a Action) (Outcome, error) {
	out := Outcome{Action: a}
	if a.EntityType == "" {
		return out, errors.NewValidationError("entityType", "action names no entity type")
	}
	b := e.Bundle(a.EntityType)

	var err error
	switch a.Kind {
	case KindAdd:
		out.Record, err = b.Add(ctx, a.Payload)
	case KindUpdate:
		out.Record, err = b.Update(ctx, a.Payload)
	case KindRemove:
		out.ID, err = b.remove(ctx, a.ID)
	case KindFetch:
		out.Records, err = b.Fetch(ctx)
	default:
		err = errors.NewValidationError("kind", fmt.Sprintf("unknown action kind %q", a.Kind))
	}
	return out, err
}
