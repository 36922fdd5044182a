/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/suparena/entitystate"
	"github.com/suparena/entitystate/config"
	"github.com/suparena/entitystate/events"
	"github.com/suparena/entitystate/logging"
	"github.com/suparena/entitystate/registry"
	"github.com/suparena/entitystate/storagemodels"
	"github.com/suparena/entitystate/transport"
	"github.com/suparena/entitystate/transport/ddb"
	"github.com/suparena/entitystate/transport/mock"
	"github.com/suparena/entitystate/transport/rest"
	"github.com/suparena/entitystate/transport/sqlite"
)

// session is one engine built for a single command run.
type session struct {
	engine *entitystate.Engine
	logger logging.Logger
	close  func() error
}

// newSession loads configuration, applies flag overrides and builds the
// engine with the selected transport.
func newSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration", err)
	}
	if opts.Transport != "" {
		cfg.Transport = strings.ToLower(strings.TrimSpace(opts.Transport))
	}
	if opts.EntitiesFile != "" {
		cfg.EntitiesFile = opts.EntitiesFile
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration", err)
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})

	endpoints := registry.NewEndpoints()
	if cfg.EntitiesFile != "" {
		endpoints, err = config.LoadEntities(cfg.EntitiesFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "entities", err)
		}
	}

	t, closeFn, err := buildTransport(cmd.Context(), cfg, endpoints, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "transport", err)
	}
	logger.Debug("engine ready", "transport", cfg.Transport, "entities", len(endpoints.Keys()))

	engine := entitystate.New(t,
		entitystate.WithEndpoints(endpoints),
		entitystate.WithLogger(logger),
	)
	return &session{engine: engine, logger: logger, close: closeFn}, nil
}

func buildTransport(ctx context.Context, cfg config.Config, endpoints *registry.Endpoints, logger logging.Logger) (transport.Transport, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Transport {
	case config.TransportREST:
		opts := []rest.Option{
			rest.WithTimeout(cfg.Timeout),
			rest.WithMaxRetries(cfg.MaxRetries),
			rest.WithLogger(logger),
		}
		if cfg.AuthToken != "" {
			opts = append(opts, rest.WithHeader("Authorization", "Bearer "+cfg.AuthToken))
		}
		return rest.New(cfg.BaseURL, opts...), noop, nil

	case config.TransportDDB:
		client, err := ddb.NewDynamoDBClient(ctx, cfg.AWSAccessKey, cfg.AWSSecretKey, cfg.AWSRegion, cfg.DDBEndpoint)
		if err != nil {
			return nil, nil, err
		}
		return ddb.New(client, cfg.DDBTable, endpoints,
			ddb.WithRetry(int(cfg.MaxRetries), ddb.DefaultRetryBackoff),
			ddb.WithLogger(logger),
		), noop, nil

	case config.TransportSQLite:
		store, err := sqlite.Open(cfg.SQLitePath, endpoints)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.TransportMemory:
		return mock.New(), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}

// watchEvents prints every event of the bundle as a JSON line.
func watchEvents(b *entitystate.Bundle, w io.Writer) (unsubscribe func()) {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	var unsubs []func()
	for _, name := range events.Names() {
		unsubs = append(unsubs, b.Subscribe(name, func(ev events.Event) {
			mu.Lock()
			defer mu.Unlock()
			_ = enc.Encode(ev)
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// parseData decodes a JSON object given on the command line into a record.
func parseData(data string) (storagemodels.Record, error) {
	if strings.TrimSpace(data) == "" {
		return nil, NewExitError(ExitCommandError, "--data is required")
	}
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var rec storagemodels.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --data", err)
	}
	if rec == nil {
		return nil, NewExitError(ExitCommandError, "--data must be a JSON object")
	}
	return storagemodels.Normalize(rec).(storagemodels.Record), nil
}
