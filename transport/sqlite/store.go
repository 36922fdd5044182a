/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package sqlite provides a local SQLite implementation of transport.Transport.
// Records are stored as JSON documents keyed by entity type and id and are
// listed in insertion order.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/suparena/entitystate/errors"
	"github.com/suparena/entitystate/registry"
	"github.com/suparena/entitystate/storagemodels"
	"github.com/suparena/entitystate/transport"
)

//go:embed schema.sql
var schema string

// Store persists records in a SQLite database file.
type Store struct {
	sqlDB     *sql.DB
	endpoints *registry.Endpoints
	newID     func() string
	now       func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, endpoints *registry.Endpoints) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if endpoints == nil {
		endpoints = registry.NewEndpoints()
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{
		sqlDB:     sqlDB,
		endpoints: endpoints,
		newID:     uuid.NewString,
		now:       time.Now,
	}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Create inserts a record. Records without an id get a UUID; an existing id
// is reported as a 409.
func (s *Store) Create(ctx context.Context, path string, body storagemodels.Record) (storagemodels.Record, error) {
	key, err := s.collection(transport.OpCreate, path)
	if err != nil {
		return nil, err
	}

	rec := body.Clone()
	if rec == nil {
		rec = storagemodels.Record{}
	}
	if _, ok := rec[storagemodels.IDField]; !ok {
		rec[storagemodels.IDField] = s.newID()
	}
	id, err := rec.ID()
	if err != nil {
		return nil, errors.NewTransportError(string(transport.OpCreate), path, http.StatusBadRequest, err.Error())
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.NewTransportError(string(transport.OpCreate), path, http.StatusBadRequest, err.Error())
	}

	now := s.now().UTC().UnixMilli()
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO records (entity_type, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		key, id.String(), string(data), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.NewTransportError(string(transport.OpCreate), path, http.StatusConflict,
				fmt.Sprintf("%s %s already exists", key, id))
		}
		return nil, errors.WrapTransport(string(transport.OpCreate), path, fmt.Errorf("insert record: %w", err))
	}
	return rec, nil
}

// List returns the records of the entity type in insertion order.
func (s *Store) List(ctx context.Context, path string) ([]storagemodels.Record, error) {
	key, err := s.collection(transport.OpList, path)
	if err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT body FROM records WHERE entity_type = ? ORDER BY seq`, key)
	if err != nil {
		return nil, errors.WrapTransport(string(transport.OpList), path, fmt.Errorf("list records: %w", err))
	}
	defer rows.Close()

	out := make([]storagemodels.Record, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, errors.WrapTransport(string(transport.OpList), path, fmt.Errorf("scan record: %w", err))
		}
		rec, err := decodeRecord(body)
		if err != nil {
			return nil, errors.WrapTransport(string(transport.OpList), path, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransport(string(transport.OpList), path, fmt.Errorf("iterate records: %w", err))
	}
	return out, nil
}

// Update merges body into the stored record and returns the result. A
// missing record is reported as a 404.
func (s *Store) Update(ctx context.Context, path string, body storagemodels.Record) (storagemodels.Record, error) {
	key, id, err := s.item(transport.OpUpdate, path)
	if err != nil {
		return nil, err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WrapTransport(string(transport.OpUpdate), path, fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	var stored string
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM records WHERE entity_type = ? AND id = ?`, key, id.String()).Scan(&stored)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.WrapTransport(string(transport.OpUpdate), path, errors.NewNotFoundError(key, id.String()))
	}
	if err != nil {
		return nil, errors.WrapTransport(string(transport.OpUpdate), path, fmt.Errorf("load record: %w", err))
	}
	current, err := decodeRecord(stored)
	if err != nil {
		return nil, errors.WrapTransport(string(transport.OpUpdate), path, err)
	}

	merged := current.Merge(body)
	merged[storagemodels.IDField] = current[storagemodels.IDField]
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.NewTransportError(string(transport.OpUpdate), path, http.StatusBadRequest, err.Error())
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET body = ?, updated_at = ? WHERE entity_type = ? AND id = ?`,
		string(data), s.now().UTC().UnixMilli(), key, id.String(),
	); err != nil {
		return nil, errors.WrapTransport(string(transport.OpUpdate), path, fmt.Errorf("update record: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.WrapTransport(string(transport.OpUpdate), path, fmt.Errorf("commit: %w", err))
	}
	return merged, nil
}

// Delete removes the record. A missing record is reported as a 404.
func (s *Store) Delete(ctx context.Context, path string) error {
	key, id, err := s.item(transport.OpDelete, path)
	if err != nil {
		return err
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM records WHERE entity_type = ? AND id = ?`, key, id.String())
	if err != nil {
		return errors.WrapTransport(string(transport.OpDelete), path, fmt.Errorf("delete record: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapTransport(string(transport.OpDelete), path, fmt.Errorf("rows affected: %w", err))
	}
	if n == 0 {
		return errors.WrapTransport(string(transport.OpDelete), path, errors.NewNotFoundError(key, id.String()))
	}
	return nil
}

func (s *Store) collection(op transport.Op, path string) (string, error) {
	key, _, isItem, err := s.endpoints.ParsePath(path)
	if err != nil {
		return "", errors.NewTransportError(string(op), path, http.StatusBadRequest, err.Error())
	}
	if isItem {
		return "", errors.NewTransportError(string(op), path, http.StatusBadRequest, "expected a collection path")
	}
	return key, nil
}

func (s *Store) item(op transport.Op, path string) (string, storagemodels.ID, error) {
	key, id, isItem, err := s.endpoints.ParsePath(path)
	if err != nil {
		return "", "", errors.NewTransportError(string(op), path, http.StatusBadRequest, err.Error())
	}
	if !isItem {
		return "", "", errors.NewTransportError(string(op), path, http.StatusBadRequest, "expected an item path")
	}
	return key, id, nil
}

func decodeRecord(body string) (storagemodels.Record, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var rec storagemodels.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return storagemodels.Normalize(rec).(storagemodels.Record), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if stderrors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ transport.Transport = (*Store)(nil)
