// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Storage keys
const (
	KeyDevices    = "btDevices"
	KeyBrands     = "brands"
	KeyCategories = "categories"
	KeyLearned    = "learnedCommands"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// KV is the key-value persistence collaborator
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

const (
	upsertKVSQL = `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			updated_at=excluded.updated_at
	`

	selectKVSQL = `SELECT value FROM kv WHERE key=?`

	deleteKVSQL = `DELETE FROM kv WHERE key=?`
)

// SQLiteKV implements KV over the kv table
type SQLiteKV struct {
	db *sql.DB
}

func NewSQLiteKV(db *sql.DB) *SQLiteKV { return &SQLiteKV{db: db} }

// Get returns the value stored under key. A missing key is not an error.
func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, selectKVSQL, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return []byte(value), true, nil
}

// Set upserts value under key
func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, upsertKVSQL, key, string(value), time.Now().UTC()); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *SQLiteKV) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, deleteKVSQL, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// loadJSON decodes the blob under key into out. A missing key leaves out
// untouched and reports false.
func loadJSON(ctx context.Context, kv KV, key string, out interface{}) (bool, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func saveJSON(ctx context.Context, kv KV, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return kv.Set(ctx, key, raw)
}
