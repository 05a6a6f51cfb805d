// Copyright 2024 ShortFUSE Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dbfs backs file nodes with a SQLite content store: content is
// read from the blobs table on first open and written back when the last
// handle closes.
package dbfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/redballoonsecurity/shortfuse/internal/util"
)

// Default busy_timeout in milliseconds (30 seconds)
const defaultBusyTimeout = 30000

// BlobModel represents one file's content, keyed by tree path.
type BlobModel struct {
	bun.BaseModel `bun:"table:blobs"`

	Path      string `bun:"path,pk"`
	Data      []byte `bun:"data,notnull"`
	UpdatedAt int64  `bun:"updated_at,notnull"` // Unix timestamp
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS blobs (
    path TEXT PRIMARY KEY,
    data BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// buildDSN builds the SQLite DSN with WAL journaling and a busy_timeout to
// ride out checkpoint contention with other store handles.
func buildDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, defaultBusyTimeout)
}

// Store is the content database behind a dbfs tree.
type Store struct {
	db *bun.DB
}

// OpenStore opens (creating if needed) the content database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sql.Open("libsql", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	if _, err := db.ExecContext(ctx, storeSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadContent returns the stored content for a tree path, nil when the
// store holds nothing for it yet.
func (s *Store) LoadContent(ctx context.Context, path string) ([]byte, error) {
	return util.RetryWithResult(ctx, func() ([]byte, error) {
		var blob BlobModel
		err := s.db.NewSelect().
			Model(&blob).
			Where("path = ?", path).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return blob.Data, nil
	}, util.DatabaseRetryOptions(ctx)...)
}

// SaveContent upserts the content for a tree path. Transient lock errors
// from a concurrent store handle are retried.
func (s *Store) SaveContent(ctx context.Context, path string, data []byte) error {
	return util.Retry(ctx, func() error {
		_, err := s.db.NewInsert().
			Model(&BlobModel{Path: path, Data: data, UpdatedAt: time.Now().Unix()}).
			On("CONFLICT (path) DO UPDATE").
			Set("data = EXCLUDED.data").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	}, util.DatabaseRetryOptions(ctx)...)
}

// DeleteContent drops the content row for a tree path. Deleting a path
// with no row is a no-op.
func (s *Store) DeleteContent(ctx context.Context, path string) error {
	return util.Retry(ctx, func() error {
		_, err := s.db.NewDelete().
			Model((*BlobModel)(nil)).
			Where("path = ?", path).
			Exec(ctx)
		return err
	}, util.DatabaseRetryOptions(ctx)...)
}

// Paths lists every stored tree path oldest-first.
func (s *Store) Paths(ctx context.Context) ([]string, error) {
	var paths []string
	err := s.db.NewSelect().
		Model((*BlobModel)(nil)).
		Column("path").
		Order("updated_at ASC").
		Scan(ctx, &paths)
	return paths, err
}
