// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package modload

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"punchdrunk.256lights.llc/pkg/internal/luacode"
	"zombiezen.com/go/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Cache is a SQLite database of downloaded chunks.
// Chunks are stored in CBOR encoding regardless of how they were fetched.
// A Cache is safe to use from multiple goroutines.
type Cache struct {
	db *sqlitemigration.Pool
}

// OpenCache opens the cache database at the given path,
// creating it if necessary.
// The schema is migrated lazily on first use.
func OpenCache(path string) *Cache {
	return &Cache{
		db: sqlitemigration.NewPool(path, loadSchema(), sqlitemigration.Options{
			Flags:       sqlite.OpenCreate | sqlite.OpenReadWrite,
			PrepareConn: prepareConn,
			OnStartMigrate: func() {
				ctx := context.Background()
				log.Debugf(ctx, "Migrating chunk cache...")
			},
			OnReady: func() {
				ctx := context.Background()
				log.Debugf(ctx, "Chunk cache ready")
			},
			OnError: func(err error) {
				ctx := context.Background()
				log.Errorf(ctx, "Chunk cache migration: %v", err)
			},
		}),
	}
}

// Close releases the database connections.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the CBOR-encoded chunk stored for location.
// Entries fetched before notBefore are ignored.
// If no usable entry exists, Get returns an error
// for which errors.Is(err, fs.ErrNotExist) reports true.
func (c *Cache) Get(ctx context.Context, location string, notBefore time.Time) ([]byte, error) {
	conn, err := c.db.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get %s from cache: %v", location, err)
	}
	defer c.db.Put(conn)

	var data []byte
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "get.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":location":   location,
			":not_before": unixOrZero(notBefore),
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			data = make([]byte, stmt.GetLen("data"))
			stmt.GetBytes("data", data)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get %s from cache: %v", location, err)
	}
	if data == nil {
		return nil, fmt.Errorf("get %s from cache: %w", location, fs.ErrNotExist)
	}
	return data, nil
}

// Put stores p for location, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, location string, p *luacode.Prototype, fetchedAt time.Time) (err error) {
	data, err := p.Encode(luacode.FormatCBOR)
	if err != nil {
		return fmt.Errorf("put %s in cache: %v", location, err)
	}
	conn, err := c.db.Get(ctx)
	if err != nil {
		return fmt.Errorf("put %s in cache: %v", location, err)
	}
	defer c.db.Put(conn)

	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "put.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":location":   location,
			":data":       data,
			":fetched_at": fetchedAt.Unix(),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s in cache: %v", location, err)
	}
	return nil
}

// Prune deletes entries fetched before the given time
// and returns the number of entries removed.
func (c *Cache) Prune(ctx context.Context, before time.Time) (n int, err error) {
	conn, err := c.db.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune cache: %v", err)
	}
	defer c.db.Put(conn)

	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "prune.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":before": before.Unix(),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("prune cache: %v", err)
	}
	return conn.Changes(), nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func prepareConn(conn *sqlite.Conn) error {
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode = wal;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA busy_timeout = 5000;", nil); err != nil {
		return err
	}
	return nil
}

//go:embed sql/*.sql
//go:embed sql/schema/*.sql
var rawSQLFiles embed.FS

func sqlFiles() fs.FS {
	sub, err := fs.Sub(rawSQLFiles, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

var schemaState struct {
	init   sync.Once
	schema sqlitemigration.Schema
	err    error
}

func loadSchema() sqlitemigration.Schema {
	schemaState.init.Do(func() {
		for i := 1; ; i++ {
			migration, err := fs.ReadFile(sqlFiles(), fmt.Sprintf("schema/%02d.sql", i))
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			if err != nil {
				schemaState.err = err
				return
			}
			schemaState.schema.Migrations = append(schemaState.schema.Migrations, string(migration))
		}
	})

	if schemaState.err != nil {
		panic(schemaState.err)
	}
	return schemaState.schema
}
