package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/torfstack/smog/internal/logging"
	_ "modernc.org/sqlite"
)

const FileName = "smog.sqlite"

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its dialect, filesystem and logger in package globals.
var migrateMu sync.Mutex

type Database struct {
	db *sql.DB
}

// New opens the state database inside dir, creating dir and the database
// when they do not exist, and migrates it to the latest schema.
func New(ctx context.Context, dir string) (*Database, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create database directory '%s': %w", dir, err)
	}
	fp := filepath.Join(dir, FileName)
	sqlDb, err := sql.Open("sqlite", fp)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	// sqlite allows a single writer; concurrent reindex tasks queue here
	// instead of failing with SQLITE_BUSY.
	sqlDb.SetMaxOpenConns(1)

	d := &Database{sqlDb}
	err = d.runMigrations(ctx)
	if err != nil {
		_ = sqlDb.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}
	return d, nil
}

func (d *Database) runMigrations(ctx context.Context) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	err := goose.SetDialect("sqlite")
	if err != nil {
		return fmt.Errorf("could not set dialect 'sqlite': %w", err)
	}
	goose.SetLogger(logging.GooseLogger{})
	goose.SetBaseFS(embedMigrations)

	if err = goose.UpContext(ctx, d.db, "migrations"); err != nil {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *Database) Queries() *Queries {
	return &Queries{d.db}
}
