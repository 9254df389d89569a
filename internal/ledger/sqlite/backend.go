// Package sqlite provides a SQLite-backed transfer ledger.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/gezibash/blobsync/internal/ledger"
	"github.com/gezibash/blobsync/internal/storage"
)

const (
	KeyPath        = "path"
	KeyJournalMode = "journal_mode"
	KeyBusyTimeout = "busy_timeout"

	// MemoryPath keeps the database in memory for the life of the backend.
	MemoryPath = ":memory:"
)

func init() {
	ledger.Register("sqlite", NewFactory, Defaults)
}

// Defaults returns the default configuration for the SQLite backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:        "~/.blobsync/ledger.db",
		KeyJournalMode: "wal",
		KeyBusyTimeout: "5000",
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS transfers (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    key             TEXT NOT NULL,
    local_path      TEXT NOT NULL,
    direction       TEXT NOT NULL,
    strategy        TEXT NOT NULL,
    size_bytes      INTEGER NOT NULL,
    blocks          INTEGER NOT NULL,
    last_write_time INTEGER NOT NULL DEFAULT 0,
    completed_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transfers_key ON transfers(key, direction, completed_at);
CREATE INDEX IF NOT EXISTS idx_transfers_completed ON transfers(completed_at, id);
`

const columns = `id, key, local_path, direction, strategy, size_bytes, blocks, last_write_time, completed_at`

// NewFactory creates a new SQLite ledger from a configuration map.
func NewFactory(_ context.Context, config map[string]string) (ledger.Backend, error) {
	path := storage.GetString(config, KeyPath, "")
	if path == "" {
		return nil, storage.NewConfigError("sqlite", KeyPath, "cannot be empty")
	}

	busyTimeout, err := storage.GetInt(config, KeyBusyTimeout, 5000)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue("sqlite", KeyBusyTimeout, config[KeyBusyTimeout], err.Error())
	}
	journalMode := storage.GetString(config, KeyJournalMode, "wal")

	var dsn string
	if path == MemoryPath {
		dsn = fmt.Sprintf("file::memory:?_pragma=busy_timeout(%d)", busyTimeout)
	} else {
		path = storage.ExpandPath(path)
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to create directory", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)", path, journalMode, busyTimeout)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to open database", err)
	}

	// A single connection keeps an in-memory database alive and serializes
	// writers on disk.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to initialize schema", err)
	}

	slog.Info("sqlite ledger initialized", "path", path, "journal_mode", journalMode)
	return &Backend{db: db}, nil
}

// Backend is a SQLite implementation of ledger.Backend.
type Backend struct {
	db     *sql.DB
	closed atomic.Bool
}

// Record appends an entry.
func (b *Backend) Record(ctx context.Context, entry *ledger.Entry) error {
	if b.closed.Load() {
		return ledger.ErrClosed
	}

	res, err := b.db.ExecContext(ctx,
		`INSERT INTO transfers (key, local_path, direction, strategy, size_bytes, blocks, last_write_time, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Key, entry.LocalPath, entry.Direction, entry.Strategy,
		entry.SizeBytes, entry.Blocks,
		ledger.UnixNano(entry.LastWriteTime), ledger.UnixNano(entry.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite record: last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// Last returns the most recent entry for key and direction.
func (b *Backend) Last(ctx context.Context, key, direction string) (*ledger.Entry, error) {
	if b.closed.Load() {
		return nil, ledger.ErrClosed
	}

	row := b.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM transfers
		 WHERE key = ? AND direction = ?
		 ORDER BY completed_at DESC, id DESC LIMIT 1`,
		key, direction,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite last: %w", err)
	}
	return entry, nil
}

// List returns entries newest first.
func (b *Backend) List(ctx context.Context, opts *ledger.ListOptions) ([]*ledger.Entry, error) {
	if b.closed.Load() {
		return nil, ledger.ErrClosed
	}
	if opts == nil {
		opts = &ledger.ListOptions{}
	}

	var qb strings.Builder
	var args []any
	qb.WriteString(`SELECT ` + columns + ` FROM transfers WHERE 1=1`)
	if opts.Prefix != "" {
		qb.WriteString(` AND substr(key, 1, length(?)) = ?`)
		args = append(args, opts.Prefix, opts.Prefix)
	}
	if opts.Direction != "" {
		qb.WriteString(` AND direction = ?`)
		args = append(args, opts.Direction)
	}
	qb.WriteString(` ORDER BY completed_at DESC, id DESC LIMIT ?`)
	args = append(args, opts.EffectiveLimit())

	rows, err := b.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite list: scan: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close closes the SQLite database.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*ledger.Entry, error) {
	var e ledger.Entry
	var lastWrite, completed int64
	if err := s.Scan(&e.ID, &e.Key, &e.LocalPath, &e.Direction, &e.Strategy,
		&e.SizeBytes, &e.Blocks, &lastWrite, &completed); err != nil {
		return nil, err
	}
	e.LastWriteTime = ledger.FromUnixNano(lastWrite)
	e.CompletedAt = ledger.FromUnixNano(completed)
	return &e, nil
}
