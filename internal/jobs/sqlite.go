package jobs

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteLedger persists jobs in a SQLite database so submissions survive
// a coordinator restart.
type SQLiteLedger struct{ db *sql.DB }

var _ Ledger = (*SQLiteLedger)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema. ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening job ledger %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent and
	// serializes writers.
	db.SetMaxOpenConns(1)

	l := &SQLiteLedger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *SQLiteLedger) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := l.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (l *SQLiteLedger) Ping(ctx context.Context) error {
	if l.db == nil {
		return errors.New("db not initialized")
	}
	return l.db.PingContext(ctx)
}

func (l *SQLiteLedger) Record(ctx context.Context, job Job) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO jobs (handle, name, payload, submitted_at) VALUES (?, ?, ?, ?)`,
		string(job.Handle), job.Name, job.Payload, job.SubmittedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicate, job.Handle)
		}
		return fmt.Errorf("recording job %s: %w", job.Handle, err)
	}
	return nil
}

func (l *SQLiteLedger) Get(ctx context.Context, handle Handle) (Job, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT handle, name, payload, submitted_at FROM jobs WHERE handle = ?`, string(handle))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", handle, err)
	}
	return job, nil
}

func (l *SQLiteLedger) List(ctx context.Context) ([]Job, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT handle, name, payload, submitted_at FROM jobs ORDER BY submitted_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("listing jobs: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (Job, error) {
	var (
		handle, name string
		payload      []byte
		submitted    int64
	)
	if err := s.Scan(&handle, &name, &payload, &submitted); err != nil {
		return Job{}, err
	}
	return Job{
		Handle:      Handle(handle),
		Name:        name,
		Payload:     payload,
		SubmittedAt: time.Unix(0, submitted).UTC(),
	}, nil
}
