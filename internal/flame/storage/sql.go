package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/flame-sh/flame/internal/flame/model"
)

// SQLPersister write-through-persists Applications and Sessions to a
// relational store. Driver selection is by URL scheme: "sqlite://" (the
// default) opens go-sqlite3; "postgres://" opens pgx's database/sql
// adapter. Schema is intentionally minimal — only what's needed to
// round-trip the §3 entity invariants across a restart.
type SQLPersister struct {
	db *sql.DB
}

// NewSQLPersister opens (and schema-initializes) the store at url.
func NewSQLPersister(url string) (*SQLPersister, error) {
	driver, dsn, err := parseURL(url)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open storage %s: %w", url, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	p := &SQLPersister{db: db}
	if err := p.initSchema(driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return p, nil
}

func parseURL(url string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(url, "sqlite://") + "?_foreign_keys=on&_journal_mode=WAL", nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "pgx", url, nil
	default:
		return "", "", fmt.Errorf("unsupported storage url scheme: %s", url)
	}
}

func (p *SQLPersister) initSchema(driver string) error {
	autoinc := "AUTOINCREMENT"
	blobType := "BLOB"
	if driver == "pgx" {
		autoinc = ""
		blobType = "BYTEA"
	}
	_, err := p.db.Exec(fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS applications (
		name TEXT PRIMARY KEY,
		shim TEXT NOT NULL,
		command TEXT DEFAULT '',
		url TEXT DEFAULT '',
		arguments TEXT DEFAULT '[]',
		environment TEXT DEFAULT '{}',
		working_directory TEXT DEFAULT '',
		max_instances INTEGER DEFAULT 1,
		delay_release_ms INTEGER DEFAULT 100
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY %s,
		application TEXT NOT NULL,
		slots INTEGER NOT NULL,
		common_data %s,
		state TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		completion_time DATETIME
	);
	`, autoinc, blobType))
	return err
}

// Close closes the underlying database connection.
func (p *SQLPersister) Close() error { return p.db.Close() }

func (p *SQLPersister) SaveApplication(ctx context.Context, app *model.Application) error {
	args, err := json.Marshal(app.Arguments)
	if err != nil {
		return err
	}
	env, err := json.Marshal(app.Environment)
	if err != nil {
		return err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO applications (name, shim, command, url, arguments, environment, working_directory, max_instances, delay_release_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET
			shim = excluded.shim, command = excluded.command, url = excluded.url,
			arguments = excluded.arguments, environment = excluded.environment,
			working_directory = excluded.working_directory, max_instances = excluded.max_instances,
			delay_release_ms = excluded.delay_release_ms
	`, app.Name, app.Shim, app.Command, app.URL, string(args), string(env), app.WorkingDir,
		app.MaxInstances, app.DelayRelease.Milliseconds())
	return err
}

func (p *SQLPersister) SaveSession(ctx context.Context, ssn *model.Session) error {
	var completion *time.Time
	if ssn.CompletionTime != nil {
		completion = ssn.CompletionTime
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sessions (id, application, slots, common_data, state, created_at, completion_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state, completion_time = excluded.completion_time
	`, ssn.ID, ssn.Application, ssn.Slots, ssn.CommonData, string(ssn.State), ssn.CreatedAt, completion)
	return err
}
