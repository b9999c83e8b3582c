// Package history records run and per-table outcomes in a local SQLite
// database. It is an audit log of what the tool did, queried by the
// `recomp history` command; losing it never affects a run.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
create table if not exists runs (
	id            text primary key,
	started_at    timestamp not null,
	completed_at  timestamp,
	schema_name   text not null,
	target_schema text not null,
	table_scope   text,
	workers       integer not null,
	executed      integer not null,
	status        text not null,
	error         text
);

create table if not exists run_tables (
	id          integer primary key autoincrement,
	run_id      text not null references runs(id),
	table_name  text not null,
	action      text not null,
	error       text,
	duration_ms integer not null,
	recorded_at timestamp not null
);

create index if not exists idx_run_tables_run on run_tables(run_id);
`

// Table outcome actions recorded per table.
const (
	ActionSkipped  = "skipped"  // no migration needed
	ActionPlanned  = "planned"  // plan emitted, execution disabled
	ActionMigrated = "migrated" // plan executed successfully
	ActionFailed   = "failed"
)

// Run is one recorded invocation.
type Run struct {
	ID           string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Schema       string
	TargetSchema string
	TableScope   string
	Workers      int
	Executed     bool
	Status       string
	Error        string
}

// TableRecord is one per-table outcome within a run.
type TableRecord struct {
	Table      string
	Action     string
	Error      string
	Duration   time.Duration
	RecordedAt time.Time
}

// Store persists run history in a SQLite file.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default history database location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".recomp")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating history directory: %w", err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (creating if necessary) the history database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// Writers from multiple workers funnel through one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}

	return &Store{db: db}, nil
}

// CreateRun records the start of a run.
func (s *Store) CreateRun(id, schemaName, targetSchema, tableScope string, workers int, executed bool) error {
	_, err := s.db.Exec(
		`insert into runs (id, started_at, schema_name, target_schema, table_scope, workers, executed, status)
		 values (?, ?, ?, ?, ?, ?, ?, 'running')`,
		id, time.Now().UTC(), schemaName, targetSchema, tableScope, workers, executed,
	)
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// CompleteRun records the final status of a run.
func (s *Store) CompleteRun(id, status, errMsg string) error {
	_, err := s.db.Exec(
		`update runs set completed_at = ?, status = ?, error = ? where id = ?`,
		time.Now().UTC(), status, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("recording run completion: %w", err)
	}
	return nil
}

// RecordTable records one per-table outcome.
func (s *Store) RecordTable(runID, table, action, errMsg string, duration time.Duration) error {
	_, err := s.db.Exec(
		`insert into run_tables (run_id, table_name, action, error, duration_ms, recorded_at)
		 values (?, ?, ?, ?, ?, ?)`,
		runID, table, action, errMsg, duration.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording table outcome: %w", err)
	}
	return nil
}

// ListRuns returns all recorded runs, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(
		`select id, started_at, completed_at, schema_name, target_schema,
		        coalesce(table_scope, ''), workers, executed, status, coalesce(error, '')
		 from runs order by started_at desc`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var completed sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &completed, &r.Schema, &r.TargetSchema,
			&r.TableScope, &r.Workers, &r.Executed, &r.Status, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if completed.Valid {
			t := completed.Time
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunTables returns the per-table outcomes of one run in recording order.
func (s *Store) RunTables(runID string) ([]TableRecord, error) {
	rows, err := s.db.Query(
		`select table_name, action, coalesce(error, ''), duration_ms, recorded_at
		 from run_tables where run_id = ? order by id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing run tables: %w", err)
	}
	defer rows.Close()

	var records []TableRecord
	for rows.Next() {
		var rec TableRecord
		var ms int64
		if err := rows.Scan(&rec.Table, &rec.Action, &rec.Error, &ms, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning table record: %w", err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
