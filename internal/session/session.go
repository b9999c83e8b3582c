// Package session manages Redshift connections. Each worker owns exactly one
// session for its lifetime; the provider caches sessions by worker identity
// so a worker reuses its connection across tables.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/schemaops/recomp/internal/config"
	"github.com/schemaops/recomp/internal/logging"
)

// ErrNoConnection indicates the initial cluster connection could not be
// established. Fatal to the whole run before any work starts.
var ErrNoConnection = errors.New("unable to connect to cluster endpoint")

// ErrSchemaNotFound indicates the analysis schema does not exist on the
// cluster.
var ErrSchemaNotFound = errors.New("schema does not exist")

// invalidSchemaName is the engine error code raised when a schema named in
// the search path does not exist.
const invalidSchemaName = "3F000"

// Session owns one pinned database connection. It is exclusively owned by
// the worker that created it and must never cross worker boundaries.
type Session struct {
	conn     *sql.Conn
	workerID int
}

// Exec runs a statement on the session's connection.
func (s *Session) Exec(ctx context.Context, query string) error {
	_, err := s.conn.ExecContext(ctx, query)
	return err
}

// Query runs a query on the session's connection.
func (s *Session) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

// QueryContext makes Session satisfy the querier interfaces consumed by the
// catalog, analyzer, and selector packages.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, query, args...)
}

// ExecContext makes Session satisfy the execer interfaces consumed by the
// executor package.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, query, args...)
}

// Rollback aborts the session's current transaction, if any. Rolling back
// outside a transaction is a no-op warning on the engine side.
func (s *Session) Rollback(ctx context.Context) error {
	return s.Exec(ctx, "rollback")
}

// WorkerID returns the identity of the owning worker.
func (s *Session) WorkerID() int {
	return s.workerID
}

// Close returns the underlying connection to the pool and closes it.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Provider hands out one session per worker identity, created lazily on
// first use and cached for the worker's lifetime.
type Provider struct {
	db  *sql.DB
	cfg *config.Config

	mu       sync.Mutex
	sessions map[int]*Session
}

// NewProvider opens the cluster endpoint and verifies connectivity. A
// failure here is ErrNoConnection: nothing can proceed without it.
func NewProvider(cfg *config.Config) (*Provider, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConnection, err)
	}

	// One pinned connection per worker plus the controller's session.
	db.SetMaxOpenConns(cfg.Analysis.Workers + 1)
	db.SetMaxIdleConns(cfg.Analysis.Workers + 1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoConnection, err)
	}

	return &Provider{
		db:       db,
		cfg:      cfg,
		sessions: make(map[int]*Session),
	}, nil
}

// Session returns the cached session for a worker, creating and configuring
// it on first use.
func (p *Provider) Session(ctx context.Context, workerID int) (*Session, error) {
	p.mu.Lock()
	if s, ok := p.sessions[workerID]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	s, err := p.connect(ctx, workerID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.sessions[workerID] = s
	p.mu.Unlock()

	return s, nil
}

// connect pins a dedicated connection and applies the fixed session
// configuration: search path, optional WLM slot count, and a long statement
// timeout.
func (p *Provider) connect(ctx context.Context, workerID int) (*Session, error) {
	logging.Debug("connect [%d] %s:%d:%s:%s", workerID,
		p.cfg.Cluster.Host, p.cfg.Cluster.Port, p.cfg.Cluster.Database, p.cfg.Cluster.User)

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConnection, err)
	}

	s := &Session{conn: conn, workerID: workerID}

	searchPath := fmt.Sprintf("set search_path = '$user', public, %s", p.cfg.Analysis.Schema)
	if p.cfg.Analysis.TargetSchema != p.cfg.Analysis.Schema {
		searchPath += ", " + p.cfg.Analysis.TargetSchema
	}
	if err := s.Exec(ctx, searchPath); err != nil {
		conn.Close()
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == invalidSchemaName {
			return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, p.cfg.Analysis.Schema)
		}
		return nil, fmt.Errorf("setting search path: %w", err)
	}

	if p.cfg.Analysis.SlotCount != 1 {
		stmt := fmt.Sprintf("set wlm_query_slot_count = %d", p.cfg.Analysis.SlotCount)
		if err := s.Exec(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting query slot count: %w", err)
		}
	}

	timeout := fmt.Sprintf("set statement_timeout = '%d'", config.StatementTimeoutMS)
	if err := s.Exec(ctx, timeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting statement timeout: %w", err)
	}

	return s, nil
}

// Close releases every cached session and the underlying pool.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, s := range p.sessions {
		if err := s.Close(); err != nil {
			logging.Debug("closing session %d: %v", id, err)
		}
	}
	p.sessions = make(map[int]*Session)
	p.db.Close()
}
