// Package analyzer invokes the engine's built-in compression analysis for a
// table and returns its per-column encoding recommendations.
package analyzer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/schemaops/recomp/internal/logging"
)

// RawEncoding is the engine's no-op encoding sentinel. A recommendation of
// raw means the column is best left uncompressed.
const RawEncoding = "raw"

const (
	// DefaultMaxAttempts bounds the retry loop. Analyze compression competes
	// for WLM slots and can fail transiently on a busy cluster.
	DefaultMaxAttempts = 10

	// DefaultBaseDelay is the exponential backoff base unit.
	DefaultBaseDelay = 100 * time.Millisecond
)

// Recommendation is the engine's suggested encoding for one column, matched
// against catalog metadata by column name.
type Recommendation struct {
	Table        string
	Column       string
	Encoding     string
	ReductionPct float64
}

// ExhaustedError reports that every analysis attempt for a table failed.
// Fatal to that table only.
type ExhaustedError struct {
	Table    string
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("analysis of %s exhausted after %d attempts: %v", e.Table, e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// session is the narrow surface the analyzer needs: issuing the analysis
// query and aborting the transaction between attempts.
type session interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Rollback(ctx context.Context) error
}

// Analyzer runs analyze compression with bounded exponential backoff.
type Analyzer struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep is replaceable in tests so the backoff schedule can be observed
	// without waiting it out.
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an analyzer with the default retry discipline.
func New() *Analyzer {
	return &Analyzer{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Statement builds the analysis statement for a table, optionally bounding
// the sample size.
func Statement(table string, comprows int) string {
	stmt := fmt.Sprintf("analyze compression %s", table)
	if comprows > 0 {
		stmt += fmt.Sprintf(" comprows %d", comprows)
	}
	return stmt
}

// Analyze requests encoding recommendations for one table. Transient
// failures are retried up to MaxAttempts times with a delay of
// 2^n * BaseDelay before the n-th retry, rolling back the session's
// transaction after each failure. Cancellation propagates immediately
// without retry.
func (a *Analyzer) Analyze(ctx context.Context, sess session, table string, comprows int) ([]Recommendation, error) {
	stmt := Statement(table, comprows)

	sleep := a.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt < a.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := a.BaseDelay * time.Duration(1<<attempt)
			logging.Debug("retrying analysis of %s in %v (attempt %d/%d): %v",
				table, delay, attempt+1, a.MaxAttempts, lastErr)
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		recs, err := a.analyzeOnce(ctx, sess, stmt)
		if err == nil {
			return recs, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}

		lastErr = err
		if rbErr := sess.Rollback(ctx); rbErr != nil {
			logging.Debug("rollback after failed analysis of %s: %v", table, rbErr)
		}
	}

	return nil, &ExhaustedError{Table: table, Attempts: a.MaxAttempts, LastErr: lastErr}
}

func (a *Analyzer) analyzeOnce(ctx context.Context, sess session, stmt string) ([]Recommendation, error) {
	rows, err := sess.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Recommendation
	for rows.Next() {
		var r Recommendation
		var reduction sql.NullFloat64
		if err := rows.Scan(&r.Table, &r.Column, &r.Encoding, &reduction); err != nil {
			return nil, err
		}
		r.ReductionPct = reduction.Float64
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return recs, nil
}
