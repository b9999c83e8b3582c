package analyzer

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// fakeSession wraps a sqlmock-backed DB and counts rollbacks.
type fakeSession struct {
	db        *sql.DB
	rollbacks int
}

func (f *fakeSession) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return f.db.QueryContext(ctx, query, args...)
}

func (f *fakeSession) Rollback(ctx context.Context) error {
	f.rollbacks++
	return nil
}

func newFake(t *testing.T) (*fakeSession, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return &fakeSession{db: db}, mock
}

func recommendationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"Table", "Column", "Encoding", "Est_reduction_pct"}).
		AddRow("events", "id", "raw", 0.0).
		AddRow("events", "ts", "delta", 32.5).
		AddRow("events", "payload", "lzo", 61.2)
}

func TestStatement(t *testing.T) {
	if got := Statement("events", 0); got != "analyze compression events" {
		t.Errorf("Statement = %q", got)
	}
	if got := Statement("events", 100000); got != "analyze compression events comprows 100000" {
		t.Errorf("Statement with comprows = %q", got)
	}
}

func TestAnalyzeFirstAttempt(t *testing.T) {
	sess, mock := newFake(t)
	mock.ExpectQuery(`analyze compression events`).WillReturnRows(recommendationRows())

	a := New()
	var slept []time.Duration
	a.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	recs, err := a.Analyze(context.Background(), sess, "events", 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if len(recs) != 3 {
		t.Fatalf("expected 3 recommendations, got %d", len(recs))
	}
	if recs[1].Column != "ts" || recs[1].Encoding != "delta" {
		t.Errorf("unexpected recommendation: %+v", recs[1])
	}
	if len(slept) != 0 {
		t.Errorf("expected no backoff sleeps, got %v", slept)
	}
	if sess.rollbacks != 0 {
		t.Errorf("expected no rollbacks, got %d", sess.rollbacks)
	}
}

func TestAnalyzeRetriesThenSucceeds(t *testing.T) {
	sess, mock := newFake(t)
	mock.ExpectQuery(`analyze compression events`).WillReturnError(errors.New("wlm slot busy"))
	mock.ExpectQuery(`analyze compression events`).WillReturnError(errors.New("wlm slot busy"))
	mock.ExpectQuery(`analyze compression events`).WillReturnRows(recommendationRows())

	a := New()
	var slept []time.Duration
	a.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	recs, err := a.Analyze(context.Background(), sess, "events", 0)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 recommendations, got %d", len(recs))
	}

	// Delay before the n-th retry is 2^n * base.
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, slept[i], want[i])
		}
	}
	if sess.rollbacks != 2 {
		t.Errorf("expected 2 rollbacks, got %d", sess.rollbacks)
	}
}

func TestAnalyzeExhausted(t *testing.T) {
	sess, mock := newFake(t)
	for i := 0; i < DefaultMaxAttempts; i++ {
		mock.ExpectQuery(`analyze compression events`).WillReturnError(errors.New("table locked"))
	}

	a := New()
	var slept []time.Duration
	a.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := a.Analyze(context.Background(), sess, "events", 0)

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Table != "events" {
		t.Errorf("exhausted table = %q", exhausted.Table)
	}
	if exhausted.Attempts != DefaultMaxAttempts {
		t.Errorf("exhausted attempts = %d", exhausted.Attempts)
	}
	if exhausted.LastErr == nil {
		t.Error("exhausted error should carry the last cause")
	}

	// 10 attempts means 9 backoff sleeps, each doubling from 2^1 * base.
	if len(slept) != DefaultMaxAttempts-1 {
		t.Fatalf("expected %d sleeps, got %d", DefaultMaxAttempts-1, len(slept))
	}
	for i, d := range slept {
		want := DefaultBaseDelay * time.Duration(1<<(i+1))
		if d != want {
			t.Errorf("sleep %d = %v, want %v", i, d, want)
		}
	}
	if sess.rollbacks != DefaultMaxAttempts {
		t.Errorf("expected %d rollbacks, got %d", DefaultMaxAttempts, sess.rollbacks)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAnalyzeCancelledDuringBackoff(t *testing.T) {
	sess, mock := newFake(t)
	mock.ExpectQuery(`analyze compression events`).WillReturnError(errors.New("table locked"))

	ctx, cancel := context.WithCancel(context.Background())

	a := New()
	a.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := a.Analyze(ctx, sess, "events", 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// No further attempts once cancellation is observed.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAnalyzeCancelledQuery(t *testing.T) {
	sess, mock := newFake(t)
	mock.ExpectQuery(`analyze compression events`).WillReturnError(context.Canceled)

	a := New()
	a.sleep = func(ctx context.Context, d time.Duration) error {
		t.Error("no backoff should follow a cancelled query")
		return nil
	}

	_, err := a.Analyze(context.Background(), sess, "events", 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sess.rollbacks != 0 {
		t.Errorf("cancellation should not trigger retry rollback, got %d", sess.rollbacks)
	}
}
