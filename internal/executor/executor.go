// Package executor runs a synthesized migration plan inside the worker's
// session. The plan's create statement opens the transaction and its commit
// closes it; a failure anywhere in between rolls the whole table back.
package executor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/schemaops/recomp/internal/script"
	"github.com/schemaops/recomp/internal/sink"
)

// StatementError reports the first failing statement of a plan. Fatal to
// that table only; the transaction has been rolled back.
type StatementError struct {
	Table     string
	Statement string
	Cause     error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("executing migration of %s: statement %q: %v", e.Table, e.Statement, e.Cause)
}

func (e *StatementError) Unwrap() error {
	return e.Cause
}

// session is the narrow execution surface required to run a plan.
type session interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Rollback(ctx context.Context) error
}

// Execute runs each statement of the plan in sequence. On the first failure
// it rolls back the session's transaction and reports the statement and
// cause; remaining statements are not attempted.
func Execute(ctx context.Context, sess session, plan *script.Plan, out *sink.Sink, workerID int) error {
	for _, stmt := range plan.Statements {
		stmtSQL := stmt.SQL()
		out.Commentf(workerID, "running:\n%s", stmtSQL)

		if _, err := sess.ExecContext(ctx, stmtSQL); err != nil {
			if rbErr := sess.Rollback(ctx); rbErr != nil {
				out.Commentf(workerID, "rollback after failed statement: %v", rbErr)
			}
			return &StatementError{Table: plan.Table, Statement: stmtSQL, Cause: err}
		}
	}
	return nil
}
