// Package orchestrator coordinates an analysis run: candidate selection,
// the worker pool, per-table processing, and result aggregation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/schemaops/recomp/internal/analyzer"
	"github.com/schemaops/recomp/internal/catalog"
	"github.com/schemaops/recomp/internal/config"
	"github.com/schemaops/recomp/internal/executor"
	"github.com/schemaops/recomp/internal/history"
	"github.com/schemaops/recomp/internal/logging"
	"github.com/schemaops/recomp/internal/progress"
	"github.com/schemaops/recomp/internal/script"
	"github.com/schemaops/recomp/internal/selector"
	"github.com/schemaops/recomp/internal/session"
	"github.com/schemaops/recomp/internal/sink"
)

// ErrNoCandidates indicates the selected scope contained no tables to
// analyze.
var ErrNoCandidates = errors.New("no candidate tables found")

// ErrTablesFailed indicates at least one table failed and error tolerance
// is off. Reported only after all dispatched work has drained.
var ErrTablesFailed = errors.New("one or more tables failed")

// controllerID is the worker identity of the controlling session used for
// candidate selection.
const controllerID = 0

// Orchestrator owns the run-wide resources.
type Orchestrator struct {
	cfg      *config.Config
	provider *session.Provider
	out      *sink.Sink
	hist     *history.Store
	prog     *progress.Tracker
	analyzer *analyzer.Analyzer
}

// New connects to the cluster and prepares the run. A connection failure
// here is fatal to the whole run (session.ErrNoConnection).
func New(cfg *config.Config) (*Orchestrator, error) {
	out, err := sink.New(os.Stdout, cfg.Output.File)
	if err != nil {
		return nil, err
	}

	provider, err := session.NewProvider(cfg)
	if err != nil {
		out.Close()
		return nil, err
	}

	var hist *history.Store
	if !cfg.History.Disabled {
		path := cfg.History.Path
		if path == "" {
			path, err = history.DefaultPath()
		}
		if err == nil {
			hist, err = history.Open(path)
		}
		if err != nil {
			// History is an audit convenience, never a reason to fail a run.
			logging.Warn("run history unavailable: %v", err)
			hist = nil
		}
	}

	return &Orchestrator{
		cfg:      cfg,
		provider: provider,
		out:      out,
		hist:     hist,
		prog:     progress.New(),
		analyzer: analyzer.New(),
	}, nil
}

// Close releases sessions, the history store, and the output sink.
func (o *Orchestrator) Close() {
	o.provider.Close()
	if o.hist != nil {
		o.hist.Close()
	}
	o.out.Close()
}

// Run performs one full analysis pass over the configured scope.
func (o *Orchestrator) Run(ctx context.Context) error {
	master, err := o.provider.Session(ctx, controllerID)
	if err != nil {
		return err
	}

	o.out.Write(fmt.Sprintf("-- Connected to %s:%d:%s as %s",
		o.cfg.Cluster.Host, o.cfg.Cluster.Port, o.cfg.Cluster.Database, o.cfg.Cluster.User))

	scope := fmt.Sprintf("schema '%s'", o.cfg.Analysis.Schema)
	if o.cfg.SingleTable() {
		scope = fmt.Sprintf("table '%s'", o.cfg.Analysis.Table)
	}
	o.out.Write(fmt.Sprintf("-- Analyzing %s for columnar encoding optimisations with %d worker(s)",
		scope, o.cfg.Analysis.Workers))
	if o.cfg.Analysis.Execute {
		o.out.Write("-- Recommended encoding changes will be applied automatically")
	}

	var candidates []selector.Candidate
	if o.cfg.SingleTable() {
		candidates, err = selector.Table(ctx, master, o.cfg.Analysis.Table)
	} else {
		o.out.Write("-- Extracting candidate table list...")
		candidates, err = selector.Schema(ctx, master, o.cfg.Analysis.Schema)
	}
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w in %s", ErrNoCandidates, scope)
	}

	o.out.Write(fmt.Sprintf("-- Analyzing %d table(s)", len(candidates)))

	runID := uuid.NewString()
	if o.hist != nil {
		if err := o.hist.CreateRun(runID, o.cfg.Analysis.Schema, o.cfg.Analysis.TargetSchema,
			o.cfg.Analysis.Table, o.cfg.Analysis.Workers, o.cfg.Analysis.Execute); err != nil {
			logging.Warn("recording run start: %v", err)
		}
	}

	o.prog.SetTotal(len(candidates))

	var failed int
	err = runAll(ctx, candidates, o.cfg.Analysis.Workers, o.processTable, func(res tableResult) {
		o.prog.Add(1)

		errMsg := ""
		if res.Err != nil {
			failed++
			errMsg = res.Err.Error()
			o.out.Commentf(controllerID, "table %s failed: %v", res.Table, res.Err)
			logging.Error("table %s failed: %v", res.Table, res.Err)
		}
		if o.hist != nil {
			if err := o.hist.RecordTable(runID, res.Table, res.Action, errMsg, res.Duration); err != nil {
				logging.Warn("recording outcome of %s: %v", res.Table, err)
			}
		}
	})
	if err != nil {
		o.out.Commentf(controllerID, "terminating on user request")
		o.completeRun(runID, "cancelled", err)
		return err
	}

	o.prog.Finish()

	// Space reclaimed by dropped originals needs an explicit vacuum.
	if o.cfg.Analysis.DropOldData {
		o.out.Write("vacuum delete only;")
	}
	o.out.Commentf(controllerID, "processing complete")

	if failed > 0 {
		runErr := fmt.Errorf("%w: %d of %d", ErrTablesFailed, failed, len(candidates))
		o.completeRun(runID, "failed", runErr)
		if !o.cfg.Analysis.IgnoreErrors {
			return runErr
		}
		return nil
	}

	o.completeRun(runID, "success", nil)
	return nil
}

func (o *Orchestrator) completeRun(runID, status string, runErr error) {
	if o.hist == nil {
		return
	}
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := o.hist.CompleteRun(runID, status, errMsg); err != nil {
		logging.Warn("recording run completion: %v", err)
	}
}

// processTable drives one candidate through the full pipeline on its
// worker's session: analyze, describe, synthesize, and optionally execute.
func (o *Orchestrator) processTable(ctx context.Context, workerID int, cand selector.Candidate) tableResult {
	start := time.Now()
	res := tableResult{Table: cand.Name, Action: history.ActionFailed}
	defer func() { res.Duration = time.Since(start) }()

	sess, err := o.provider.Session(ctx, workerID)
	if err != nil {
		res.Err = err
		return res
	}

	o.out.Commentf(workerID, "Analysing table '%s' (%d mb, %d rows)", cand.Name, cand.MBytes, cand.Rows)
	if o.cfg.Output.Debug {
		o.out.Commentf(workerID, "%s", analyzer.Statement(cand.Name, o.cfg.Analysis.Comprows))
	}

	recs, err := o.analyzer.Analyze(ctx, sess, cand.Name, o.cfg.Analysis.Comprows)
	if err != nil {
		res.Err = err
		return res
	}

	cols, err := catalog.Describe(ctx, sess, o.cfg.Analysis.Schema, cand.Name)
	if err != nil {
		res.Err = err
		return res
	}

	plan, err := script.Synthesize(cols, recs, cand.Name, script.Options{
		SourceSchema: o.cfg.Analysis.Schema,
		TargetSchema: o.cfg.Analysis.TargetSchema,
		Force:        o.cfg.Analysis.Force,
		DropOld:      o.cfg.Analysis.DropOldData,
	})
	if err != nil {
		res.Err = err
		return res
	}
	if plan == nil {
		o.out.Commentf(workerID, "table '%s' already has optimal encodings, skipping", cand.Name)
		res.Action = history.ActionSkipped
		res.Err = nil
		return res
	}

	if o.cfg.Analysis.Execute {
		if err := executor.Execute(ctx, sess, plan, o.out, workerID); err != nil {
			res.Err = err
			return res
		}
		res.Action = history.ActionMigrated
		res.Err = nil
		return res
	}

	o.emitPlan(plan)
	res.Action = history.ActionPlanned
	res.Err = nil
	return res
}

// emitPlan writes the plan's commentary and statements to the sink in
// emission order. In dry-run mode this text is the run's sole artifact.
func (o *Orchestrator) emitPlan(plan *script.Plan) {
	for _, stmt := range plan.Statements {
		if c := stmt.Comment(); c != "" {
			o.out.Write("-- " + c)
		}
		o.out.Statement(stmt.SQL())
	}
}
