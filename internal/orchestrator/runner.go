package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/schemaops/recomp/internal/selector"
)

// tableResult is the outcome of processing one candidate table.
type tableResult struct {
	Table    string
	Action   string // history.Action* value
	Err      error
	Duration time.Duration
}

// processFunc handles one candidate end-to-end on the given worker.
type processFunc func(ctx context.Context, workerID int, cand selector.Candidate) tableResult

// runAll dispatches candidates to a fixed pool of workers as an unordered
// parallel map. Worker identities are stable (1..workers) so each worker
// keeps its cached session across tables. onResult is invoked serially for
// every completed table; a table's failure never cancels other in-flight
// tables. Cancellation stops dispatch and returns without waiting for
// in-flight work.
func runAll(ctx context.Context, candidates []selector.Candidate, workers int, process processFunc, onResult func(tableResult)) error {
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan selector.Candidate)
	results := make(chan tableResult, len(candidates))

	var wg sync.WaitGroup
	for id := 1; id <= workers; id++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for cand := range jobs {
				if ctx.Err() != nil {
					return
				}
				results <- process(ctx, workerID, cand)
			}
		}(id)
	}

	go func() {
		defer close(jobs)
		for _, c := range candidates {
			select {
			case <-ctx.Done():
				return
			case jobs <- c:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				return nil
			}
			onResult(res)
		}
	}
}
