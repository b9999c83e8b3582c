// Package progress renders analysis progress over the candidate table list.
// The bar goes to stderr so it never mixes with the SQL sink on stdout.
package progress

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker tracks how many candidate tables have been processed.
type Tracker struct {
	bar       *progressbar.ProgressBar
	current   atomic.Int64
	startTime time.Time
}

// New creates a new progress tracker.
func New() *Tracker {
	return &Tracker{
		startTime: time.Now(),
	}
}

// SetTotal sets the total number of candidate tables.
func (t *Tracker) SetTotal(total int) {
	t.bar = progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Analyzing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetItsString("tables"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add records completed tables.
func (t *Tracker) Add(n int) {
	t.current.Add(int64(n))
	if t.bar != nil {
		t.bar.Add(n)
	}
}

// Current returns the number of tables processed so far.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish completes the bar and prints a summary line.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	fmt.Fprintf(os.Stderr, "\nProcessed %d table(s) in %s\n",
		t.current.Load(), elapsed.Round(time.Second))
}
