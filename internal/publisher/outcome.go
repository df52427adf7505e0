package publisher

import (
	"errors"
	"time"

	"github.com/splax/sourcemap-publisher/internal/sourcemap"
)

// Outcome is the terminal state of one sourcemap candidate.
type Outcome string

const (
	OutcomePublished        Outcome = "published"
	OutcomeAlreadyPublished Outcome = "already_published"
	OutcomeFailed           Outcome = "failed"
)

// Succeeded reports whether the outcome permits deleting the local map file.
func (o Outcome) Succeeded() bool {
	return o == OutcomePublished || o == OutcomeAlreadyPublished
}

var (
	// ErrConfiguration aborts a run before any traversal.
	ErrConfiguration = errors.New("sourcemap publisher misconfigured")
	// ErrValidation marks a candidate whose derived path or URL is unusable.
	ErrValidation = errors.New("invalid sourcemap candidate")
	// ErrUpload marks a candidate the remote service did not accept.
	ErrUpload = errors.New("sourcemap upload failed")
	// ErrCleanup marks a published candidate whose local file could not be removed.
	ErrCleanup = errors.New("sourcemap cleanup failed")
	// ErrTraversal marks problems walking the build output tree.
	ErrTraversal = errors.New("build output traversal failed")
)

// Result describes what happened to one candidate. Err carries the failure
// reason for OutcomeFailed and the cleanup warning for successful outcomes
// whose file could not be deleted.
type Result struct {
	Record  sourcemap.Record
	Outcome Outcome
	Err     error
	Deleted bool
}

// Report summarises a run. Err is set only for run-level failures
// (configuration, traversal, panics); per-candidate failures live in Results.
type Report struct {
	RunID      string
	Skipped    bool
	DryRun     bool
	Candidates int
	Planned    []sourcemap.Record
	Results    []Result
	Warnings   []error
	Err        error
	Started    time.Time
	Finished   time.Time
}

// Count returns the number of results with the given outcome.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Failed reports whether the run hit a run-level error or any candidate failed.
func (r Report) Failed() bool {
	return r.Err != nil || r.Count(OutcomeFailed) > 0
}
