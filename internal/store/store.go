package store

// Store defines the interface for run metadata persistence.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the run doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRun atomically writes the metadata of a run, replacing any
	// previous version for the same ID.
	SaveRun(run *Run) error

	// LoadRun retrieves the metadata of a run.
	// Returns ErrNotFound if no run exists for this ID.
	LoadRun(runID string) (*Run, error)

	// ListRuns returns a summary of every stored run, newest first.
	// The returned slice may be empty.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes the run and all associated artifacts:
	//   - run.json
	//   - trace.jsonl
	//
	// Returns ErrNotFound if no run exists for this ID.
	DeleteRun(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
