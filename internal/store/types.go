package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/clglinterop/internal/interop"
)

// RunState is the lifecycle state of a recorded run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// Run is the metadata of one interop session: what it ran on, how it was
// configured and how it ended. Perf reports live next to it in trace.jsonl.
type Run struct {
	// ID is a random UUID assigned by NewRun.
	ID string `json:"id"`

	Platform     string `json:"platform"`
	Device       string `json:"device"`
	ImplicitSync bool   `json:"implicitSync"`

	Width       int          `json:"width"`
	Height      int          `json:"height"`
	InitialMode interop.Mode `json:"initialMode"`
	PerfWindow  int          `json:"perfWindow"`

	State     RunState  `json:"state"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitzero"`
	Frames    uint64    `json:"frames"`
	Reports   int       `json:"reports"`
	// Error holds the failure message of a failed run.
	Error string `json:"error,omitempty"`
}

// NewRun returns a running Run with a fresh ID.
func NewRun(platform, device string, width, height int, mode interop.Mode) *Run {
	return &Run{
		ID:          uuid.NewString(),
		Platform:    platform,
		Device:      device,
		Width:       width,
		Height:      height,
		InitialMode: mode,
		PerfWindow:  interop.DefaultPerfWindow,
		State:       RunRunning,
		StartedAt:   time.Now(),
	}
}

// Finish marks the run ended. A non-nil err marks it failed.
func (r *Run) Finish(frames uint64, err error) {
	r.EndedAt = time.Now()
	r.Frames = frames
	if err != nil {
		r.State = RunFailed
		r.Error = err.Error()
		return
	}
	r.State = RunCompleted
}

// Validate checks that the run can be persisted.
func (r *Run) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run ID cannot be empty")
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("invalid run ID %q: %w", r.ID, err)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", r.Width, r.Height)
	}
	if !r.InitialMode.Valid() {
		return fmt.Errorf("invalid initial mode %d", int(r.InitialMode))
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("start time cannot be zero")
	}
	return nil
}

// Duration is the wall time of the run, up to now while it is running.
func (r *Run) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// RunInfo is the summary shown by listings.
type RunInfo struct {
	ID          string        `json:"id"`
	Device      string        `json:"device"`
	InitialMode interop.Mode  `json:"initialMode"`
	State       RunState      `json:"state"`
	StartedAt   time.Time     `json:"startedAt"`
	Duration    time.Duration `json:"duration"`
	Frames      uint64        `json:"frames"`
	Reports     int           `json:"reports"`
	// TraceBytes is the size of trace.jsonl, 0 when there is none.
	TraceBytes int64 `json:"traceBytes"`
}

// ToInfo converts a Run to its summary. TraceBytes is filled by the store.
func (r *Run) ToInfo() RunInfo {
	return RunInfo{
		ID:          r.ID,
		Device:      r.Device,
		InitialMode: r.InitialMode,
		State:       r.State,
		StartedAt:   r.StartedAt,
		Duration:    r.Duration(),
		Frames:      r.Frames,
		Reports:     r.Reports,
	}
}
