// Package runs persists the history of matting runs.
package runs

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Run is one orchestration of a matting request.
type Run struct {
	ID           string     `json:"id"`
	InputSource  string     `json:"input_source"`
	OutputType   string     `json:"output_type"`
	State        string     `json:"state"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	ErrorDetail  string     `json:"-"`
	ArtifactType string     `json:"artifact_type,omitempty"`
	DurationMS   int64      `json:"duration_ms"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Terminal run states.
const (
	StateSucceeded = "RESPONDING"
	StateFailed    = "FAILED"
)

// Outcome is the terminal update applied to a run.
type Outcome struct {
	State        string
	ErrorKind    string
	ErrorDetail  string
	ArtifactType string
	Duration     time.Duration
}

// NewID returns a new time-sortable run identifier.
func NewID() string {
	return "run_" + ksuid.New().String()
}
