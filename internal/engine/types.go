// Package engine invokes the external background-matting engine. The engine
// is an opaque, long-running, blocking call; this package forwards validated
// parameters to it, serialises access to it and normalises its failures.
package engine

import (
	"context"
	"fmt"
	"time"
)

// Engine runs one matting invocation, writing outputs to the paths in
// Params as a side effect.
type Engine interface {
	Invoke(ctx context.Context, p Params) error
}

// Params is everything the engine needs for one invocation. Values are
// passed through unchanged.
type Params struct {
	Variant    string
	Checkpoint string
	Device     string

	InputSource     string
	InputResize     *[2]int // width, height
	DownsampleRatio *float64
	OutputType      string

	OutputComposition string
	OutputAlpha       string
	OutputForeground  string
	OutputVideoMbps   *int

	SeqChunk   int
	NumWorkers int
	Progress   bool
}

// Error is the single failure type surfaced by engine invocations. Cause
// and StderrTail are for logs only.
type Error struct {
	Cause      error
	ExitCode   int
	StderrTail string
}

func (e *Error) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("matting engine failed (exit %d): %v", e.ExitCode, e.Cause)
	}
	return fmt.Sprintf("matting engine failed: %v", e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// RunResult is the structured outcome of executing an engine subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// Capabilities describes the engine's Python environment as reported by
// the doctor probe.
type Capabilities struct {
	Python            PythonInfo `json:"python"`
	Torch             DepInfo    `json:"torch"`
	EngineModule      DepInfo    `json:"engine_module"`
	CUDAAvailable     bool       `json:"cuda_available"`
	DeviceCount       int        `json:"device_count"`
	CheckpointPresent bool       `json:"checkpoint_present"`

	Ready    bool      `json:"ready"`
	ProbedAt time.Time `json:"probed_at"`
}

// PythonInfo holds Python runtime information.
type PythonInfo struct {
	Version    string `json:"version"`
	Executable string `json:"executable"`
}

// DepInfo represents the availability status of a single dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}
