package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/heimdex/heimdex-matting/internal/engine"
	"github.com/heimdex/heimdex-matting/internal/packager"
	"github.com/heimdex/heimdex-matting/internal/scratch"
)

// OutputTypeVideo is the default output type. Anything else is treated as
// a directory of frames.
const OutputTypeVideo = "video"

// Request describes one matting job.
type Request struct {
	InputSource       string
	InputResize       *[2]int
	DownsampleRatio   *float64
	OutputType        string
	OutputComposition *string
	OutputAlpha       *string
	OutputForeground  *string
	OutputVideoMbps   *int
	SeqChunk          int
	NumWorkers        int
}

// withDefaults fills in unset fields. SeqChunk and NumWorkers are left
// alone; their zero values are checked by validate.
func (r Request) withDefaults() Request {
	if strings.TrimSpace(r.OutputType) == "" {
		r.OutputType = OutputTypeVideo
	}
	return r
}

func (r Request) validate() *Error {
	if strings.TrimSpace(r.InputSource) == "" {
		return invalid("input_source is required")
	}
	if r.SeqChunk < 1 {
		return invalid("seq_chunk must be at least 1")
	}
	if r.NumWorkers < 0 {
		return invalid("num_workers must not be negative")
	}
	// Resize, downsample ratio and bitrate go to the engine as given; it
	// rejects values it cannot use.
	return nil
}

// supplied returns the caller's path, treating nil and blank as absent.
func supplied(p *string) (string, bool) {
	if p == nil || strings.TrimSpace(*p) == "" {
		return "", false
	}
	return *p, true
}

type namedPath struct {
	field string
	path  string
}

// explicitOutputs returns the caller-supplied output paths.
func (r Request) explicitOutputs() []namedPath {
	var out []namedPath
	if p, ok := supplied(r.OutputComposition); ok {
		out = append(out, namedPath{"output_composition", p})
	}
	if p, ok := supplied(r.OutputAlpha); ok {
		out = append(out, namedPath{"output_alpha", p})
	}
	if p, ok := supplied(r.OutputForeground); ok {
		out = append(out, namedPath{"output_foreground", p})
	}
	return out
}

// outputPlan is the set of paths the engine writes to.
type outputPlan struct {
	Composition string
	Alpha       string
	Foreground  string
}

// planOutputs derives defaults inside the scratch space and overrides them
// with any explicit paths. It has no side effects.
func planOutputs(r Request, space *scratch.Space) outputPlan {
	plan := outputPlan{
		Composition: space.DerivePath(scratch.Composition, r.OutputType),
		Alpha:       space.DerivePath(scratch.Alpha, r.OutputType),
		Foreground:  space.DerivePath(scratch.Foreground, r.OutputType),
	}
	if p, ok := supplied(r.OutputComposition); ok {
		plan.Composition = p
	}
	if p, ok := supplied(r.OutputAlpha); ok {
		plan.Alpha = p
	}
	if p, ok := supplied(r.OutputForeground); ok {
		plan.Foreground = p
	}
	return plan
}

func (o *Orchestrator) engineParams(r Request, input string, plan outputPlan) engine.Params {
	return engine.Params{
		Variant:           o.settings.Variant,
		Checkpoint:        o.settings.Checkpoint,
		Device:            o.settings.Device,
		InputSource:       input,
		InputResize:       r.InputResize,
		DownsampleRatio:   r.DownsampleRatio,
		OutputType:        r.OutputType,
		OutputComposition: plan.Composition,
		OutputAlpha:       plan.Alpha,
		OutputForeground:  plan.Foreground,
		OutputVideoMbps:   r.OutputVideoMbps,
		SeqChunk:          r.SeqChunk,
		NumWorkers:        r.NumWorkers,
		Progress:          true,
	}
}

// Result is a successful run. It owns the run's scratch space until Close.
type Result struct {
	RunID    string
	Artifact packager.Artifact
	space    *scratch.Space
}

// Close releases the scratch space once the artifact has been delivered.
// An archive the packager wrote beside a caller-supplied composition
// directory is removed as well; the frames themselves are kept.
func (r *Result) Close() error {
	if r == nil || r.space == nil {
		return nil
	}
	var errs []error
	if r.Artifact.Generated && !insideDir(r.space.Dir(), r.Artifact.Path) {
		if err := os.Remove(r.Artifact.Path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove archive: %w", err))
		}
	}
	if err := r.space.Release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func insideDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
