// Package orchestrator sequences one matting request through input
// resolution, output planning, engine invocation and packaging, and turns
// any failure into a classified *Error.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/heimdex/heimdex-matting/internal/config"
	"github.com/heimdex/heimdex-matting/internal/engine"
	"github.com/heimdex/heimdex-matting/internal/logging"
	"github.com/heimdex/heimdex-matting/internal/observability"
	"github.com/heimdex/heimdex-matting/internal/packager"
	"github.com/heimdex/heimdex-matting/internal/pathpolicy"
	"github.com/heimdex/heimdex-matting/internal/runs"
	"github.com/heimdex/heimdex-matting/internal/scratch"
	"github.com/heimdex/heimdex-matting/internal/source"
)

// State is a step of the orchestration state machine.
type State string

const (
	StateValidating      State = "VALIDATING"
	StateResolvingInput  State = "RESOLVING_INPUT"
	StatePlanningOutputs State = "PLANNING_OUTPUTS"
	StateInvokingEngine  State = "INVOKING_ENGINE"
	StatePackaging       State = "PACKAGING_OUTPUT"
	StateResponding      State = "RESPONDING"
	StateFailed          State = "FAILED"
)

// Resolver resolves an input source into a local file.
type Resolver interface {
	Resolve(ctx context.Context, inputSource, scratchDir string) (source.Resolved, error)
}

// ScratchAllocator hands out per-request scratch spaces.
type ScratchAllocator interface {
	Create() (*scratch.Space, error)
}

// Packager turns the composition output into an artifact.
type Packager interface {
	Package(compositionPath, outputType string) (packager.Artifact, error)
}

// Recorder persists run history.
type Recorder interface {
	Create(ctx context.Context, run *runs.Run) error
	UpdateState(ctx context.Context, id, state string) error
	Finish(ctx context.Context, id string, outcome runs.Outcome) error
}

// Deps are the collaborators of an Orchestrator. Recorder and OutputPolicy
// may be nil.
type Deps struct {
	Resolver     Resolver
	Scratch      ScratchAllocator
	Engine       engine.Engine
	Packager     Packager
	Recorder     Recorder
	OutputPolicy *pathpolicy.Policy
	Settings     config.EngineSettings
	Logger       *slog.Logger
}

type Orchestrator struct {
	resolver     Resolver
	scratch      ScratchAllocator
	engine       engine.Engine
	packager     Packager
	recorder     Recorder
	outputPolicy *pathpolicy.Policy
	settings     config.EngineSettings
	logger       *slog.Logger
}

func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		resolver:     d.Resolver,
		scratch:      d.Scratch,
		engine:       d.Engine,
		packager:     d.Packager,
		recorder:     d.Recorder,
		outputPolicy: d.OutputPolicy,
		settings:     d.Settings,
		logger:       logging.WithComponent(logger, "orchestrator"),
	}
}

// run carries per-request bookkeeping.
type run struct {
	id     string
	start  time.Time
	state  State
	logger *slog.Logger
}

// Run executes one request. On success the caller must Close the Result
// after delivering the artifact. On failure the error is always *Error and
// all scratch storage has already been released.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	req = req.withDefaults()
	rn := &run{id: runs.NewID(), start: time.Now(), state: StateValidating}
	rn.logger = logging.WithRunID(o.logger, rn.id)

	ctx, span := observability.StartSpan(ctx, "matting.run",
		attribute.String("run.id", rn.id),
		attribute.String("output.type", req.OutputType),
	)
	res, err := o.run(ctx, rn, req)
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, rn *run, req Request) (*Result, error) {
	if err := o.validate(req); err != nil {
		o.fail(rn, err)
		return nil, err
	}

	o.record(func(ctx context.Context) error {
		return o.recorder.Create(ctx, &runs.Run{
			ID:          rn.id,
			InputSource: logging.SanitizeSource(req.InputSource),
			OutputType:  req.OutputType,
			State:       string(StateResolvingInput),
			CreatedAt:   rn.start.UTC(),
		})
	}, rn)

	space, err := o.scratch.Create()
	if err != nil {
		e := &Error{Kind: KindInternal, Stage: StateResolvingInput, Err: err}
		o.fail(rn, e)
		return nil, e
	}

	res, oerr := o.pipeline(ctx, rn, req, space)
	if oerr != nil {
		if relErr := space.Release(); relErr != nil {
			rn.logger.Warn("scratch release after failure", "error", relErr)
		}
		o.fail(rn, oerr)
		return nil, oerr
	}

	o.enter(rn, StateResponding)
	duration := time.Since(rn.start)
	observability.RunsTotal.WithLabelValues("ok").Inc()
	rn.logger.Info("matting run succeeded",
		"artifact", res.Artifact.Filename,
		"bytes", res.Artifact.Size,
		"duration_ms", duration.Milliseconds(),
	)
	o.record(func(ctx context.Context) error {
		return o.recorder.Finish(ctx, rn.id, runs.Outcome{
			State:        runs.StateSucceeded,
			ArtifactType: res.Artifact.ContentType,
			Duration:     duration,
		})
	}, rn)
	return res, nil
}

// pipeline runs the stages that need a scratch space.
func (o *Orchestrator) pipeline(ctx context.Context, rn *run, req Request, space *scratch.Space) (*Result, *Error) {
	var resolved source.Resolved
	err := o.stage(ctx, rn, StateResolvingInput, func(ctx context.Context) error {
		var err error
		resolved, err = o.resolver.Resolve(ctx, req.InputSource, space.Dir())
		return err
	})
	if err != nil {
		return nil, classifyResolve(err)
	}

	o.enter(rn, StatePlanningOutputs)
	plan := planOutputs(req, space)

	err = o.stage(ctx, rn, StateInvokingEngine, func(ctx context.Context) error {
		return o.engine.Invoke(ctx, o.engineParams(req, resolved.Path, plan))
	})
	if err != nil {
		var engErr *engine.Error
		if errors.As(err, &engErr) {
			return nil, &Error{Kind: KindMattingEngine, Stage: StateInvokingEngine, Err: err}
		}
		return nil, &Error{Kind: KindInternal, Stage: StateInvokingEngine, Err: err}
	}

	var artifact packager.Artifact
	err = o.stage(ctx, rn, StatePackaging, func(ctx context.Context) error {
		var err error
		artifact, err = o.packager.Package(plan.Composition, req.OutputType)
		return err
	})
	if err != nil {
		return nil, &Error{Kind: KindPackaging, Stage: StatePackaging, Err: err}
	}

	return &Result{RunID: rn.id, Artifact: artifact, space: space}, nil
}

func (o *Orchestrator) validate(req Request) *Error {
	if err := req.validate(); err != nil {
		return err
	}
	for _, out := range req.explicitOutputs() {
		if err := o.outputPolicy.CheckOutput(out.path); err != nil {
			e := invalid("%s is not a permitted output location", out.field)
			e.Err = err
			return e
		}
	}
	return nil
}

// stage runs fn as the named state, with a span and a duration metric.
func (o *Orchestrator) stage(ctx context.Context, rn *run, state State, fn func(context.Context) error) error {
	o.enter(rn, state)
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "matting."+string(state))
	err := fn(ctx)
	observability.EndSpan(span, err)
	observability.StageDuration.WithLabelValues(string(state)).Observe(time.Since(start).Seconds())
	return err
}

func (o *Orchestrator) enter(rn *run, state State) {
	rn.state = state
	rn.logger.Debug("run state", "state", state)
	o.record(func(ctx context.Context) error {
		return o.recorder.UpdateState(ctx, rn.id, string(state))
	}, rn)
}

func (o *Orchestrator) fail(rn *run, e *Error) {
	duration := time.Since(rn.start)
	observability.RunsTotal.WithLabelValues(string(e.Kind)).Inc()
	rn.logger.Warn("matting run failed",
		"kind", e.Kind,
		"stage", e.Stage,
		"status", e.Status(),
		"error", e,
		"duration_ms", duration.Milliseconds(),
	)
	rn.state = StateFailed
	detail := e.Detail
	if e.Err != nil {
		detail = e.Err.Error()
	}
	o.record(func(ctx context.Context) error {
		return o.recorder.Finish(ctx, rn.id, runs.Outcome{
			State:       runs.StateFailed,
			ErrorKind:   string(e.Kind),
			ErrorDetail: detail,
			Duration:    duration,
		})
	}, rn)
}

// record writes run history. Failures are logged and never fail the run.
func (o *Orchestrator) record(fn func(context.Context) error, rn *run) {
	if o.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		rn.logger.Warn("failed to record run", "state", rn.state, "error", err)
	}
}

func classifyResolve(err error) *Error {
	var fe *source.FetchError
	switch {
	case errors.As(err, &fe):
		return &Error{Kind: KindInputFetch, Stage: StateResolvingInput, Err: err}
	case errors.Is(err, source.ErrForbidden):
		return &Error{Kind: KindInputForbidden, Stage: StateResolvingInput, Err: err}
	case errors.Is(err, source.ErrNotFound):
		return &Error{Kind: KindInputNotFound, Stage: StateResolvingInput, Err: err}
	default:
		return &Error{Kind: KindInternal, Stage: StateResolvingInput, Err: err}
	}
}
