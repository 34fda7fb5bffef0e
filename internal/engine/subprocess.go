package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/heimdex/heimdex-matting/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024  // 8 KB tail of stderr kept for diagnostics
	maxStdoutBytes = 64 * 1024 // doctor JSON
)

// Config holds the subprocess engine's configuration.
type Config struct {
	PythonPath    string // path to python binary; empty = auto-detect
	Module        string // run as `python -m <Module>`
	WorkDir       string // working directory; checkpoint paths are relative to it
	Timeout       time.Duration
	DoctorTimeout time.Duration
	Logger        *slog.Logger
}

// Subprocess runs the matting engine as a Python module in a child process.
type Subprocess struct {
	cfg    Config
	python string // resolved python path
}

// NewSubprocess creates a Subprocess, resolving the Python binary path.
func NewSubprocess(cfg Config) (*Subprocess, error) {
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = logging.WithComponent(cfg.Logger, "engine")

	cfg.Logger.Info("matting engine initialised",
		"python", python,
		"module", cfg.Module,
		"workdir", cfg.WorkDir,
	)
	return &Subprocess{cfg: cfg, python: python}, nil
}

// Invoke runs one matting job. Once started the child process is not tied
// to ctx's cancellation; it runs until it exits or the engine timeout fires.
func (s *Subprocess) Invoke(ctx context.Context, p Params) error {
	ctx = context.WithoutCancel(ctx)
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	args := append([]string{"-m", s.cfg.Module}, BuildArgs(p)...)
	result := s.exec(ctx, io.Discard, args...)
	if result.IsSuccess() {
		return nil
	}

	cause := result.Err
	if tail := strings.TrimSpace(result.StderrTail); tail != "" {
		cause = fmt.Errorf("%v: %s", result.Err, truncate(tail, 512))
	}
	return &Error{Cause: cause, ExitCode: result.ExitCode, StderrTail: result.StderrTail}
}

// BuildArgs renders Params as engine CLI flags.
func BuildArgs(p Params) []string {
	args := []string{
		"--variant", p.Variant,
		"--checkpoint", p.Checkpoint,
		"--device", p.Device,
		"--input-source", p.InputSource,
		"--output-type", p.OutputType,
	}
	if p.InputResize != nil {
		args = append(args, "--input-resize",
			strconv.Itoa(p.InputResize[0]), strconv.Itoa(p.InputResize[1]))
	}
	if p.DownsampleRatio != nil {
		args = append(args, "--downsample-ratio", strconv.FormatFloat(*p.DownsampleRatio, 'g', -1, 64))
	}
	if p.OutputComposition != "" {
		args = append(args, "--output-composition", p.OutputComposition)
	}
	if p.OutputAlpha != "" {
		args = append(args, "--output-alpha", p.OutputAlpha)
	}
	if p.OutputForeground != "" {
		args = append(args, "--output-foreground", p.OutputForeground)
	}
	if p.OutputVideoMbps != nil {
		args = append(args, "--output-video-mbps", strconv.Itoa(*p.OutputVideoMbps))
	}
	args = append(args,
		"--seq-chunk", strconv.Itoa(p.SeqChunk),
		"--num-workers", strconv.Itoa(p.NumWorkers),
	)
	if !p.Progress {
		args = append(args, "--disable-progress")
	}
	return args
}

// doctorScript reports the engine environment as JSON on stdout. The engine
// module name is passed as argv[1].
const doctorScript = `import importlib.util, json, sys
out = {"python": {"version": sys.version.split()[0], "executable": sys.executable}}
try:
    import torch
    out["torch"] = {"available": True, "version": torch.__version__}
    out["cuda_available"] = bool(torch.cuda.is_available())
    out["device_count"] = torch.cuda.device_count() if out["cuda_available"] else 0
except Exception as e:
    out["torch"] = {"available": False, "error": str(e)}
try:
    found = importlib.util.find_spec(sys.argv[1]) is not None
    out["engine_module"] = {"available": found}
except Exception as e:
    out["engine_module"] = {"available": False, "error": str(e)}
print(json.dumps(out))
`

// RunDoctor probes the engine's Python environment and checks that the
// configured checkpoint exists.
func (s *Subprocess) RunDoctor(ctx context.Context, checkpoint, device string) (*Capabilities, error) {
	if s.cfg.DoctorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DoctorTimeout)
		defer cancel()
	}

	var stdout bytes.Buffer
	result := s.exec(ctx, &limitedWriter{w: &stdout, limit: maxStdoutBytes}, "-c", doctorScript, s.cfg.Module)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("doctor exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	var caps Capabilities
	if err := json.Unmarshal(stdout.Bytes(), &caps); err != nil {
		return nil, fmt.Errorf("cannot parse doctor JSON: %w", err)
	}

	ckpt := checkpoint
	if !filepath.IsAbs(ckpt) && s.cfg.WorkDir != "" {
		ckpt = filepath.Join(s.cfg.WorkDir, ckpt)
	}
	_, statErr := os.Stat(ckpt)
	caps.CheckpointPresent = statErr == nil

	caps.Ready = caps.Torch.Available && caps.EngineModule.Available && caps.CheckpointPresent &&
		(!strings.HasPrefix(device, "cuda") || caps.CUDAAvailable)
	caps.ProbedAt = time.Now()

	s.cfg.Logger.Info("doctor probe complete",
		"ready", caps.Ready,
		"torch", caps.Torch.Version,
		"cuda", caps.CUDAAvailable,
		"checkpoint_present", caps.CheckpointPresent,
	)
	return &caps, nil
}

// exec is the core subprocess execution helper.
func (s *Subprocess) exec(ctx context.Context, stdout io.Writer, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, s.python, args...)
	cmd.Dir = s.cfg.WorkDir

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = stdout

	s.cfg.Logger.Debug("executing engine command", "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if exitCode <= 0 {
			exitCode = -1
		}
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode != 0 {
		s.cfg.Logger.Warn("engine command failed",
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		s.cfg.Logger.Info("engine command succeeded", "duration_ms", elapsed.Milliseconds())
	}

	return RunResult{
		ExitCode:   exitCode,
		StderrTail: stderrTail,
		Duration:   elapsed,
		Err:        err,
	}
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
