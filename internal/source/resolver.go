// Package source turns a caller-supplied input source string into a local
// file the matting engine can read. Remote inputs are downloaded into the
// request's scratch directory; local paths are used in place.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/heimdex/heimdex-matting/internal/logging"
	"github.com/heimdex/heimdex-matting/internal/pathpolicy"
)

// InputFilename is the name remote inputs are saved under inside the
// scratch directory.
const InputFilename = "input_file"

// Resolved is a local path the engine can read.
type Resolved struct {
	Path string
	// Owned is true when the file lives in the scratch directory and goes
	// away with it; false for caller-owned local files.
	Owned bool
}

// Options configures a Resolver.
type Options struct {
	HTTPClient    *http.Client
	Timeout       time.Duration // per attempt
	MaxAttempts   int
	MaxBytes      int64
	RetryInterval time.Duration // initial backoff interval; 0 uses the library default
	Policy        *pathpolicy.Policy
	Objects       ObjectStore // nil disables s3:// inputs
	Logger        *slog.Logger
}

// Resolver resolves input sources.
type Resolver struct {
	client        *http.Client
	timeout       time.Duration
	maxAttempts   int
	maxBytes      int64
	retryInterval time.Duration
	policy        *pathpolicy.Policy
	objects       ObjectStore
	logger        *slog.Logger
}

func NewResolver(opts Options) *Resolver {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Resolver{
		client:        client,
		timeout:       opts.Timeout,
		maxAttempts:   attempts,
		maxBytes:      opts.MaxBytes,
		retryInterval: opts.RetryInterval,
		policy:        opts.Policy,
		objects:       opts.Objects,
		logger:        logging.WithComponent(logger, "source"),
	}
}

// Resolve maps inputSource to a local path. Remote sources are written to
// scratchDir/input_file; a failed download leaves nothing behind.
//
// Errors are *FetchError for download failures, ErrForbidden for local
// paths outside the allow-list and ErrNotFound otherwise.
func (r *Resolver) Resolve(ctx context.Context, inputSource, scratchDir string) (Resolved, error) {
	var res Resolved
	var err error

	switch {
	case isHTTP(inputSource):
		res, err = r.fetchHTTP(ctx, inputSource, scratchDir)
	case r.objects != nil && strings.HasPrefix(inputSource, "s3://"):
		res, err = r.fetchObject(ctx, inputSource, scratchDir)
	default:
		res, err = r.resolveLocal(inputSource)
	}
	if err != nil {
		return Resolved{}, err
	}

	if res.Path == "" {
		return Resolved{}, ErrNotFound
	}
	if _, err := os.Stat(res.Path); err != nil {
		return Resolved{}, ErrNotFound
	}
	return res, nil
}

func (r *Resolver) resolveLocal(path string) (Resolved, error) {
	if strings.TrimSpace(path) == "" {
		return Resolved{}, ErrNotFound
	}
	if err := r.policy.CheckInput(path); err != nil {
		if errors.Is(err, pathpolicy.ErrOutsideAllowed) {
			return Resolved{}, fmt.Errorf("%w: %s", ErrForbidden, logging.SanitizePath(path))
		}
		return Resolved{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if _, err := os.Stat(path); err != nil {
		return Resolved{}, ErrNotFound
	}
	return Resolved{Path: path, Owned: false}, nil
}

// isHTTP matches the scheme prefix exactly; "HTTP://..." is a local path.
func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func inputPath(scratchDir string) string {
	return filepath.Join(scratchDir, InputFilename)
}
