// Package scratch manages per-request scratch directories. Each matting run
// gets exclusive ownership of one directory which holds the downloaded input
// and any default output locations, and is removed when the run ends.
package scratch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/heimdex/heimdex-matting/internal/logging"
)

// DirPrefix prefixes every scratch directory name.
const DirPrefix = "run-"

// Kind names an engine output.
type Kind string

const (
	Composition Kind = "composition"
	Alpha       Kind = "alpha"
	Foreground  Kind = "foreground"
)

// Manager creates scratch spaces under a root directory.
type Manager struct {
	root   string
	retain bool
	logger *slog.Logger
}

// NewManager creates the root directory if needed. With retain set, spaces
// are kept on Release for debugging and left to the janitor.
func NewManager(root string, retain bool, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		root:   root,
		retain: retain,
		logger: logging.WithComponent(logger, "scratch"),
	}, nil
}

// Root returns the scratch root directory.
func (m *Manager) Root() string {
	return m.root
}

// Create allocates a fresh, uniquely named scratch space.
func (m *Manager) Create() (*Space, error) {
	id := ksuid.New().String()
	dir := filepath.Join(m.root, DirPrefix+id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch space: %w", err)
	}
	return &Space{id: id, dir: dir, manager: m}, nil
}

// Space is one request's scratch directory.
type Space struct {
	id      string
	dir     string
	manager *Manager

	once       sync.Once
	releaseErr error
}

func (s *Space) ID() string {
	return s.id
}

func (s *Space) Dir() string {
	return s.dir
}

// DerivePath returns the default location for an output of the given kind:
// <dir>/<kind>.mp4 for video outputs, <dir>/<kind> otherwise.
func (s *Space) DerivePath(kind Kind, outputType string) string {
	name := string(kind)
	if outputType == "video" {
		name += ".mp4"
	}
	return filepath.Join(s.dir, name)
}

// Release removes the space and everything in it. It is safe to call more
// than once; only the first call does any work.
func (s *Space) Release() error {
	s.once.Do(func() {
		if s.manager.retain {
			s.manager.logger.Info("retaining scratch space", "dir", s.dir)
			return
		}
		if err := os.RemoveAll(s.dir); err != nil {
			s.releaseErr = fmt.Errorf("remove scratch space: %w", err)
			s.manager.logger.Warn("failed to release scratch space", "dir", s.dir, "error", err)
		}
	})
	return s.releaseErr
}
