// Package pathpolicy decides which local filesystem paths a caller may name
// as matting inputs or explicit outputs.
package pathpolicy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOutsideAllowed means the path resolves outside every allowed root.
	ErrOutsideAllowed = errors.New("path is outside the allowed directories")
	// ErrTraversal means the path contains a ".." element.
	ErrTraversal = errors.New("path cannot contain path traversal")
)

// Policy is an allow-list of directory roots. An empty Policy allows every
// path.
type Policy struct {
	roots []string
}

// New builds a Policy from roots. Relative roots are made absolute and
// symlinks are resolved where the root exists.
func New(roots []string) (*Policy, error) {
	p := &Policy{}
	for _, root := range roots {
		if strings.TrimSpace(root) == "" {
			continue
		}
		resolved, err := resolve(root)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed dir %q: %w", root, err)
		}
		p.roots = append(p.roots, resolved)
	}
	return p, nil
}

// Restricted reports whether the policy has any roots.
func (p *Policy) Restricted() bool {
	return p != nil && len(p.roots) > 0
}

// CheckInput validates a caller-supplied local input path.
func (p *Policy) CheckInput(path string) error {
	if !p.Restricted() {
		return nil
	}
	resolved, err := resolve(path)
	if err != nil {
		return err
	}
	return p.within(resolved)
}

// CheckOutput validates an explicit output location. The location itself
// usually does not exist yet, so its parent directory is resolved instead.
func (p *Policy) CheckOutput(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("output path is required")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return ErrTraversal
		}
	}
	if !p.Restricted() {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	parent, err := resolve(filepath.Dir(abs))
	if err != nil {
		return err
	}
	return p.within(filepath.Join(parent, filepath.Base(abs)))
}

func (p *Policy) within(path string) error {
	for _, root := range p.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return nil
		}
	}
	return ErrOutsideAllowed
}

// resolve returns the absolute, symlink-free form of path. Paths that do
// not exist are returned cleaned but unresolved.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", err
	}
	return resolved, nil
}
