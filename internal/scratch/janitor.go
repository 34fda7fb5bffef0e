package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/heimdex/heimdex-matting/internal/observability"
)

// Sweep removes scratch spaces last modified more than maxAge ago and
// returns how many were removed. Spaces of live requests are younger than
// any sensible maxAge.
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("read scratch root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), DirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		dir := filepath.Join(m.root, entry.Name())
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Warn("failed to sweep scratch space", "dir", dir, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		observability.ScratchSweptTotal.Add(float64(removed))
		m.logger.Info("swept stale scratch spaces", "count", removed)
	}
	return removed, nil
}

// Janitor periodically sweeps stale scratch spaces.
type Janitor struct {
	cron *cron.Cron
}

// StartJanitor schedules Sweep on a cron spec such as "@every 10m" and runs
// one sweep immediately.
func (m *Manager) StartJanitor(schedule string, maxAge time.Duration) (*Janitor, error) {
	c := cron.New()
	sweep := func() {
		if _, err := m.Sweep(maxAge); err != nil {
			m.logger.Warn("scratch sweep failed", "error", err)
		}
	}
	if _, err := c.AddFunc(schedule, sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	sweep()
	c.Start()
	m.logger.Info("scratch janitor started", "schedule", schedule, "max_age", maxAge.String())
	return &Janitor{cron: c}, nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
