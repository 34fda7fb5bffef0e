package scratch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, retain bool) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "scratch"), retain, nil)
	require.NoError(t, err)
	return m
}

func TestCreate_UniqueDirectories(t *testing.T) {
	m := newTestManager(t, false)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		s, err := m.Create()
		require.NoError(t, err)
		assert.False(t, seen[s.Dir()], "duplicate scratch dir %s", s.Dir())
		seen[s.Dir()] = true
		assert.True(t, strings.HasPrefix(filepath.Base(s.Dir()), DirPrefix))
	}
}

func TestDerivePath(t *testing.T) {
	m := newTestManager(t, false)
	s, err := m.Create()
	require.NoError(t, err)

	tests := []struct {
		kind       Kind
		outputType string
		want       string
	}{
		{Composition, "video", "composition.mp4"},
		{Alpha, "video", "alpha.mp4"},
		{Foreground, "video", "foreground.mp4"},
		{Composition, "png_sequence", "composition"},
		{Alpha, "png_sequence", "alpha"},
	}
	for _, tt := range tests {
		got := s.DerivePath(tt.kind, tt.outputType)
		assert.Equal(t, filepath.Join(s.Dir(), tt.want), got)
	}
}

func TestDerivePath_NeverAliasesAcrossSpaces(t *testing.T) {
	m := newTestManager(t, false)
	a, err := m.Create()
	require.NoError(t, err)
	b, err := m.Create()
	require.NoError(t, err)

	assert.NotEqual(t, a.DerivePath(Composition, "video"), b.DerivePath(Composition, "video"))
}

func TestRelease_RemovesAndIsIdempotent(t *testing.T) {
	m := newTestManager(t, false)
	s, err := m.Create()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "input_file"), []byte("x"), 0o644))

	require.NoError(t, s.Release())
	_, err = os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, s.Release())
}

func TestRelease_Retain(t *testing.T) {
	m := newTestManager(t, true)
	s, err := m.Create()
	require.NoError(t, err)

	require.NoError(t, s.Release())
	_, err = os.Stat(s.Dir())
	assert.NoError(t, err, "retained space must survive Release")
}

func TestSweep(t *testing.T) {
	m := newTestManager(t, true)

	stale, err := m.Create()
	require.NoError(t, err)
	fresh, err := m.Create()
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale.Dir(), old, old))

	unrelated := filepath.Join(m.Root(), "keep-me")
	require.NoError(t, os.Mkdir(unrelated, 0o755))
	require.NoError(t, os.Chtimes(unrelated, old, old))

	removed, err := m.Sweep(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale.Dir())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Dir())
	assert.NoError(t, err)
	_, err = os.Stat(unrelated)
	assert.NoError(t, err)
}

func TestStartJanitor(t *testing.T) {
	m := newTestManager(t, true)
	s, err := m.Create()
	require.NoError(t, err)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(s.Dir(), old, old))

	j, err := m.StartJanitor("@every 1h", time.Hour)
	require.NoError(t, err)
	defer j.Stop()

	// The initial sweep runs synchronously.
	_, err = os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(err))

	_, err = m.StartJanitor("not a schedule", time.Hour)
	assert.Error(t, err)
}
