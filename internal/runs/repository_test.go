package runs

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-matting/internal/db"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.True(t, strings.HasPrefix(a, "run_"))
	assert.NotEqual(t, a, b)
}

func TestRepository_Lifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	run := &Run{ID: NewID(), InputSource: "https://example.com/a.mp4", OutputType: "video", State: "RESOLVING_INPUT"}
	require.NoError(t, repo.Create(ctx, run))

	require.NoError(t, repo.UpdateState(ctx, run.ID, "INVOKING_ENGINE"))
	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "INVOKING_ENGINE", got.State)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, repo.Finish(ctx, run.ID, Outcome{
		State:       StateFailed,
		ErrorKind:   "MattingEngine",
		ErrorDetail: "exit status 1",
		Duration:    1500 * time.Millisecond,
	}))

	got, err = repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "MattingEngine", got.ErrorKind)
	assert.Equal(t, "exit status 1", got.ErrorDetail)
	assert.Equal(t, int64(1500), got.DurationMS)
	assert.NotNil(t, got.FinishedAt)
}

func TestRepository_GetMissing(t *testing.T) {
	repo := newTestRepo(t)
	got, err := repo.Get(context.Background(), "run_missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRepository_ListAndCount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, state := range []string{StateSucceeded, StateSucceeded, StateFailed} {
		run := &Run{
			ID:          NewID(),
			InputSource: "in.mp4",
			OutputType:  "video",
			State:       state,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(ctx, run))
	}

	list, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, StateFailed, list[0].State, "newest first")

	counts, err := repo.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StateSucceeded])
	assert.Equal(t, 1, counts[StateFailed])
}
