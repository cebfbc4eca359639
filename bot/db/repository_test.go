package db

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/sptube-go/sptube/bot"
	logpkg "github.com/sptube-go/sptube/bot/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

var _ bot.LinkStore = (*Repository)(nil)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	base := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "cache.db"), logpkg.NewGormLogger(base, logger.Silent))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close(context.Background()) })
	return repo
}

func TestRepositoryLinkCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Ping(ctx))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, repo.Upsert(ctx, "tc1", "https://t.me/c/100/1"))
	require.NoError(t, repo.Upsert(ctx, "tc2", "https://t.me/c/100/2"))
	require.NoError(t, repo.Upsert(ctx, "tc1", "https://t.me/c/100/3"))

	link, ok, err := repo.Find(ctx, "tc1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://t.me/c/100/3", link)

	all, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"tc1": "https://t.me/c/100/3",
		"tc2": "https://t.me/c/100/2",
	}, all)

	require.NoError(t, repo.Delete(ctx, "tc1"))
	require.NoError(t, repo.Delete(ctx, "never-stored"))

	_, ok, err = repo.Find(ctx, "tc1")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRepositoryRequiresDSN(t *testing.T) {
	_, err := NewSQLiteRepository("", nil)
	assert.Error(t, err)
}

func TestRepositoryConfigurePool(t *testing.T) {
	repo := newTestRepo(t)
	assert.NoError(t, repo.ConfigurePool(1, 1, 0))
	var nilRepo *Repository
	assert.Error(t, nilRepo.ConfigurePool(1, 1, 0))
}
