package reliability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
	"tilecast/internal/infrastructure/repositories/memory"
)

type countingRepo struct {
	ports.LayoutRepository
	latestCalls int
}

func (c *countingRepo) Latest(ctx context.Context, id domain.SessionID) (*domain.LayoutRecord, error) {
	c.latestCalls++
	return c.LayoutRepository.Latest(ctx, id)
}

func TestCachedLayoutRepository(t *testing.T) {
	ctx := context.Background()
	base := &countingRepo{LayoutRepository: memory.NewMemoryLayoutRepository()}
	repo := NewCachedLayoutRepository(base, time.Minute)
	defer repo.Stop()

	_, err := repo.Latest(ctx, "room")
	assert.ErrorIs(t, err, domain.ErrLayoutNotFound)
	_, err = repo.Latest(ctx, "room")
	assert.ErrorIs(t, err, domain.ErrLayoutNotFound)
	assert.Equal(t, 2, base.latestCalls, "misses are not cached")

	require.NoError(t, repo.Append(ctx, &domain.LayoutRecord{ID: "r1", SessionID: "room", LayoutData: domain.SingleLayout{}, CreatedAt: time.Now()}))

	for i := 0; i < 3; i++ {
		rec, err := repo.Latest(ctx, "room")
		require.NoError(t, err)
		assert.Equal(t, "r1", rec.ID)
	}
	assert.Equal(t, 3, base.latestCalls)

	require.NoError(t, repo.Append(ctx, &domain.LayoutRecord{ID: "r2", SessionID: "room", LayoutData: domain.PairLayout{}, CreatedAt: time.Now().Add(time.Second)}))
	rec, err := repo.Latest(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, "r2", rec.ID)

	// a write that bypassed this instance
	require.NoError(t, base.Append(ctx, &domain.LayoutRecord{ID: "r3", SessionID: "room", LayoutData: domain.BestFitLayout{}, CreatedAt: time.Now().Add(2 * time.Second)}))
	rec, _ = repo.Latest(ctx, "room")
	assert.Equal(t, "r2", rec.ID)

	repo.Invalidate("room")
	rec, err = repo.Latest(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, "r3", rec.ID)
}
