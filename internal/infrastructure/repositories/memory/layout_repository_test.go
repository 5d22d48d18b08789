package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilecast/internal/core/domain"
)

func record(id string, session domain.SessionID, at time.Time, layout domain.LogicalLayout) *domain.LayoutRecord {
	return &domain.LayoutRecord{ID: id, SessionID: session, LayoutData: layout, CreatedAt: at}
}

func TestMemoryLayoutRepository_LatestEmpty(t *testing.T) {
	repo := NewMemoryLayoutRepository()

	_, err := repo.Latest(context.Background(), "room")
	assert.ErrorIs(t, err, domain.ErrLayoutNotFound)

	history, err := repo.History(context.Background(), "room", 5)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMemoryLayoutRepository_LatestByCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLayoutRepository()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// commits may land out of order
	require.NoError(t, repo.Append(ctx, record("r2", "room", base.Add(2*time.Second), domain.PairLayout{})))
	require.NoError(t, repo.Append(ctx, record("r1", "room", base.Add(time.Second), domain.SingleLayout{})))
	require.NoError(t, repo.Append(ctx, record("other", "lobby", base.Add(time.Hour), domain.BestFitLayout{})))

	latest, err := repo.Latest(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.ID)

	require.NoError(t, repo.Append(ctx, record("r3", "room", base.Add(3*time.Second), domain.BestFitLayout{})))
	latest, err = repo.Latest(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, "r3", latest.ID)
}

func TestMemoryLayoutRepository_HistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLayoutRepository()
	base := time.Now()

	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, repo.Append(ctx, record(id, "room", base.Add(time.Duration(i)*time.Second), domain.BestFitLayout{})))
	}

	history, err := repo.History(ctx, "room", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "d", history[0].ID)
	assert.Equal(t, "c", history[1].ID)

	all, err := repo.History(ctx, "room", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMemoryLayoutRepository_RecordsAreImmutable(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLayoutRepository()

	rec := record("r1", "room", time.Now(), domain.SingleLayout{})
	require.NoError(t, repo.Append(ctx, rec))
	rec.ID = "mutated"

	latest, err := repo.Latest(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, "r1", latest.ID)

	latest.ID = "mutated-again"
	again, _ := repo.Latest(ctx, "room")
	assert.Equal(t, "r1", again.ID)
}

func TestMemoryLayoutRepository_RejectsMissingSession(t *testing.T) {
	err := NewMemoryLayoutRepository().Append(context.Background(), record("r1", "", time.Now(), nil))
	assert.ErrorIs(t, err, domain.ErrEmptySessionID)
}

func TestMemoryLayoutRepository_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLayoutRepository()
	base := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = repo.Append(ctx, record("r", "room", base.Add(time.Duration(i)*time.Millisecond), domain.BestFitLayout{}))
		}(i)
	}
	wg.Wait()

	history, err := repo.History(ctx, "room", 0)
	require.NoError(t, err)
	require.Len(t, history, 50)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.After(history[i-1].CreatedAt))
	}
}
