package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilecast/internal/core/domain"
	"tilecast/pkg/circuitbreaker"
)

type flakyRepo struct {
	err    error
	latest *domain.LayoutRecord
	calls  int
}

func (r *flakyRepo) Append(ctx context.Context, record *domain.LayoutRecord) error {
	r.calls++
	return r.err
}

func (r *flakyRepo) Latest(ctx context.Context, sessionID domain.SessionID) (*domain.LayoutRecord, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if r.latest == nil {
		return nil, domain.ErrLayoutNotFound
	}
	return r.latest, nil
}

func (r *flakyRepo) History(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.LayoutRecord, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return []*domain.LayoutRecord{r.latest}, nil
}

func breakerConfig() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 1,
	}
}

func TestWrapper_NotFoundDoesNotTrip(t *testing.T) {
	repo := &flakyRepo{}
	w := NewLayoutRepositoryWrapper(repo, breakerConfig(), nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := w.Latest(ctx, "room")
		assert.ErrorIs(t, err, domain.ErrLayoutNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, w.GetCircuitBreakerStats().State)
	assert.Equal(t, 5, repo.calls)
}

func TestWrapper_OpensOnFailures(t *testing.T) {
	boom := errors.New("connection refused")
	repo := &flakyRepo{err: boom}
	w := NewLayoutRepositoryWrapper(repo, breakerConfig(), nil)
	ctx := context.Background()

	assert.ErrorIs(t, w.Append(ctx, &domain.LayoutRecord{SessionID: "room"}), boom)
	_, err := w.History(ctx, "room", 10)
	assert.ErrorIs(t, err, boom)

	_, err = w.Latest(ctx, "room")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, repo.calls)
}

func TestWrapper_PassesRecordsThrough(t *testing.T) {
	rec := &domain.LayoutRecord{ID: "r1", SessionID: "room", LayoutData: domain.DefaultLayout()}
	w := NewLayoutRepositoryWrapper(&flakyRepo{latest: rec}, breakerConfig(), nil)

	got, err := w.Latest(context.Background(), "room")
	require.NoError(t, err)
	assert.Same(t, rec, got)

	history, err := w.History(context.Background(), "room", 1)
	require.NoError(t, err)
	assert.Equal(t, []*domain.LayoutRecord{rec}, history)
}
