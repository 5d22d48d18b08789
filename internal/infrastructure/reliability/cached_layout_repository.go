package reliability

import (
	"context"
	"time"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
	"tilecast/pkg/cache"
)

// CachedLayoutRepository keeps each session's latest record for a short TTL so
// that viewers entering the same session do not each hit storage. History is
// never cached.
type CachedLayoutRepository struct {
	base   ports.LayoutRepository
	latest *cache.Cache[domain.LayoutRecord]
}

func NewCachedLayoutRepository(base ports.LayoutRepository, ttl time.Duration) *CachedLayoutRepository {
	return &CachedLayoutRepository{
		base:   base,
		latest: cache.New[domain.LayoutRecord](ttl),
	}
}

func latestKey(sessionID domain.SessionID) string {
	return "layout:latest:" + string(sessionID)
}

// Append writes through and drops the cached latest record of the session.
func (r *CachedLayoutRepository) Append(ctx context.Context, record *domain.LayoutRecord) error {
	err := r.base.Append(ctx, record)
	if record != nil {
		r.latest.Delete(latestKey(record.SessionID))
	}
	return err
}

func (r *CachedLayoutRepository) Latest(ctx context.Context, sessionID domain.SessionID) (*domain.LayoutRecord, error) {
	record, err := r.latest.GetOrSet(ctx, latestKey(sessionID), func(ctx context.Context) (domain.LayoutRecord, error) {
		rec, err := r.base.Latest(ctx, sessionID)
		if err != nil {
			return domain.LayoutRecord{}, err
		}
		return *rec, nil
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *CachedLayoutRepository) History(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.LayoutRecord, error) {
	return r.base.History(ctx, sessionID, limit)
}

// Invalidate drops the cached latest record, e.g. after another instance
// committed.
func (r *CachedLayoutRepository) Invalidate(sessionID domain.SessionID) {
	r.latest.Delete(latestKey(sessionID))
}

// Stop ends the cache cleanup loop.
func (r *CachedLayoutRepository) Stop() {
	r.latest.Stop()
}
