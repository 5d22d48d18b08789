package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
)

// MemoryLayoutRepository keeps each session's history in a slice sorted by
// CreatedAt. Records with equal timestamps keep their append order.
type MemoryLayoutRepository struct {
	history map[domain.SessionID][]*domain.LayoutRecord
	mu      sync.RWMutex
}

func NewMemoryLayoutRepository() ports.LayoutRepository {
	return &MemoryLayoutRepository{
		history: make(map[domain.SessionID][]*domain.LayoutRecord),
	}
}

func (r *MemoryLayoutRepository) Append(ctx context.Context, record *domain.LayoutRecord) error {
	if record == nil || record.SessionID == "" {
		return fmt.Errorf("append layout: %w", domain.ErrEmptySessionID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *record
	records := r.history[record.SessionID]
	i := sort.Search(len(records), func(i int) bool {
		return records[i].CreatedAt.After(stored.CreatedAt)
	})
	records = append(records, nil)
	copy(records[i+1:], records[i:])
	records[i] = &stored
	r.history[record.SessionID] = records
	return nil
}

func (r *MemoryLayoutRepository) Latest(ctx context.Context, sessionID domain.SessionID) (*domain.LayoutRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.history[sessionID]
	if len(records) == 0 {
		return nil, domain.ErrLayoutNotFound
	}
	latest := *records[len(records)-1]
	return &latest, nil
}

func (r *MemoryLayoutRepository) History(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.LayoutRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.history[sessionID]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}

	out := make([]*domain.LayoutRecord, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := *records[i]
		out = append(out, &rec)
	}
	return out, nil
}
