package ports

import (
	"context"

	"tilecast/internal/core/domain"
)

// LayoutRepository is the append-only layout history. Records are never
// updated or deleted.
type LayoutRepository interface {
	Append(ctx context.Context, record *domain.LayoutRecord) error
	// Latest returns the newest record for the session, or
	// domain.ErrLayoutNotFound when the session has none.
	Latest(ctx context.Context, sessionID domain.SessionID) (*domain.LayoutRecord, error)
	// History returns up to limit records, newest first.
	History(ctx context.Context, sessionID domain.SessionID, limit int) ([]*domain.LayoutRecord, error)
}
