package ports

import (
	"context"

	"tilecast/internal/core/domain"
)

// LayoutEvents carries commit notifications between service instances.
type LayoutEvents interface {
	PublishLayoutCommitted(ctx context.Context, sessionID domain.SessionID, recordID string) error
}

// LayoutMetrics receives resolver and store measurements.
type LayoutMetrics interface {
	RecordResolution(visual domain.VisualLayout, wide bool)
	RecordCommit(sessionID domain.SessionID, persisted bool)
	RecordSanitizedSlots(count int)
	SetActiveSessions(count int)
}
