package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
	"tilecast/pkg/backup"
)

// KindLayoutHistory names backups holding per-session layout histories.
const KindLayoutHistory = "layouts"

// LayoutHistoryBackup exports session histories from a layout repository
// into backup storage and replays them into another one.
type LayoutHistoryBackup struct {
	service *backup.BackupService
	repo    ports.LayoutRepository
	logger  *zap.SugaredLogger
}

func NewLayoutHistoryBackup(service *backup.BackupService, repo ports.LayoutRepository, logger *zap.SugaredLogger) *LayoutHistoryBackup {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &LayoutHistoryBackup{
		service: service,
		repo:    repo,
		logger:  logger,
	}
}

// Export saves up to limit records of each session, newest first, and
// returns the backup name and the number of records written.
func (b *LayoutHistoryBackup) Export(ctx context.Context, sessions []domain.SessionID, limit int) (string, int, error) {
	if len(sessions) == 0 {
		return "", 0, domain.ErrEmptySessionID
	}

	histories := make(map[domain.SessionID][]*domain.LayoutRecord, len(sessions))
	total := 0
	for _, id := range sessions {
		records, err := b.repo.History(ctx, id, limit)
		if err != nil {
			return "", 0, fmt.Errorf("export %s: %w", id, err)
		}
		histories[id] = records
		total += len(records)
	}

	payload, err := json.Marshal(histories)
	if err != nil {
		return "", 0, fmt.Errorf("encode histories: %w", err)
	}

	name, err := b.service.CreateBackup(ctx, &backup.BackupData{
		Kind:    KindLayoutHistory,
		Payload: payload,
		Metadata: map[string]string{
			"sessions": strconv.Itoa(len(sessions)),
			"records":  strconv.Itoa(total),
		},
	})
	if err != nil {
		return "", 0, err
	}

	b.logger.Infow("layout history exported",
		"backup", name,
		"sessions", len(sessions),
		"records", total,
	)
	return name, total, nil
}

// Import appends the records of a backup that are newer than each session's
// latest stored record, oldest first. History is append-only, so older
// records are skipped rather than interleaved.
func (b *LayoutHistoryBackup) Import(ctx context.Context, name string) (int, error) {
	data, err := b.service.RestoreBackup(ctx, name)
	if err != nil {
		return 0, err
	}
	if data.Kind != KindLayoutHistory {
		return 0, fmt.Errorf("backup %s holds %q, not layout history", name, data.Kind)
	}

	var histories map[domain.SessionID][]*domain.LayoutRecord
	if err := json.Unmarshal(data.Payload, &histories); err != nil {
		return 0, fmt.Errorf("decode histories: %w", err)
	}

	imported := 0
	for id, records := range histories {
		n, err := b.importSession(ctx, id, records)
		imported += n
		if err != nil {
			return imported, fmt.Errorf("import %s: %w", id, err)
		}
	}

	b.logger.Infow("layout history imported",
		"backup", name,
		"sessions", len(histories),
		"records", imported,
	)
	return imported, nil
}

func (b *LayoutHistoryBackup) importSession(ctx context.Context, id domain.SessionID, records []*domain.LayoutRecord) (int, error) {
	latest, err := b.repo.Latest(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrLayoutNotFound):
		latest = nil
	default:
		return 0, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	imported := 0
	for _, rec := range records {
		if rec == nil || rec.SessionID != id {
			continue
		}
		if latest != nil && !rec.CreatedAt.After(latest.CreatedAt) {
			continue
		}
		if err := b.repo.Append(ctx, rec); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
