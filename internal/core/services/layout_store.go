package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
	apperrors "tilecast/pkg/errors"
	"tilecast/pkg/retry"
	"tilecast/pkg/tracing"
)

// ChangeListener is called after the current layout of a store changes.
type ChangeListener func(sessionID domain.SessionID, layout domain.LogicalLayout)

// storeState is replaced as a whole so a reader never sees a layout paired
// with the wrong session.
type storeState struct {
	sessionID domain.SessionID
	layout    domain.LogicalLayout
}

// LayoutStore holds the current logical layout of one session. Previews live
// only in memory; commits are sanitized against the roster and appended to the
// repository.
type LayoutStore struct {
	repo    ports.LayoutRepository
	roster  *StreamRoster
	events  ports.LayoutEvents
	metrics ports.LayoutMetrics
	logger  *zap.SugaredLogger
	retry   retry.Config
	now     func() time.Time

	state atomic.Pointer[storeState]

	listenersMu sync.RWMutex
	listeners   map[int]ChangeListener
	nextID      int
}

func NewLayoutStore(
	repo ports.LayoutRepository,
	roster *StreamRoster,
	events ports.LayoutEvents,
	metrics ports.LayoutMetrics,
	logger *zap.SugaredLogger,
	fetchRetry retry.Config,
) *LayoutStore {
	if roster == nil {
		roster = NewStreamRoster()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	fetchRetry.NonRetryableErrors = append(fetchRetry.NonRetryableErrors,
		domain.ErrLayoutNotFound, context.Canceled, context.DeadlineExceeded)

	s := &LayoutStore{
		repo:      repo,
		roster:    roster,
		events:    events,
		metrics:   metrics,
		logger:    logger,
		retry:     fetchRetry,
		now:       time.Now,
		listeners: make(map[int]ChangeListener),
	}
	s.state.Store(&storeState{layout: domain.DefaultLayout()})
	return s
}

// SessionID returns the session the store currently serves.
func (s *LayoutStore) SessionID() domain.SessionID {
	return s.state.Load().sessionID
}

// Current returns the layout viewers of the session should see right now,
// preview or committed.
func (s *LayoutStore) Current() domain.LogicalLayout {
	return s.state.Load().layout
}

// Roster returns the AvailableStream roster used for sanitization.
func (s *LayoutStore) Roster() *StreamRoster {
	return s.roster
}

// FetchLatest reads the newest persisted layout for sessionID. A session with
// no history yields the default layout and found=false.
func (s *LayoutStore) FetchLatest(ctx context.Context, sessionID domain.SessionID) (domain.LogicalLayout, bool, error) {
	if sessionID == "" {
		return nil, false, domain.ErrEmptySessionID
	}

	ctx, span := tracing.TraceLayoutOperation(ctx, "fetch_latest", string(sessionID))
	defer span.End()

	record, err := retry.RetryWithResult(ctx, s.retry, func() (*domain.LayoutRecord, error) {
		return s.repo.Latest(ctx, sessionID)
	})
	switch {
	case errors.Is(err, domain.ErrLayoutNotFound):
		return domain.DefaultLayout(), false, nil
	case err != nil:
		tracing.RecordError(ctx, err)
		return nil, false, fmt.Errorf("fetch latest layout for %s: %w", sessionID, err)
	}

	layout := record.LayoutData
	if layout == nil {
		layout = domain.DefaultLayout()
	}
	tracing.AddSpanAttributes(ctx, tracing.RecordIDKey.String(record.ID), tracing.ShapeKey.String(string(layout.Shape())))
	return layout, true, nil
}

// SwitchSession drops whatever preview is showing and loads the latest layout
// of sessionID. Until the fetch returns the default layout is current; if it
// fails the default layout stays current and the error is returned.
func (s *LayoutStore) SwitchSession(ctx context.Context, sessionID domain.SessionID) error {
	if sessionID == "" {
		return domain.ErrEmptySessionID
	}

	placeholder := &storeState{sessionID: sessionID, layout: domain.DefaultLayout()}
	s.state.Store(placeholder)
	s.notify(placeholder)

	layout, found, err := s.FetchLatest(ctx, sessionID)
	if err != nil {
		s.logger.Warnw("failed to load layout, showing default",
			"session_id", sessionID,
			"error", err,
		)
		return err
	}
	if !found {
		return nil
	}

	next := &storeState{sessionID: sessionID, layout: layout}
	if s.state.CompareAndSwap(placeholder, next) {
		s.notify(next)
	}
	return nil
}

// Refresh re-reads the latest persisted layout, e.g. after another instance
// committed. A preview set while the read was in flight wins.
func (s *LayoutStore) Refresh(ctx context.Context) error {
	before := s.state.Load()
	if before.sessionID == "" {
		return domain.ErrEmptySessionID
	}

	layout, _, err := s.FetchLatest(ctx, before.sessionID)
	if err != nil {
		return err
	}

	next := &storeState{sessionID: before.sessionID, layout: layout}
	if s.state.CompareAndSwap(before, next) {
		s.notify(next)
	}
	return nil
}

// Preview makes layout current without persisting it.
func (s *LayoutStore) Preview(layout domain.LogicalLayout) {
	if layout == nil {
		layout = domain.DefaultLayout()
	}
	for {
		cur := s.state.Load()
		if _, ok := s.install(cur, cur.sessionID, layout); ok {
			return
		}
	}
}

// install swaps in layout when cur is still the current state and belongs to
// sessionID.
func (s *LayoutStore) install(cur *storeState, sessionID domain.SessionID, layout domain.LogicalLayout) (*storeState, bool) {
	if cur.sessionID != sessionID {
		return nil, false
	}
	next := &storeState{sessionID: sessionID, layout: layout}
	if !s.state.CompareAndSwap(cur, next) {
		return nil, false
	}
	s.notify(next)
	return next, true
}

// installFor retries install until it succeeds or the store has switched
// away from sessionID.
func (s *LayoutStore) installFor(sessionID domain.SessionID, layout domain.LogicalLayout) bool {
	for {
		cur := s.state.Load()
		if cur.sessionID != sessionID {
			return false
		}
		if _, ok := s.install(cur, sessionID, layout); ok {
			return true
		}
	}
}

// Commit sanitizes layout, makes it current and appends it to the history.
// When the append fails the layout stays current and the returned record is
// accompanied by a transient COMMIT_NOT_PERSISTED error.
func (s *LayoutStore) Commit(ctx context.Context, layout domain.LogicalLayout) (*domain.LayoutRecord, error) {
	sessionID := s.SessionID()
	if sessionID == "" {
		return nil, domain.ErrEmptySessionID
	}

	ctx, span := tracing.TraceLayoutOperation(ctx, "commit", string(sessionID))
	defer span.End()

	clean, dropped := Sanitize(layout, s.roster.Snapshot())
	if dropped > 0 {
		s.logger.Infow("dropped stale placements before commit",
			"session_id", sessionID,
			"dropped", dropped,
		)
	}
	if s.metrics != nil {
		s.metrics.RecordSanitizedSlots(dropped)
	}

	// The record still belongs to sessionID when the store switched away
	// meanwhile; only the current layout is left alone.
	if !s.installFor(sessionID, clean) {
		s.logger.Warnw("session switched during commit, current layout kept",
			"session_id", sessionID,
			"current_session_id", s.SessionID(),
		)
	}

	record := &domain.LayoutRecord{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		LayoutData: clean,
		CreatedAt:  s.now().UTC(),
	}
	tracing.AddSpanAttributes(ctx, tracing.RecordIDKey.String(record.ID), tracing.ShapeKey.String(string(clean.Shape())))

	if err := s.repo.Append(ctx, record); err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Warnw("layout commit not persisted",
			"session_id", sessionID,
			"record_id", record.ID,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.RecordCommit(sessionID, false)
		}
		return record, apperrors.NewCommitNotPersistedError(err).
			WithContext("session_id", string(sessionID))
	}

	if s.metrics != nil {
		s.metrics.RecordCommit(sessionID, true)
	}
	if s.events != nil {
		if err := s.events.PublishLayoutCommitted(ctx, sessionID, record.ID); err != nil {
			s.logger.Warnw("failed to publish layout commit",
				"session_id", sessionID,
				"record_id", record.ID,
				"error", err,
			)
		}
	}

	s.logger.Infow("layout committed",
		"session_id", sessionID,
		"record_id", record.ID,
		"shape", clean.Shape(),
	)
	return record, nil
}

// History returns up to limit persisted versions of the current session,
// newest first.
func (s *LayoutStore) History(ctx context.Context, limit int) ([]*domain.LayoutRecord, error) {
	sessionID := s.SessionID()
	if sessionID == "" {
		return nil, domain.ErrEmptySessionID
	}

	ctx, span := tracing.TraceLayoutOperation(ctx, "history", string(sessionID))
	defer span.End()

	records, err := s.repo.History(ctx, sessionID, limit)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("layout history for %s: %w", sessionID, err)
	}
	return records, nil
}

// OnChange registers fn and returns a function that removes it.
func (s *LayoutStore) OnChange(fn ChangeListener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *LayoutStore) notify(st *storeState) {
	s.listenersMu.RLock()
	fns := make([]ChangeListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.RUnlock()

	for _, fn := range fns {
		fn(st.sessionID, st.layout)
	}
}

// Sanitize empties every slot whose stream or connection is missing from the
// roster and fills unset shape options. Unknown shapes become the default
// layout. It returns the cleaned layout and the number of slots emptied.
func Sanitize(layout domain.LogicalLayout, roster RosterSnapshot) (domain.LogicalLayout, int) {
	if layout == nil {
		return domain.DefaultLayout(), 0
	}

	dropped := 0
	clean := domain.MapPlacements(layout, func(_ domain.SlotKey, p domain.Placement) domain.Placement {
		if roster.Contains(p) {
			return p
		}
		dropped++
		return domain.Empty
	})
	return clean.WithDefaults(), dropped
}
