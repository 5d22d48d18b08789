package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
	"tilecast/pkg/retry"
)

// Session bundles the per-session state: the layout store, the editor that
// feeds it and the last viewport list pushed for the session.
type Session struct {
	ID        domain.SessionID
	Store     *LayoutStore
	Editor    *PlacementEditor
	Viewports *ViewportRegistry

	resolver *LayoutResolver
	refs     int
}

// Visual resolves the current layout against the session's viewport list.
func (s *Session) Visual() domain.VisualLayout {
	viewports, wide := s.Viewports.Snapshot()
	return s.resolver.Resolve(s.Store.Current(), viewports, wide)
}

// VisualFor resolves the current layout against a viewer's own viewports.
func (s *Session) VisualFor(viewports []domain.Viewport, wide bool) domain.VisualLayout {
	return s.resolver.Resolve(s.Store.Current(), viewports, wide)
}

// ApplyMediaViewports makes a viewport list derived from published media the
// session's viewport list and roster. The last reported wide flag is kept.
func (s *Session) ApplyMediaViewports(viewports []domain.Viewport) {
	_, wide := s.Viewports.Snapshot()
	s.Viewports.Update(viewports, wide)
	s.Store.Roster().Replace(RosterFromViewports(viewports))
}

// SessionManager owns the live sessions. A session is created on the first
// Enter and released when the last participant leaves.
type SessionManager struct {
	repo       ports.LayoutRepository
	events     ports.LayoutEvents
	metrics    ports.LayoutMetrics
	resolver   *LayoutResolver
	logger     *zap.SugaredLogger
	fetchRetry retry.Config

	mu       sync.Mutex
	sessions map[domain.SessionID]*Session
}

func NewSessionManager(
	repo ports.LayoutRepository,
	events ports.LayoutEvents,
	metrics ports.LayoutMetrics,
	logger *zap.SugaredLogger,
	fetchRetry retry.Config,
) *SessionManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SessionManager{
		repo:       repo,
		events:     events,
		metrics:    metrics,
		resolver:   NewLayoutResolver(metrics),
		logger:     logger,
		fetchRetry: fetchRetry,
		sessions:   make(map[domain.SessionID]*Session),
	}
}

// Enter joins a participant to the session, creating it and loading its latest
// layout when it is new. A failed load leaves the default layout in place.
func (m *SessionManager) Enter(ctx context.Context, id domain.SessionID) (*Session, error) {
	if id == "" {
		return nil, domain.ErrEmptySessionID
	}

	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		sess.refs++
		m.mu.Unlock()
		return sess, nil
	}

	store := NewLayoutStore(m.repo, NewStreamRoster(), m.events, m.metrics, m.logger, m.fetchRetry)
	sess := &Session{
		ID:        id,
		Store:     store,
		Editor:    NewPlacementEditor(store),
		Viewports: NewViewportRegistry(),
		resolver:  m.resolver,
		refs:      1,
	}
	m.sessions[id] = sess
	active := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetActiveSessions(active)
	}
	m.logger.Infow("session opened", "session_id", id)

	if err := store.SwitchSession(ctx, id); err != nil {
		m.logger.Warnw("session opened with default layout", "session_id", id, "error", err)
	}
	return sess, nil
}

// Leave drops one participant reference. It reports whether the session was
// released.
func (m *SessionManager) Leave(id domain.SessionID) (bool, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false, domain.ErrSessionNotFound
	}

	sess.refs--
	if sess.refs > 0 {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.sessions, id)
	active := len(m.sessions)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetActiveSessions(active)
	}
	m.logger.Infow("session released", "session_id", id)
	return true, nil
}

func (m *SessionManager) Get(id domain.SessionID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// HandleLayoutCommitted reloads a session after a commit elsewhere. Sessions
// with an open editing panel keep their preview.
func (m *SessionManager) HandleLayoutCommitted(ctx context.Context, id domain.SessionID, recordID string) error {
	sess, err := m.Get(id)
	if err != nil {
		// not hosted here
		return nil
	}
	if sess.Editor.IsEditing() {
		m.logger.Debugw("skipping refresh while editing", "session_id", id, "record_id", recordID)
		return nil
	}
	return sess.Store.Refresh(ctx)
}
