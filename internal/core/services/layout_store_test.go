package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
	apperrors "tilecast/pkg/errors"
	"tilecast/pkg/retry"
)

func testRetry() retry.Config {
	return retry.Config{
		Enabled:      true,
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func newTestStore(t *testing.T, repo *MockLayoutRepository, events *MockLayoutEvents, metrics *recordingMetrics) *LayoutStore {
	t.Helper()
	var ev ports.LayoutEvents
	if events != nil {
		ev = events
	}
	var m ports.LayoutMetrics
	if metrics != nil {
		m = metrics
	}
	s := NewLayoutStore(repo, NewStreamRoster(), ev, m, nil, testRetry())
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func enterSession(t *testing.T, s *LayoutStore, repo *MockLayoutRepository, id domain.SessionID) {
	t.Helper()
	repo.On("Latest", mock.Anything, id).Return(nil, domain.ErrLayoutNotFound).Once()
	require.NoError(t, s.SwitchSession(context.Background(), id))
}

func TestLayoutStore_FetchLatestAbsentIsDefault(t *testing.T) {
	repo := new(MockLayoutRepository)
	repo.On("Latest", mock.Anything, domain.SessionID("room")).Return(nil, domain.ErrLayoutNotFound).Once()
	s := newTestStore(t, repo, nil, nil)

	layout, found, err := s.FetchLatest(context.Background(), "room")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, domain.DefaultLayout(), layout)
	repo.AssertExpectations(t)
}

func TestLayoutStore_FetchLatestRetriesTransientErrors(t *testing.T) {
	repo := new(MockLayoutRepository)
	record := &domain.LayoutRecord{ID: "r1", SessionID: "room", LayoutData: domain.SingleLayout{Slot1: domain.ByStream("s1")}}
	repo.On("Latest", mock.Anything, domain.SessionID("room")).Return(nil, errors.New("i/o timeout")).Once()
	repo.On("Latest", mock.Anything, domain.SessionID("room")).Return(record, nil).Once()
	s := newTestStore(t, repo, nil, nil)

	layout, found, err := s.FetchLatest(context.Background(), "room")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, record.LayoutData, layout)
	repo.AssertNumberOfCalls(t, "Latest", 2)
}

func TestLayoutStore_FetchLatestGivesUp(t *testing.T) {
	repo := new(MockLayoutRepository)
	outage := errors.New("connection refused")
	repo.On("Latest", mock.Anything, domain.SessionID("room")).Return(nil, outage)
	s := newTestStore(t, repo, nil, nil)

	_, _, err := s.FetchLatest(context.Background(), "room")
	assert.ErrorIs(t, err, outage)
	repo.AssertNumberOfCalls(t, "Latest", 3)
}

func TestLayoutStore_CommitSanitizesStaleStreams(t *testing.T) {
	repo := new(MockLayoutRepository)
	events := new(MockLayoutEvents)
	metrics := &recordingMetrics{}
	s := newTestStore(t, repo, events, metrics)
	enterSession(t, s, repo, "room")

	s.Roster().Replace([]domain.AvailableStream{{ConnectionID: "c1", StreamID: "s1", Kind: domain.KindCamera}})

	want := domain.PairLayout{Slot1: domain.ByStream("s1"), Slot2: domain.Empty}
	repo.On("Append", mock.Anything, mock.MatchedBy(func(r *domain.LayoutRecord) bool {
		return r.SessionID == "room" && r.ID != "" && assert.ObjectsAreEqual(want, r.LayoutData)
	})).Return(nil).Once()
	events.On("PublishLayoutCommitted", mock.Anything, domain.SessionID("room"), mock.AnythingOfType("string")).Return(nil).Once()

	record, err := s.Commit(context.Background(), domain.PairLayout{Slot1: domain.ByStream("s1"), Slot2: domain.ByStream("ghost")})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, want, record.LayoutData)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), record.CreatedAt)
	assert.Equal(t, want, s.Current())
	assert.Equal(t, 1, metrics.sanitized)
	assert.Equal(t, []bool{true}, metrics.commits)

	repo.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestLayoutStore_CommitDefaultsShapeOptions(t *testing.T) {
	repo := new(MockLayoutRepository)
	s := newTestStore(t, repo, nil, nil)
	enterSession(t, s, repo, "room")
	repo.On("Append", mock.Anything, mock.Anything).Return(nil)

	record, err := s.Commit(context.Background(), domain.DualScreenLayout{NarrowSlot: "slot9"})
	require.NoError(t, err)
	dual := record.LayoutData.(domain.DualScreenLayout)
	assert.Equal(t, domain.SplitVertical, dual.SplitDirection)
	assert.Equal(t, domain.Slot1, dual.NarrowSlot)

	record, err = s.Commit(context.Background(), domain.UnknownLayout{Type: "mosaic"})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultLayout(), record.LayoutData)
}

func TestLayoutStore_CommitFailureKeepsLayout(t *testing.T) {
	repo := new(MockLayoutRepository)
	events := new(MockLayoutEvents)
	metrics := &recordingMetrics{}
	s := newTestStore(t, repo, events, metrics)
	enterSession(t, s, repo, "room")
	s.Roster().Replace([]domain.AvailableStream{{ConnectionID: "c1", StreamID: "s1"}})

	outage := errors.New("redis: connection refused")
	repo.On("Append", mock.Anything, mock.Anything).Return(outage).Once()

	attempted := domain.SingleLayout{Slot1: domain.ByStream("s1")}
	record, err := s.Commit(context.Background(), attempted)

	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, apperrors.ErrCodeCommitNotPersisted, apperrors.GetAppError(err).Code)
	assert.ErrorIs(t, err, outage)
	require.NotNil(t, record)
	assert.Equal(t, attempted, s.Current())
	assert.Equal(t, []bool{false}, metrics.commits)
	events.AssertNotCalled(t, "PublishLayoutCommitted", mock.Anything, mock.Anything, mock.Anything)
}

func TestLayoutStore_PublishFailureDoesNotFailCommit(t *testing.T) {
	repo := new(MockLayoutRepository)
	events := new(MockLayoutEvents)
	s := newTestStore(t, repo, events, nil)
	enterSession(t, s, repo, "room")

	repo.On("Append", mock.Anything, mock.Anything).Return(nil)
	events.On("PublishLayoutCommitted", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("pubsub down"))

	_, err := s.Commit(context.Background(), domain.BestFitLayout{})
	assert.NoError(t, err)
}

func TestLayoutStore_CommitRequiresSession(t *testing.T) {
	s := newTestStore(t, new(MockLayoutRepository), nil, nil)

	_, err := s.Commit(context.Background(), domain.BestFitLayout{})
	assert.ErrorIs(t, err, domain.ErrEmptySessionID)
}

func TestLayoutStore_SwitchSessionDiscardsPreview(t *testing.T) {
	repo := new(MockLayoutRepository)
	s := newTestStore(t, repo, nil, nil)
	enterSession(t, s, repo, "room-a")

	s.Preview(domain.PairLayout{Slot1: domain.ByStream("s1")})
	require.Equal(t, domain.ShapePair, s.Current().Shape())

	saved := domain.SingleLayout{Slot1: domain.ByStream("s9")}
	repo.On("Latest", mock.Anything, domain.SessionID("room-b")).
		Return(&domain.LayoutRecord{ID: "r9", SessionID: "room-b", LayoutData: saved}, nil).Once()

	require.NoError(t, s.SwitchSession(context.Background(), "room-b"))
	assert.Equal(t, domain.SessionID("room-b"), s.SessionID())
	assert.Equal(t, saved, s.Current())
}

func TestLayoutStore_SwitchSessionFailureShowsDefault(t *testing.T) {
	repo := new(MockLayoutRepository)
	s := newTestStore(t, repo, nil, nil)
	enterSession(t, s, repo, "room-a")
	s.Preview(domain.PairLayout{})

	repo.On("Latest", mock.Anything, domain.SessionID("room-b")).Return(nil, errors.New("down"))

	err := s.SwitchSession(context.Background(), "room-b")
	assert.Error(t, err)
	assert.Equal(t, domain.DefaultLayout(), s.Current())
	assert.Equal(t, domain.SessionID("room-b"), s.SessionID())
}

func TestLayoutStore_RefreshLoadsLatest(t *testing.T) {
	repo := new(MockLayoutRepository)
	s := newTestStore(t, repo, nil, nil)
	enterSession(t, s, repo, "room")

	remote := domain.PictureInPictureLayout{Slot1: domain.ByStream("s2")}
	repo.On("Latest", mock.Anything, domain.SessionID("room")).
		Return(&domain.LayoutRecord{ID: "r2", SessionID: "room", LayoutData: remote}, nil).Once()

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, remote, s.Current())
}

func TestLayoutStore_OnChange(t *testing.T) {
	repo := new(MockLayoutRepository)
	s := newTestStore(t, repo, nil, nil)
	enterSession(t, s, repo, "room")

	var got []domain.Shape
	stop := s.OnChange(func(id domain.SessionID, layout domain.LogicalLayout) {
		assert.Equal(t, domain.SessionID("room"), id)
		got = append(got, layout.Shape())
	})

	s.Preview(domain.PairLayout{})
	s.Preview(nil)
	stop()
	s.Preview(domain.SingleLayout{})

	assert.Equal(t, []domain.Shape{domain.ShapePair, domain.ShapeBestFit}, got)
}

func TestLayoutStore_History(t *testing.T) {
	repo := new(MockLayoutRepository)
	s := newTestStore(t, repo, nil, nil)
	enterSession(t, s, repo, "room")

	records := []*domain.LayoutRecord{{ID: "r2"}, {ID: "r1"}}
	repo.On("History", mock.Anything, domain.SessionID("room"), 10).Return(records, nil).Once()

	got, err := s.History(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestSanitize(t *testing.T) {
	roster := RosterSnapshot{
		{ConnectionID: "c1", StreamID: "s1"},
		{ConnectionID: "c2"},
	}

	clean, dropped := Sanitize(domain.Fitted4Layout{
		Side:  "diagonal",
		Slot1: domain.ByStream("s1"),
		Slot2: domain.ByConnection("c2"),
		Slot3: domain.ByConnection("c3"),
		Slot4: domain.ByStream("s4"),
	}, roster)

	assert.Equal(t, 2, dropped)
	assert.Equal(t, domain.Fitted4Layout{
		Side:  domain.SideLeft,
		Slot1: domain.ByStream("s1"),
		Slot2: domain.ByConnection("c2"),
	}, clean)

	clean, dropped = Sanitize(nil, roster)
	assert.Zero(t, dropped)
	assert.Equal(t, domain.DefaultLayout(), clean)
}

type hookMetrics struct {
	recordingMetrics
	onSanitized func()
}

func (m *hookMetrics) RecordSanitizedSlots(count int) {
	m.recordingMetrics.RecordSanitizedSlots(count)
	if m.onSanitized != nil {
		m.onSanitized()
	}
}

func TestLayoutStore_CommitDuringSwitchKeepsNewSession(t *testing.T) {
	repo := new(MockLayoutRepository)
	metrics := &hookMetrics{}
	s := NewLayoutStore(repo, NewStreamRoster(), nil, metrics, nil, testRetry())
	enterSession(t, s, repo, "a")
	s.Roster().Replace([]domain.AvailableStream{{ConnectionID: "c1", StreamID: "s1"}})

	// The switch lands between the commit reading its session and installing
	// the sanitized layout.
	repo.On("Latest", mock.Anything, domain.SessionID("b")).Return(nil, domain.ErrLayoutNotFound).Once()
	metrics.onSanitized = func() {
		metrics.onSanitized = nil
		require.NoError(t, s.SwitchSession(context.Background(), "b"))
	}

	var appended *domain.LayoutRecord
	repo.On("Append", mock.Anything, mock.AnythingOfType("*domain.LayoutRecord")).
		Run(func(args mock.Arguments) { appended = args.Get(1).(*domain.LayoutRecord) }).
		Return(nil).Once()

	record, err := s.Commit(context.Background(), domain.SingleLayout{Slot1: domain.ByStream("s1")})
	require.NoError(t, err)

	assert.Equal(t, domain.SessionID("b"), s.SessionID())
	assert.Equal(t, domain.DefaultLayout(), s.Current())
	require.NotNil(t, appended)
	assert.Equal(t, domain.SessionID("a"), appended.SessionID)
	assert.Equal(t, record.ID, appended.ID)
	repo.AssertExpectations(t)
}

func TestLayoutStore_PreviewFollowsCurrentSession(t *testing.T) {
	repo := new(MockLayoutRepository)
	s := newTestStore(t, repo, nil, nil)
	enterSession(t, s, repo, "a")

	layout := domain.PairLayout{Slot1: domain.ByConnection("c1")}
	s.Preview(layout)
	assert.Equal(t, domain.SessionID("a"), s.SessionID())
	assert.Equal(t, layout, s.Current())
}
