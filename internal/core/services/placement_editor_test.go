package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tilecast/internal/core/domain"
	apperrors "tilecast/pkg/errors"
)

func TestPlaceInLayout_EvictsSameStream(t *testing.T) {
	layout := domain.Fitted4Layout{Slot1: domain.ByStream("s1"), Slot3: domain.ByStream("s2")}

	next, err := PlaceInLayout(layout, domain.Slot4, domain.ByStream("s1"), nil)
	require.NoError(t, err)

	f := next.(domain.Fitted4Layout)
	assert.True(t, f.Slot1.IsEmpty())
	assert.Equal(t, domain.ByStream("s1"), f.Slot4)
	assert.Equal(t, domain.ByStream("s2"), f.Slot3)
	// the input is not modified
	assert.Equal(t, domain.ByStream("s1"), layout.Slot1)
}

func TestPlaceInLayout_EvictsLinkedConnection(t *testing.T) {
	roster := RosterSnapshot{{ConnectionID: "c1", StreamID: "s1"}}

	next, err := PlaceInLayout(domain.PairLayout{Slot1: domain.ByConnection("c1")}, domain.Slot2, domain.ByStream("s1"), roster)
	require.NoError(t, err)
	assert.Equal(t, domain.PairLayout{Slot2: domain.ByStream("s1")}, next)

	next, err = PlaceInLayout(domain.PairLayout{Slot2: domain.ByStream("s1")}, domain.Slot1, domain.ByConnection("c1"), roster)
	require.NoError(t, err)
	assert.Equal(t, domain.PairLayout{Slot1: domain.ByConnection("c1")}, next)

	// without a roster link the two are different participants
	next, err = PlaceInLayout(domain.PairLayout{Slot1: domain.ByConnection("c2")}, domain.Slot2, domain.ByStream("s1"), roster)
	require.NoError(t, err)
	assert.Equal(t, domain.PairLayout{Slot1: domain.ByConnection("c2"), Slot2: domain.ByStream("s1")}, next)
}

func TestPlaceInLayout_ClearDoesNotEvict(t *testing.T) {
	layout := domain.DualScreenLayout{Slot1: domain.ByStream("s1"), Slot6: domain.ByStream("s6")}

	next, err := PlaceInLayout(layout, domain.Slot6, domain.Empty, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DualScreenLayout{Slot1: domain.ByStream("s1")}, next)
}

func TestPlaceInLayout_UnknownSlot(t *testing.T) {
	_, err := PlaceInLayout(domain.PairLayout{}, domain.Slot3, domain.ByStream("s1"), nil)
	assert.ErrorIs(t, err, domain.ErrUnknownSlot)

	_, err = PlaceInLayout(domain.BestFitLayout{}, domain.Slot1, domain.ByStream("s1"), nil)
	assert.ErrorIs(t, err, domain.ErrUnknownSlot)

	_, err = PlaceInLayout(nil, domain.Slot1, domain.ByStream("s1"), nil)
	assert.ErrorIs(t, err, domain.ErrUnknownSlot)
}

func newEditorFixture(t *testing.T) (*PlacementEditor, *LayoutStore, *MockLayoutRepository) {
	t.Helper()
	repo := new(MockLayoutRepository)
	store := newTestStore(t, repo, nil, nil)
	enterSession(t, store, repo, "room")
	store.Roster().Replace([]domain.AvailableStream{
		{ConnectionID: "c1", StreamID: "s1"},
		{ConnectionID: "c2", StreamID: "s2"},
	})
	return NewPlacementEditor(store), store, repo
}

func TestPlacementEditor_AssignCommitsWhenNotEditing(t *testing.T) {
	editor, store, repo := newEditorFixture(t)
	store.Preview(domain.PairLayout{Slot1: domain.ByStream("s1")})

	repo.On("Append", mock.Anything, mock.MatchedBy(func(r *domain.LayoutRecord) bool {
		return assert.ObjectsAreEqual(domain.PairLayout{Slot2: domain.ByStream("s1")}, r.LayoutData)
	})).Return(nil).Once()

	layout, err := editor.Assign(context.Background(), domain.Slot2, domain.ByStream("s1"))
	require.NoError(t, err)
	assert.Equal(t, domain.PairLayout{Slot2: domain.ByStream("s1")}, layout)
	repo.AssertExpectations(t)
}

func TestPlacementEditor_EditingBatchesIntoPreview(t *testing.T) {
	editor, store, repo := newEditorFixture(t)
	store.Preview(domain.PairLayout{})

	editor.OpenEditing()
	require.True(t, editor.IsEditing())

	_, err := editor.Assign(context.Background(), domain.Slot1, domain.ByStream("s1"))
	require.NoError(t, err)
	_, err = editor.Assign(context.Background(), domain.Slot2, domain.ByStream("s2"))
	require.NoError(t, err)
	repo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
	assert.Equal(t, domain.PairLayout{Slot1: domain.ByStream("s1"), Slot2: domain.ByStream("s2")}, store.Current())

	repo.On("Append", mock.Anything, mock.Anything).Return(nil).Once()
	record, err := editor.SaveEditing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.Current(), record.LayoutData)
	assert.False(t, editor.IsEditing())
}

func TestPlacementEditor_CancelEditingRestoresSaved(t *testing.T) {
	editor, store, repo := newEditorFixture(t)

	editor.OpenEditing()
	store.Preview(domain.SingleLayout{})
	_, err := editor.Assign(context.Background(), domain.Slot1, domain.ByStream("s2"))
	require.NoError(t, err)

	saved := domain.PairLayout{Slot1: domain.ByStream("s1")}
	repo.On("Latest", mock.Anything, domain.SessionID("room")).
		Return(&domain.LayoutRecord{ID: "r1", SessionID: "room", LayoutData: saved}, nil).Once()

	require.NoError(t, editor.CancelEditing(context.Background()))
	assert.False(t, editor.IsEditing())
	assert.Equal(t, saved, store.Current())
}

func TestPlacementEditor_ClearWithTransientFailure(t *testing.T) {
	editor, store, repo := newEditorFixture(t)
	store.Preview(domain.PairLayout{Slot1: domain.ByStream("s1"), Slot2: domain.ByStream("s2")})

	repo.On("Append", mock.Anything, mock.Anything).Return(errors.New("write timeout")).Once()

	layout, err := editor.Clear(context.Background(), domain.Slot1)
	assert.True(t, apperrors.IsTransient(err))
	assert.Equal(t, domain.PairLayout{Slot2: domain.ByStream("s2")}, layout)
	assert.Equal(t, layout, store.Current())
}

func TestPlacementEditor_AssignUnknownSlot(t *testing.T) {
	editor, store, _ := newEditorFixture(t)
	store.Preview(domain.SingleLayout{})

	_, err := editor.Assign(context.Background(), domain.Slot2, domain.ByStream("s1"))
	assert.ErrorIs(t, err, domain.ErrUnknownSlot)
	assert.Equal(t, domain.SingleLayout{}, store.Current())
}
