package services

import (
	"context"
	"fmt"
	"sync"

	"tilecast/internal/core/domain"
)

// PlacementEditor turns slot gestures into whole layouts. While an editing
// session is open results go to the store's preview; otherwise every change
// is committed straight away.
type PlacementEditor struct {
	store *LayoutStore

	mu      sync.Mutex
	editing bool
}

func NewPlacementEditor(store *LayoutStore) *PlacementEditor {
	return &PlacementEditor{store: store}
}

// Assign puts p into slot and evicts it from every other slot. The returned
// layout is what the store now shows; a non-nil error may be a transient
// commit warning, in which case the layout is still current.
func (e *PlacementEditor) Assign(ctx context.Context, slot domain.SlotKey, p domain.Placement) (domain.LogicalLayout, error) {
	next, err := PlaceInLayout(e.store.Current(), slot, p, e.store.Roster().Snapshot())
	if err != nil {
		return nil, err
	}
	return e.apply(ctx, next)
}

// Clear empties slot.
func (e *PlacementEditor) Clear(ctx context.Context, slot domain.SlotKey) (domain.LogicalLayout, error) {
	return e.Assign(ctx, slot, domain.Empty)
}

// OpenEditing starts batching changes in the preview.
func (e *PlacementEditor) OpenEditing() {
	e.mu.Lock()
	e.editing = true
	e.mu.Unlock()
}

func (e *PlacementEditor) IsEditing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.editing
}

// SaveEditing commits the previewed layout and closes the editing session.
// A transient persistence failure still closes it.
func (e *PlacementEditor) SaveEditing(ctx context.Context) (*domain.LayoutRecord, error) {
	record, err := e.store.Commit(ctx, e.store.Current())
	if record != nil {
		e.mu.Lock()
		e.editing = false
		e.mu.Unlock()
	}
	return record, err
}

// CancelEditing discards the preview by reloading the latest saved layout.
func (e *PlacementEditor) CancelEditing(ctx context.Context) error {
	e.mu.Lock()
	e.editing = false
	e.mu.Unlock()

	return e.store.Refresh(ctx)
}

func (e *PlacementEditor) apply(ctx context.Context, next domain.LogicalLayout) (domain.LogicalLayout, error) {
	if e.IsEditing() {
		e.store.Preview(next)
		return next, nil
	}

	if _, err := e.store.Commit(ctx, next); err != nil {
		return e.store.Current(), err
	}
	return e.store.Current(), nil
}

// PlaceInLayout returns a copy of layout with p in slot. Any other slot of the
// same shape holding the same participant is emptied, including a connection
// slot whose connection the roster links to p's stream and the reverse.
func PlaceInLayout(layout domain.LogicalLayout, slot domain.SlotKey, p domain.Placement, roster RosterSnapshot) (domain.LogicalLayout, error) {
	if layout == nil {
		layout = domain.DefaultLayout()
	}

	next, err := layout.WithPlacement(slot, p)
	if err != nil {
		return nil, fmt.Errorf("%s layout has no %s: %w", layout.Shape(), slot, err)
	}
	if p.IsEmpty() {
		return next, nil
	}

	return domain.MapPlacements(next, func(k domain.SlotKey, existing domain.Placement) domain.Placement {
		if k != slot && roster.SameParticipant(existing, p) {
			return domain.Empty
		}
		return existing
	}), nil
}
