package services

import (
	"sync"

	"tilecast/internal/core/domain"
)

// ViewportRegistry keeps the most recent viewport list pushed for a session.
// The resolver has no discovery of its own; it reads whatever was last
// supplied here.
type ViewportRegistry struct {
	mu        sync.RWMutex
	viewports []domain.Viewport
	wide      bool
}

func NewViewportRegistry() *ViewportRegistry {
	return &ViewportRegistry{}
}

func (r *ViewportRegistry) Update(viewports []domain.Viewport, wide bool) {
	next := make([]domain.Viewport, len(viewports))
	copy(next, viewports)

	r.mu.Lock()
	r.viewports = next
	r.wide = wide
	r.mu.Unlock()
}

// Snapshot returns a private copy of the viewport list and the wide-mode flag
// as of the last update.
func (r *ViewportRegistry) Snapshot() ([]domain.Viewport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Viewport, len(r.viewports))
	copy(out, r.viewports)
	return out, r.wide
}
