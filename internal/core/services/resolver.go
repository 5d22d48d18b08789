package services

import (
	"sort"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/ports"
)

const (
	// BestFitStripSize is the number of cameras shown next to a screen share.
	BestFitStripSize = 5
	// BestFitGridSize is the number of viewports in the grid when nothing is
	// being shared.
	BestFitGridSize = 16
)

// Resolve maps a logical layout and the current viewports to a visual layout.
// It is pure and total: stale placements resolve to empty regions and an
// unknown or nil layout resolves to best-fit with everything in overflow.
// The viewports slice is never modified.
func Resolve(layout domain.LogicalLayout, viewports []domain.Viewport, wide bool) domain.VisualLayout {
	switch l := deref(layout).(type) {
	case domain.BestFitLayout:
		return resolveBestFit(l, viewports, wide)

	case domain.SingleLayout:
		c := newClaimSet(viewports)
		out := domain.SingleVisual{Viewport: c.claim(l.Slot1)}
		out.OverflowViewports = c.unclaimed()
		return out

	case domain.PairLayout:
		c := newClaimSet(viewports)
		out := domain.PairVisual{}
		out.LeftViewport = c.claim(l.Slot1)
		out.RightViewport = c.claim(l.Slot2)
		out.OverflowViewports = c.unclaimed()
		return out

	case domain.PictureInPictureLayout:
		c := newClaimSet(viewports)
		out := domain.PictureInPictureVisual{}
		out.MainViewport = c.claim(l.Slot1)
		out.InsetViewport = c.claim(l.Slot2)
		out.OverflowViewports = c.unclaimed()
		return out

	case domain.Fitted4Layout:
		l = l.WithDefaults().(domain.Fitted4Layout)
		c := newClaimSet(viewports)
		out := domain.Fitted4Visual{Side: l.Side}
		out.MainViewport = c.claim(l.Slot1)
		for i, p := range []domain.Placement{l.Slot2, l.Slot3, l.Slot4, l.Slot5} {
			out.FittedViewports[i] = c.claim(p)
		}
		out.OverflowViewports = c.unclaimed()
		return out

	case domain.DualScreenLayout:
		l = l.WithDefaults().(domain.DualScreenLayout)
		c := newClaimSet(viewports)
		out := domain.DualScreenVisual{SplitDirection: l.SplitDirection, NarrowSlot: l.NarrowSlot}
		for i, p := range []domain.Placement{l.Slot1, l.Slot2, l.Slot3, l.Slot4, l.Slot5, l.Slot6} {
			out.Viewports[i] = c.claim(p)
		}
		out.OverflowViewports = c.unclaimed()
		return out

	default:
		return domain.BestFitVisual{
			ScreenShareOrientation: domain.OrientationHorizontal,
			Viewports:              []domain.Viewport{},
			OverflowViewports:      orderOverflow(cloneViewports(viewports)),
		}
	}
}

// deref lets callers pass pointers to layouts; a nil pointer is treated like
// a nil layout.
func deref(layout domain.LogicalLayout) domain.LogicalLayout {
	switch l := layout.(type) {
	case *domain.BestFitLayout:
		if l != nil {
			return *l
		}
	case *domain.SingleLayout:
		if l != nil {
			return *l
		}
	case *domain.PairLayout:
		if l != nil {
			return *l
		}
	case *domain.PictureInPictureLayout:
		if l != nil {
			return *l
		}
	case *domain.Fitted4Layout:
		if l != nil {
			return *l
		}
	case *domain.DualScreenLayout:
		if l != nil {
			return *l
		}
	default:
		return layout
	}
	return nil
}

func resolveBestFit(l domain.BestFitLayout, viewports []domain.Viewport, wide bool) domain.BestFitVisual {
	l = l.WithDefaults().(domain.BestFitLayout)
	out := domain.BestFitVisual{
		ScreenShareOrientation: l.ScreenShareOrientation,
		Viewports:              []domain.Viewport{},
	}

	// Interactive viewing builds its own grid from overflow.
	if !wide {
		out.OverflowViewports = orderOverflow(cloneViewports(viewports))
		return out
	}

	screenIdx := -1
	for i, v := range viewports {
		if v.IsScreenShare() && (screenIdx < 0 || v.JoinedAt < viewports[screenIdx].JoinedAt) {
			screenIdx = i
		}
	}

	var primary, rest []domain.Viewport
	limit := BestFitGridSize

	if screenIdx >= 0 {
		screen := viewports[screenIdx]
		out.ScreenShareViewport = &screen
		limit = BestFitStripSize

		for i, v := range viewports {
			switch {
			case i == screenIdx:
			case v.IsScreenShare():
				rest = append(rest, v)
			default:
				primary = append(primary, v)
			}
		}
		sort.SliceStable(primary, func(a, b int) bool {
			aa, ab := primary[a].AssociatedWith(screen), primary[b].AssociatedWith(screen)
			if aa != ab {
				return aa
			}
			return primary[a].JoinedAt < primary[b].JoinedAt
		})
	} else {
		primary = cloneViewports(viewports)
		sort.SliceStable(primary, func(a, b int) bool {
			return primary[a].JoinedAt < primary[b].JoinedAt
		})
	}

	if len(primary) > limit {
		rest = append(rest, primary[limit:]...)
		primary = primary[:limit]
	}
	out.Viewports = append(out.Viewports, primary...)
	out.OverflowViewports = orderOverflow(rest)
	return out
}

// claimSet tracks which viewports fixed slots have consumed. Slots claim in
// declaration order; a later slot matching an already claimed viewport stays
// empty.
type claimSet struct {
	viewports []domain.Viewport
	claimed   []bool
}

func newClaimSet(viewports []domain.Viewport) *claimSet {
	return &claimSet{
		viewports: viewports,
		claimed:   make([]bool, len(viewports)),
	}
}

func (c *claimSet) claim(p domain.Placement) *domain.Viewport {
	if p.IsEmpty() {
		return nil
	}
	for i := range c.viewports {
		if !p.Matches(c.viewports[i]) {
			continue
		}
		if c.claimed[i] {
			return nil
		}
		c.claimed[i] = true
		v := c.viewports[i]
		return &v
	}
	return nil
}

func (c *claimSet) unclaimed() []domain.Viewport {
	rest := make([]domain.Viewport, 0, len(c.viewports))
	for i, v := range c.viewports {
		if !c.claimed[i] {
			rest = append(rest, v)
		}
	}
	return orderOverflow(rest)
}

// orderOverflow sorts in place: the local participant first, then by join
// order. Ties keep their input order.
func orderOverflow(viewports []domain.Viewport) []domain.Viewport {
	if viewports == nil {
		viewports = []domain.Viewport{}
	}
	sort.SliceStable(viewports, func(a, b int) bool {
		if viewports[a].IsSelf != viewports[b].IsSelf {
			return viewports[a].IsSelf
		}
		return viewports[a].JoinedAt < viewports[b].JoinedAt
	})
	return viewports
}

func cloneViewports(viewports []domain.Viewport) []domain.Viewport {
	out := make([]domain.Viewport, len(viewports))
	copy(out, viewports)
	return out
}

// LayoutResolver is Resolve with measurements attached. The resolution itself
// stays pure; only the metrics sink observes it.
type LayoutResolver struct {
	metrics ports.LayoutMetrics
}

func NewLayoutResolver(metrics ports.LayoutMetrics) *LayoutResolver {
	return &LayoutResolver{metrics: metrics}
}

func (r *LayoutResolver) Resolve(layout domain.LogicalLayout, viewports []domain.Viewport, wide bool) domain.VisualLayout {
	visual := Resolve(layout, viewports, wide)
	if r.metrics != nil {
		r.metrics.RecordResolution(visual, wide)
	}
	return visual
}
