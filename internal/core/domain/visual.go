package domain

// VisualLayout is the render-ready result of resolving a LogicalLayout against
// the live viewports. A nil *Viewport is an empty region.
type VisualLayout interface {
	Shape() Shape
	// Primary returns the placed regions in slot order, nil for empty ones.
	Primary() []*Viewport
	Overflow() []Viewport

	isVisualLayout()
}

type BestFitVisual struct {
	ScreenShareOrientation Orientation `json:"screenShareOrientation"`
	ScreenShareViewport    *Viewport   `json:"screenshareViewport"`
	// Viewports is the camera strip next to a screen share, or the grid when
	// nothing is shared.
	Viewports         []Viewport `json:"viewports"`
	OverflowViewports []Viewport `json:"overflowViewports"`
}

type SingleVisual struct {
	Viewport          *Viewport  `json:"viewport"`
	OverflowViewports []Viewport `json:"overflowViewports"`
}

type PairVisual struct {
	LeftViewport      *Viewport  `json:"leftViewport"`
	RightViewport     *Viewport  `json:"rightViewport"`
	OverflowViewports []Viewport `json:"overflowViewports"`
}

type PictureInPictureVisual struct {
	MainViewport      *Viewport  `json:"mainViewport"`
	InsetViewport     *Viewport  `json:"insetViewport"`
	OverflowViewports []Viewport `json:"overflowViewports"`
}

type Fitted4Visual struct {
	Side              Side         `json:"side"`
	MainViewport      *Viewport    `json:"mainViewport"`
	FittedViewports   [4]*Viewport `json:"fittedViewports"`
	OverflowViewports []Viewport   `json:"overflowViewports"`
}

type DualScreenVisual struct {
	SplitDirection    SplitDirection `json:"splitDirection"`
	NarrowSlot        SlotKey        `json:"narrowSlot"`
	Viewports         [6]*Viewport   `json:"viewports"`
	OverflowViewports []Viewport     `json:"overflowViewports"`
}

func (BestFitVisual) Shape() Shape          { return ShapeBestFit }
func (SingleVisual) Shape() Shape           { return ShapeSingle }
func (PairVisual) Shape() Shape             { return ShapePair }
func (PictureInPictureVisual) Shape() Shape { return ShapePictureInPicture }
func (Fitted4Visual) Shape() Shape          { return ShapeFitted4 }
func (DualScreenVisual) Shape() Shape       { return ShapeDualScreen }

func (BestFitVisual) isVisualLayout()          {}
func (SingleVisual) isVisualLayout()           {}
func (PairVisual) isVisualLayout()             {}
func (PictureInPictureVisual) isVisualLayout() {}
func (Fitted4Visual) isVisualLayout()          {}
func (DualScreenVisual) isVisualLayout()       {}

func (v BestFitVisual) Primary() []*Viewport {
	out := make([]*Viewport, 0, len(v.Viewports)+1)
	if v.ScreenShareViewport != nil {
		out = append(out, v.ScreenShareViewport)
	}
	for i := range v.Viewports {
		out = append(out, &v.Viewports[i])
	}
	return out
}

func (v SingleVisual) Primary() []*Viewport { return []*Viewport{v.Viewport} }
func (v PairVisual) Primary() []*Viewport   { return []*Viewport{v.LeftViewport, v.RightViewport} }
func (v PictureInPictureVisual) Primary() []*Viewport {
	return []*Viewport{v.MainViewport, v.InsetViewport}
}
func (v Fitted4Visual) Primary() []*Viewport {
	return append([]*Viewport{v.MainViewport}, v.FittedViewports[:]...)
}
func (v DualScreenVisual) Primary() []*Viewport {
	out := make([]*Viewport, len(v.Viewports))
	copy(out, v.Viewports[:])
	return out
}

func (v BestFitVisual) Overflow() []Viewport          { return v.OverflowViewports }
func (v SingleVisual) Overflow() []Viewport           { return v.OverflowViewports }
func (v PairVisual) Overflow() []Viewport             { return v.OverflowViewports }
func (v PictureInPictureVisual) Overflow() []Viewport { return v.OverflowViewports }
func (v Fitted4Visual) Overflow() []Viewport          { return v.OverflowViewports }
func (v DualScreenVisual) Overflow() []Viewport       { return v.OverflowViewports }

func (v BestFitVisual) MarshalJSON() ([]byte, error) {
	type wire BestFitVisual
	return marshalTagged(ShapeBestFit, wire(v))
}

func (v SingleVisual) MarshalJSON() ([]byte, error) {
	type wire SingleVisual
	return marshalTagged(ShapeSingle, wire(v))
}

func (v PairVisual) MarshalJSON() ([]byte, error) {
	type wire PairVisual
	return marshalTagged(ShapePair, wire(v))
}

func (v PictureInPictureVisual) MarshalJSON() ([]byte, error) {
	type wire PictureInPictureVisual
	return marshalTagged(ShapePictureInPicture, wire(v))
}

func (v Fitted4Visual) MarshalJSON() ([]byte, error) {
	type wire Fitted4Visual
	return marshalTagged(ShapeFitted4, wire(v))
}

func (v DualScreenVisual) MarshalJSON() ([]byte, error) {
	type wire DualScreenVisual
	return marshalTagged(ShapeDualScreen, wire(v))
}
