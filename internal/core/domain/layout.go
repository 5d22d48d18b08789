package domain

type Shape string

const (
	ShapeBestFit          Shape = "bestFit"
	ShapeSingle           Shape = "single"
	ShapePair             Shape = "pair"
	ShapePictureInPicture Shape = "pictureInPicture"
	ShapeFitted4          Shape = "fitted4"
	ShapeDualScreen       Shape = "dualScreen"
)

type SlotKey string

const (
	Slot1 SlotKey = "slot1"
	Slot2 SlotKey = "slot2"
	Slot3 SlotKey = "slot3"
	Slot4 SlotKey = "slot4"
	Slot5 SlotKey = "slot5"
	Slot6 SlotKey = "slot6"
)

var allSlots = []SlotKey{Slot1, Slot2, Slot3, Slot4, Slot5, Slot6}

func (k SlotKey) index() int {
	for i, s := range allSlots {
		if s == k {
			return i
		}
	}
	return -1
}

func (k SlotKey) Valid() bool { return k.index() >= 0 }

type Orientation string

const (
	OrientationHorizontal Orientation = "horizontal"
	OrientationVertical   Orientation = "vertical"
)

type Side string

const (
	SideLeft   Side = "left"
	SideRight  Side = "right"
	SideTop    Side = "top"
	SideBottom Side = "bottom"
)

type SplitDirection string

const (
	SplitVertical   SplitDirection = "vertical"
	SplitHorizontal SplitDirection = "horizontal"
)

// LogicalLayout is the persisted, user-authored slot assignment. Each shape
// is its own type; only that shape's slots exist on it.
type LogicalLayout interface {
	Shape() Shape
	// Slots lists the shape's fixed slots in declaration order.
	Slots() []SlotKey
	Placement(slot SlotKey) (Placement, bool)
	// WithPlacement returns a copy of the layout with slot set to p.
	WithPlacement(slot SlotKey, p Placement) (LogicalLayout, error)
	// WithDefaults fills shape options that were left unset.
	WithDefaults() LogicalLayout

	isLogicalLayout()
}

// DefaultLayout is the layout of a session that has never saved one.
func DefaultLayout() LogicalLayout {
	return BestFitLayout{ScreenShareOrientation: OrientationHorizontal}
}

type BestFitLayout struct {
	ScreenShareOrientation Orientation `json:"screenShareOrientation,omitempty"`
}

type SingleLayout struct {
	Slot1 Placement `json:"slot1"`
}

type PairLayout struct {
	Slot1 Placement `json:"slot1"`
	Slot2 Placement `json:"slot2"`
}

type PictureInPictureLayout struct {
	Slot1 Placement `json:"slot1"`
	Slot2 Placement `json:"slot2"`
}

type Fitted4Layout struct {
	Side  Side      `json:"side,omitempty"`
	Slot1 Placement `json:"slot1"`
	Slot2 Placement `json:"slot2"`
	Slot3 Placement `json:"slot3"`
	Slot4 Placement `json:"slot4"`
	Slot5 Placement `json:"slot5"`
}

type DualScreenLayout struct {
	SplitDirection SplitDirection `json:"splitDirection,omitempty"`
	NarrowSlot     SlotKey        `json:"narrowSlot,omitempty"`
	Slot1          Placement      `json:"slot1"`
	Slot2          Placement      `json:"slot2"`
	Slot3          Placement      `json:"slot3"`
	Slot4          Placement      `json:"slot4"`
	Slot5          Placement      `json:"slot5"`
	Slot6          Placement      `json:"slot6"`
}

// UnknownLayout carries a shape tag this version does not understand.
// It resolves like a best-fit layout with everything in overflow.
type UnknownLayout struct {
	Type string `json:"type"`
}

func (BestFitLayout) Shape() Shape          { return ShapeBestFit }
func (SingleLayout) Shape() Shape           { return ShapeSingle }
func (PairLayout) Shape() Shape             { return ShapePair }
func (PictureInPictureLayout) Shape() Shape { return ShapePictureInPicture }
func (Fitted4Layout) Shape() Shape          { return ShapeFitted4 }
func (DualScreenLayout) Shape() Shape       { return ShapeDualScreen }
func (l UnknownLayout) Shape() Shape        { return Shape(l.Type) }

func (BestFitLayout) isLogicalLayout()          {}
func (SingleLayout) isLogicalLayout()           {}
func (PairLayout) isLogicalLayout()             {}
func (PictureInPictureLayout) isLogicalLayout() {}
func (Fitted4Layout) isLogicalLayout()          {}
func (DualScreenLayout) isLogicalLayout()       {}
func (UnknownLayout) isLogicalLayout()          {}

func (l *SingleLayout) fields() []*Placement { return []*Placement{&l.Slot1} }
func (l *PairLayout) fields() []*Placement   { return []*Placement{&l.Slot1, &l.Slot2} }
func (l *PictureInPictureLayout) fields() []*Placement {
	return []*Placement{&l.Slot1, &l.Slot2}
}
func (l *Fitted4Layout) fields() []*Placement {
	return []*Placement{&l.Slot1, &l.Slot2, &l.Slot3, &l.Slot4, &l.Slot5}
}
func (l *DualScreenLayout) fields() []*Placement {
	return []*Placement{&l.Slot1, &l.Slot2, &l.Slot3, &l.Slot4, &l.Slot5, &l.Slot6}
}

func (BestFitLayout) Slots() []SlotKey          { return nil }
func (SingleLayout) Slots() []SlotKey           { return slotKeys(1) }
func (PairLayout) Slots() []SlotKey             { return slotKeys(2) }
func (PictureInPictureLayout) Slots() []SlotKey { return slotKeys(2) }
func (Fitted4Layout) Slots() []SlotKey          { return slotKeys(5) }
func (DualScreenLayout) Slots() []SlotKey       { return slotKeys(6) }
func (UnknownLayout) Slots() []SlotKey          { return nil }

func (BestFitLayout) Placement(SlotKey) (Placement, bool) { return Empty, false }
func (UnknownLayout) Placement(SlotKey) (Placement, bool) { return Empty, false }
func (l SingleLayout) Placement(k SlotKey) (Placement, bool) {
	return placementAt(l.fields(), k)
}
func (l PairLayout) Placement(k SlotKey) (Placement, bool) {
	return placementAt(l.fields(), k)
}
func (l PictureInPictureLayout) Placement(k SlotKey) (Placement, bool) {
	return placementAt(l.fields(), k)
}
func (l Fitted4Layout) Placement(k SlotKey) (Placement, bool) {
	return placementAt(l.fields(), k)
}
func (l DualScreenLayout) Placement(k SlotKey) (Placement, bool) {
	return placementAt(l.fields(), k)
}

func (l BestFitLayout) WithPlacement(SlotKey, Placement) (LogicalLayout, error) {
	return l, ErrUnknownSlot
}
func (l UnknownLayout) WithPlacement(SlotKey, Placement) (LogicalLayout, error) {
	return l, ErrUnknownSlot
}
func (l SingleLayout) WithPlacement(k SlotKey, p Placement) (LogicalLayout, error) {
	err := setPlacement(l.fields(), k, p)
	return l, err
}
func (l PairLayout) WithPlacement(k SlotKey, p Placement) (LogicalLayout, error) {
	err := setPlacement(l.fields(), k, p)
	return l, err
}
func (l PictureInPictureLayout) WithPlacement(k SlotKey, p Placement) (LogicalLayout, error) {
	err := setPlacement(l.fields(), k, p)
	return l, err
}
func (l Fitted4Layout) WithPlacement(k SlotKey, p Placement) (LogicalLayout, error) {
	err := setPlacement(l.fields(), k, p)
	return l, err
}
func (l DualScreenLayout) WithPlacement(k SlotKey, p Placement) (LogicalLayout, error) {
	err := setPlacement(l.fields(), k, p)
	return l, err
}

func (l BestFitLayout) WithDefaults() LogicalLayout {
	if l.ScreenShareOrientation != OrientationVertical {
		l.ScreenShareOrientation = OrientationHorizontal
	}
	return l
}
func (l SingleLayout) WithDefaults() LogicalLayout           { return l }
func (l PairLayout) WithDefaults() LogicalLayout             { return l }
func (l PictureInPictureLayout) WithDefaults() LogicalLayout { return l }
func (l UnknownLayout) WithDefaults() LogicalLayout          { return DefaultLayout() }

func (l Fitted4Layout) WithDefaults() LogicalLayout {
	switch l.Side {
	case SideLeft, SideRight, SideTop, SideBottom:
	default:
		l.Side = SideLeft
	}
	return l
}

func (l DualScreenLayout) WithDefaults() LogicalLayout {
	if l.SplitDirection != SplitHorizontal {
		l.SplitDirection = SplitVertical
	}
	if !l.NarrowSlot.Valid() {
		l.NarrowSlot = Slot1
	}
	return l
}

func slotKeys(n int) []SlotKey {
	keys := make([]SlotKey, n)
	copy(keys, allSlots)
	return keys
}

func placementAt(fields []*Placement, k SlotKey) (Placement, bool) {
	i := k.index()
	if i < 0 || i >= len(fields) {
		return Empty, false
	}
	return *fields[i], true
}

func setPlacement(fields []*Placement, k SlotKey, p Placement) error {
	i := k.index()
	if i < 0 || i >= len(fields) {
		return ErrUnknownSlot
	}
	*fields[i] = p
	return nil
}

// MapPlacements returns a copy of layout with every slot replaced by fn's
// result. Shapes without slots are returned unchanged.
func MapPlacements(layout LogicalLayout, fn func(SlotKey, Placement) Placement) LogicalLayout {
	if layout == nil {
		return nil
	}
	out := layout
	for _, slot := range layout.Slots() {
		current, _ := out.Placement(slot)
		next, err := out.WithPlacement(slot, fn(slot, current))
		if err != nil {
			continue
		}
		out = next
	}
	return out
}
