package domain

import (
	"encoding/json"
	"fmt"
)

type PlacementKind uint8

const (
	PlacementEmpty PlacementKind = iota
	PlacementByStream
	PlacementByConnection
)

// Placement names what a slot should show. ByStream matches a viewport by its
// stream identity once media exists; ByConnection reserves a slot for a
// connection that has not produced a stream yet.
type Placement struct {
	kind PlacementKind
	id   string
}

// Empty is the placement of an unassigned slot.
var Empty = Placement{}

func ByStream(id StreamID) Placement {
	if id == "" {
		return Empty
	}
	return Placement{kind: PlacementByStream, id: string(id)}
}

func ByConnection(id ConnectionID) Placement {
	if id == "" {
		return Empty
	}
	return Placement{kind: PlacementByConnection, id: string(id)}
}

func (p Placement) Kind() PlacementKind { return p.kind }

func (p Placement) IsEmpty() bool { return p.kind == PlacementEmpty }

func (p Placement) StreamID() (StreamID, bool) {
	if p.kind != PlacementByStream {
		return "", false
	}
	return StreamID(p.id), true
}

func (p Placement) ConnectionID() (ConnectionID, bool) {
	if p.kind != PlacementByConnection {
		return "", false
	}
	return ConnectionID(p.id), true
}

// Matches reports whether v is the viewport this placement refers to.
// A ByConnection placement never matches a viewport that already has a stream.
func (p Placement) Matches(v Viewport) bool {
	switch p.kind {
	case PlacementByStream:
		return v.HasStream() && string(v.StreamID) == p.id
	case PlacementByConnection:
		return !v.HasStream() && string(v.ConnectionID) == p.id
	default:
		return false
	}
}

// SameTarget reports whether both placements name the same stream or the
// same connection.
func (p Placement) SameTarget(other Placement) bool {
	return !p.IsEmpty() && p == other
}

func (p Placement) String() string {
	switch p.kind {
	case PlacementByStream:
		return "stream:" + p.id
	case PlacementByConnection:
		return "connection:" + p.id
	default:
		return "empty"
	}
}

type placementWire struct {
	StreamID     StreamID     `json:"streamId,omitempty"`
	ConnectionID ConnectionID `json:"connectionId,omitempty"`
}

func (p Placement) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case PlacementByStream:
		return json.Marshal(placementWire{StreamID: StreamID(p.id)})
	case PlacementByConnection:
		return json.Marshal(placementWire{ConnectionID: ConnectionID(p.id)})
	default:
		return []byte("null"), nil
	}
}

func (p *Placement) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = Empty
		return nil
	}

	var w placementWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("invalid placement: %w", err)
	}

	switch {
	case w.StreamID != "":
		*p = ByStream(w.StreamID)
	case w.ConnectionID != "":
		*p = ByConnection(w.ConnectionID)
	default:
		*p = Empty
	}
	return nil
}
