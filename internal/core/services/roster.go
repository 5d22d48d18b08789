package services

import (
	"sync"

	"tilecast/internal/core/domain"
)

// StreamRoster holds the AvailableStream list offered to placement UIs. The
// transport layer replaces it wholesale; readers always get a full snapshot.
type StreamRoster struct {
	mu      sync.RWMutex
	streams []domain.AvailableStream
}

func NewStreamRoster() *StreamRoster {
	return &StreamRoster{}
}

func (r *StreamRoster) Replace(streams []domain.AvailableStream) {
	next := make([]domain.AvailableStream, len(streams))
	copy(next, streams)

	r.mu.Lock()
	r.streams = next
	r.mu.Unlock()
}

func (r *StreamRoster) Snapshot() RosterSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AvailableStream, len(r.streams))
	copy(out, r.streams)
	return RosterSnapshot(out)
}

// RosterSnapshot is an immutable copy of the roster at one point in time.
type RosterSnapshot []domain.AvailableStream

func (s RosterSnapshot) HasStream(id domain.StreamID) bool {
	for _, st := range s {
		if st.StreamID != "" && st.StreamID == id {
			return true
		}
	}
	return false
}

func (s RosterSnapshot) HasConnection(id domain.ConnectionID) bool {
	for _, st := range s {
		if st.ConnectionID == id {
			return true
		}
	}
	return false
}

// Contains reports whether the placement's target is present in the roster.
// Empty placements are trivially contained.
func (s RosterSnapshot) Contains(p domain.Placement) bool {
	if id, ok := p.StreamID(); ok {
		return s.HasStream(id)
	}
	if id, ok := p.ConnectionID(); ok {
		return s.HasConnection(id)
	}
	return true
}

// SameParticipant reports whether a and b refer to the same feed, either
// directly or because the roster links a connection to the stream it
// produced.
func (s RosterSnapshot) SameParticipant(a, b domain.Placement) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return false
	}
	if a.SameTarget(b) {
		return true
	}

	stream, conn := a, b
	if _, ok := stream.StreamID(); !ok {
		stream, conn = b, a
	}
	sid, okS := stream.StreamID()
	cid, okC := conn.ConnectionID()
	if !okS || !okC {
		return false
	}
	for _, st := range s {
		if st.ConnectionID == cid && st.StreamID == sid {
			return true
		}
	}
	return false
}

// RosterFromViewports lists every viewport as an available stream. A
// stream-less viewport is offered by connection only.
func RosterFromViewports(viewports []domain.Viewport) []domain.AvailableStream {
	streams := make([]domain.AvailableStream, 0, len(viewports))
	for _, v := range viewports {
		streams = append(streams, domain.AvailableStream{
			ConnectionID: v.ConnectionID,
			StreamID:     v.StreamID,
			Kind:         v.Kind,
		})
	}
	return streams
}
