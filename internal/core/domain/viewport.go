package domain

type ConnectionID string
type StreamID string
type SessionID string

type ViewportKind string

const (
	KindCamera ViewportKind = "camera"
	KindScreen ViewportKind = "screen"
)

// Viewport is one participant feed as known locally. StreamID is empty while
// the connection is still negotiating media.
type Viewport struct {
	ConnectionID  ConnectionID `json:"connectionId"`
	StreamID      StreamID     `json:"streamId,omitempty"`
	AssociatedIDs []string     `json:"associatedIds,omitempty"`
	IsSelf        bool         `json:"isSelf"`
	JoinedAt      int64        `json:"joinedAt"`
	Kind          ViewportKind `json:"kind"`
}

func (v Viewport) HasStream() bool {
	return v.StreamID != ""
}

func (v Viewport) IsScreenShare() bool {
	return v.Kind == KindScreen
}

// AssociatedWith reports whether v lists the stream or connection of other
// among its associated ids.
func (v Viewport) AssociatedWith(other Viewport) bool {
	for _, id := range v.AssociatedIDs {
		if id == "" {
			continue
		}
		if other.HasStream() && id == string(other.StreamID) {
			return true
		}
		if id == string(other.ConnectionID) {
			return true
		}
	}
	return false
}
