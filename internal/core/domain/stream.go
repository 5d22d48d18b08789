package domain

// AvailableStream is a roster entry offered to placement UIs. The roster may
// lag the live viewport list.
type AvailableStream struct {
	ConnectionID ConnectionID `json:"connectionId" binding:"required"`
	StreamID     StreamID     `json:"streamId,omitempty"`
	DisplayName  string       `json:"displayName,omitempty"`
	Kind         ViewportKind `json:"kind"`
}
