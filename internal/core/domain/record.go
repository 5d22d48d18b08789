package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// LayoutRecord is one immutable version in a session's layout history.
type LayoutRecord struct {
	ID         string        `json:"id"`
	SessionID  SessionID     `json:"sessionId"`
	LayoutData LogicalLayout `json:"layoutData"`
	CreatedAt  time.Time     `json:"createdAt"`
}

func (r *LayoutRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         string          `json:"id"`
		SessionID  SessionID       `json:"sessionId"`
		LayoutData json.RawMessage `json:"layoutData"`
		CreatedAt  time.Time       `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	layout, err := DecodeLayout(raw.LayoutData)
	if err != nil {
		return fmt.Errorf("layout record %s: %w", raw.ID, err)
	}

	r.ID = raw.ID
	r.SessionID = raw.SessionID
	r.LayoutData = layout
	r.CreatedAt = raw.CreatedAt
	return nil
}
