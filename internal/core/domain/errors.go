package domain

import "errors"

var (
	ErrLayoutNotFound  = errors.New("layout not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrUnknownSlot     = errors.New("slot does not exist in layout")
	ErrUnknownShape    = errors.New("unknown layout shape")
	ErrEmptySessionID  = errors.New("session id is empty")
)
