package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxIDLength       = 128
	MaxHistoryLimit   = 500
	MaxViewportsCount = 256
)

var (
	// SessionIDRegex validates session ID format
	SessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

	// MediaIDRegex validates stream and connection IDs. Browsers hand out
	// track ids with braces, so those are allowed too.
	MediaIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._:{}-]+$`)
)

// ValidateSessionID validates session ID
func ValidateSessionID(sessionID string) error {
	return validateID(sessionID, "session ID", SessionIDRegex)
}

// ValidateStreamID validates stream ID
func ValidateStreamID(streamID string) error {
	return validateID(streamID, "stream ID", MediaIDRegex)
}

// ValidateConnectionID validates connection ID
func ValidateConnectionID(connectionID string) error {
	return validateID(connectionID, "connection ID", MediaIDRegex)
}

func validateID(id, name string, re *regexp.Regexp) error {
	if id == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", name, maxIDLength)
	}
	if !re.MatchString(id) {
		return fmt.Errorf("invalid %s format", name)
	}
	return nil
}

// ValidateHistoryLimit validates the page size of a history query. Zero means
// the server default.
func ValidateHistoryLimit(limit int) error {
	if limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	if limit > MaxHistoryLimit {
		return fmt.Errorf("limit is too high (max %d)", MaxHistoryLimit)
	}
	return nil
}

// ValidateViewportCount bounds the viewport list a viewer may push.
func ValidateViewportCount(n int) error {
	if n > MaxViewportsCount {
		return fmt.Errorf("too many viewports (max %d)", MaxViewportsCount)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
