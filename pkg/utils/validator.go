package utils

import (
	"fmt"
	"unicode"
)

// MaxUserIDLength bounds identifiers accepted from callers
const MaxUserIDLength = 128

// ValidateUserID checks a caller supplied user identifier: non-empty,
// bounded, and free of whitespace and control characters.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if len(id) > MaxUserIDLength {
		return fmt.Errorf("user id exceeds %d characters", MaxUserIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("user id contains invalid character %q", r)
		}
	}
	return nil
}
