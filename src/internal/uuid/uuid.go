// Package uuid generates random identifiers.
package uuid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a new uuid.
func New() string {
	return uuid.NewString()
}

// NewWithoutDashes returns a new uuid without no "-".
func NewWithoutDashes() string {
	return strings.ReplaceAll(New(), "-", "")
}

// IsUUIDWithoutDashes checks whether a string is a UUID without dashes.
func IsUUIDWithoutDashes(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
