package util

import "github.com/google/uuid"

// NewID returns a fresh document identifier, optionally prefixed.
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "_" + uuid.NewString()
}
