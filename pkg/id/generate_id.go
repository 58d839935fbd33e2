package id

import "github.com/google/uuid"

// NewRequestID returns a canonical hyphenated v4 UUID for request tracing.
func NewRequestID() string { return uuid.NewString() }
