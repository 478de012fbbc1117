// Package uuidx generates the time ordered ids used for runs, messages and bus events.
package uuidx

import "github.com/google/uuid"

// ShortLen is the length of the ids returned by Short.
const ShortLen = 8

// New returns a version 7 UUID. It panics when the random source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns New in its canonical string form.
func NewString() string {
	return New().String()
}

// Short returns a short random suffix for human readable names such as sub-agent instances.
// The leading bytes of a v7 id are a timestamp, so the suffix is taken from the random tail.
func Short() string {
	s := NewString()
	return s[len(s)-ShortLen:]
}
