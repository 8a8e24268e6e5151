package id

import (
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// ConnectionPrefix prefixes every connection id.
const ConnectionPrefix = "conn-"

// UUID generates a random (v4) UUID string.
func UUID() string {
	return uuid.NewString()
}

// Connection generates a unique connection id in the form "conn-<uuid>".
func Connection() string {
	return ConnectionPrefix + uuid.NewString()
}

// IsConnection reports whether s looks like an id returned by Connection.
func IsConnection(s string) bool {
	rest, ok := strings.CutPrefix(s, ConnectionPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

// Sequence hands out increasing ids starting at 1. The zero value is ready
// to use and safe for concurrent use.
type Sequence struct {
	n atomic.Uint64
}

// Next returns the next id.
func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

// Last returns the most recently issued id, or 0 if none was issued.
func (s *Sequence) Last() uint64 {
	return s.n.Load()
}
