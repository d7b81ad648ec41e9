// Package idgen provides ID generation.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// UUID generates random UUID identifiers.
type UUID struct{}

// New returns a new UUID string.
func (UUID) New() string {
	return uuid.NewString()
}

// Sequential generates predictable IDs for testing.
type Sequential struct {
	Prefix  string
	counter int64
}

// New returns the next ID in sequence.
func (s *Sequential) New() string {
	n := atomic.AddInt64(&s.counter, 1)
	return fmt.Sprintf("%s%d", s.Prefix, n)
}
