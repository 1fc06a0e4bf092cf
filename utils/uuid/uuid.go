// Package uuid provides ID generation and test helpers for it.
package uuid

import "github.com/google/uuid"

// IDers generate identifiers.
type IDer interface {
	ID() string
}

// UUID generates random UUID identifiers.
type UUID struct{}

// NewUUID creates a new UUID ID generator.
func NewUUID() *UUID {
	return &UUID{}
}

// ID generates a new UUID string.
func (u *UUID) ID() string {
	return uuid.NewString()
}

// StaticIDs cycles through a fixed list of IDs. For tests needing
// deterministic identifiers.
type StaticIDs struct {
	ids []string
	i   int
}

// NewStaticIDs creates a new static ID generator over ids.
func NewStaticIDs(ids ...string) *StaticIDs {
	return &StaticIDs{ids: ids}
}

// ID returns the next ID, wrapping around at the end of the list.
func (s *StaticIDs) ID() string {
	id := s.ids[s.i%len(s.ids)]
	s.i++
	return id
}
