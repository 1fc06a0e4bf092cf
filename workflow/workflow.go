package workflow

import (
	"errors"
	"fmt"
)

// LifecycleType identifies which business process a request drives.
type LifecycleType string

const (
	Onboarding  LifecycleType = "onboarding"
	Offboarding LifecycleType = "offboarding"
)

// Valid reports whether t is a known lifecycle type.
func (t LifecycleType) Valid() bool {
	switch t {
	case Onboarding, Offboarding:
		return true
	}
	return false
}

var (
	ErrInvalidLifecycleType = errors.New("invalid lifecycle type")
	ErrEmptyAttributes      = errors.New("empty attributes")
	ErrMissingName          = errors.New("missing subject name")
	ErrMissingEmail         = errors.New("missing subject email")
)

// Attributes describe the staff member a lifecycle request is about.
// Flags carry the inclusion switches evaluated by step predicates at
// request creation.
type Attributes struct {
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Role       string          `json:"role,omitempty"`
	Department string          `json:"department,omitempty"`
	Manager    string          `json:"manager,omitempty"`
	StartDate  string          `json:"start_date,omitempty"`
	EndDate    string          `json:"end_date,omitempty"`
	Phone      string          `json:"phone,omitempty"`
	Flags      map[string]bool `json:"flags,omitempty"`
}

// Flag returns the named inclusion flag.
// An absent or unknown flag is false. Predicates depend on this: a step
// whose predicate references a flag the submission never defined is
// excluded rather than erroring.
func (a *Attributes) Flag(name string) bool {
	if a == nil || a.Flags == nil {
		return false
	}
	return a.Flags[name]
}

// Validate checks a for the attributes required by lifecycle type t.
func (a *Attributes) Validate(t LifecycleType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidLifecycleType, t)
	}
	if a == nil {
		return ErrEmptyAttributes
	}
	if a.Name == "" {
		return ErrMissingName
	}
	if a.Email == "" {
		return ErrMissingEmail
	}
	return nil
}
