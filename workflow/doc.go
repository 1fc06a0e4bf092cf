// Package workflow defines the staff lifecycle domain: lifecycle types,
// subject attributes, step plans resolved from declared definitions, and the
// Adapter contract that binds each step name to an action against an
// external system.
package workflow
