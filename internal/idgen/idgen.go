// Package idgen generates opaque unique identifiers. It wraps the UUID
// generator behind a stub point so tests can produce deterministic IDs.
package idgen

import "github.com/google/uuid"

// NewFunc produces a new identifier; override in tests.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new globally unique identifier.
func New() string { return NewFunc() }
