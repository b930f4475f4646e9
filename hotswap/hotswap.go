// Package hotswap implements the live class replacement pipeline:
// bytecode compatibility validation, redefinition orchestration against
// the runtime, and migration of live instances after a successful
// redefinition.
//
// One change flows one way through the pipeline:
//
//	ProposedChange → ValidationOutcome → RedefinitionRequest →
//	RedefinitionOutcome → InstancesUpdatedResult
//
// Every object in the chain is immutable after creation. Incompatible
// changes are normal outcomes carried as values; only a malformed class
// image is a hard error.
package hotswap

import (
	"time"

	"github.com/chazu/molt/runtime"
)

// ClassIdentity names a loaded class: its fully-qualified name plus the
// runtime handle it currently maps to. A redefinition changes the class's
// definition in place, so the identity is stable across hot-swaps.
type ClassIdentity struct {
	Name   string
	Handle *runtime.Class
}

func (id ClassIdentity) String() string {
	return id.Name
}

// ProposedChange is a new class binary entering the pipeline. Created
// when a change notification arrives; consumed by validation; never
// mutated.
type ProposedChange struct {
	Identity ClassIdentity
	NewImage []byte
	Path     string
	At       time.Time
}
