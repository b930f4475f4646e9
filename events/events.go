// Package events defines the domain events the hot-swap pipeline emits
// and the boundary through which they leave it.
//
// Every event is wrapped in an envelope carrying a unique ID, the event
// type, the class it concerns, and a timestamp, so the audit journal can
// replay a class's history and tooling can correlate events to changes.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event kind.
type Type string

const (
	TypeChangeReceived        Type = "change.received"
	TypeBytecodeValidated     Type = "bytecode.validated"
	TypeBytecodeRejected      Type = "bytecode.rejected"
	TypeHotSwapRequested      Type = "hotswap.requested"
	TypeRedefinitionSucceeded Type = "redefinition.succeeded"
	TypeRedefinitionFailed    Type = "redefinition.failed"
	TypeInstancesUpdated      Type = "instances.updated"
)

// Event is the envelope every domain event travels in. Attrs carries the
// event-specific payload as flat string pairs; consumers that need more
// structure parse the values they know about.
type Event struct {
	ID       string            `cbor:"id"`
	Type     Type              `cbor:"type"`
	Class    string            `cbor:"class"`
	At       time.Time         `cbor:"at"`
	Terminal bool              `cbor:"terminal"`
	Attrs    map[string]string `cbor:"attrs,omitempty"`
}

// Emitter is the boundary the pipeline hands events to. Implementations
// (audit journal, tooling relay, test recorders) decide what emission
// means; the pipeline only guarantees it emits exactly one terminal
// event per change that reaches a terminal state.
type Emitter interface {
	Emit(Event)
}

// Fanout emits to every emitter in order.
type Fanout []Emitter

func (f Fanout) Emit(e Event) {
	for _, em := range f {
		em.Emit(e)
	}
}

// Discard is an Emitter that drops everything.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}

func newEvent(t Type, class string, terminal bool, attrs map[string]string) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     t,
		Class:    class,
		At:       time.Now().UTC(),
		Terminal: terminal,
		Attrs:    attrs,
	}
}

// ---------------------------------------------------------------------------
// Event constructors
// ---------------------------------------------------------------------------

// ChangeReceived records that a proposed class change entered the pipeline.
func ChangeReceived(class, path string) Event {
	return newEvent(TypeChangeReceived, class, false, map[string]string{
		"path": path,
	})
}

// BytecodeValidated records a change passing compatibility validation.
func BytecodeValidated(class string) Event {
	return newEvent(TypeBytecodeValidated, class, false, nil)
}

// BytecodeRejected records a change refused by validation. Terminal.
func BytecodeRejected(class, rule, reason string) Event {
	return newEvent(TypeBytecodeRejected, class, true, map[string]string{
		"rule":   rule,
		"reason": reason,
	})
}

// HotSwapRequested records a redefinition request being handed to the runtime.
func HotSwapRequested(class string) Event {
	return newEvent(TypeHotSwapRequested, class, false, nil)
}

// RedefinitionSucceeded records the runtime accepting a redefinition.
func RedefinitionSucceeded(class string, instanceHint int, duration time.Duration) Event {
	return newEvent(TypeRedefinitionSucceeded, class, false, map[string]string{
		"instanceHint": fmt.Sprintf("%d", instanceHint),
		"duration":     duration.String(),
	})
}

// RedefinitionFailed records a failure at the named pipeline stage. Terminal.
func RedefinitionFailed(class, stage, reason string, duration time.Duration) Event {
	return newEvent(TypeRedefinitionFailed, class, true, map[string]string{
		"stage":    stage,
		"reason":   reason,
		"duration": duration.String(),
	})
}

// InstancesUpdated records the terminal result of the instance update phase.
func InstancesUpdated(class, strategy string, total, updated, failed int, duration time.Duration, detail string) Event {
	return newEvent(TypeInstancesUpdated, class, true, map[string]string{
		"strategy": strategy,
		"total":    fmt.Sprintf("%d", total),
		"updated":  fmt.Sprintf("%d", updated),
		"failed":   fmt.Sprintf("%d", failed),
		"duration": duration.String(),
		"detail":   detail,
	})
}
