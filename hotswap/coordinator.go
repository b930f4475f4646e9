package hotswap

import (
	"errors"
	"fmt"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/molt/events"
	"github.com/chazu/molt/runtime"
)

// ErrUnknownClass is returned when a change targets a class the runtime
// has not loaded. New classes are not hot-swapped into existence; they
// load through the normal path.
var ErrUnknownClass = errors.New("target class is not loaded")

// ---------------------------------------------------------------------------
// Pipeline phases
// ---------------------------------------------------------------------------

// Phase is a change's position in the pipeline state machine:
//
//	RECEIVED → VALIDATING → {REJECTED | VALIDATED} → REQUESTING →
//	REDEFINING → {FAILED | REDEFINED} → UPDATING_INSTANCES → COMPLETED
//
// REJECTED, FAILED, and COMPLETED are terminal; there is no retry
// transition out of them. A corrected change starts a fresh traversal.
type Phase int

const (
	PhaseReceived Phase = iota
	PhaseValidating
	PhaseRejected
	PhaseValidated
	PhaseRequesting
	PhaseRedefining
	PhaseFailed
	PhaseRedefined
	PhaseUpdatingInstances
	PhaseCompleted
)

var phaseNames = [...]string{
	"RECEIVED",
	"VALIDATING",
	"REJECTED",
	"VALIDATED",
	"REQUESTING",
	"REDEFINING",
	"FAILED",
	"REDEFINED",
	"UPDATING_INSTANCES",
	"COMPLETED",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Terminal reports whether the phase ends a change's traversal.
func (p Phase) Terminal() bool {
	return p == PhaseRejected || p == PhaseFailed || p == PhaseCompleted
}

// PipelineResult summarizes one change's traversal. Exactly one of the
// stage results past Phase is populated per terminal phase; Err is set
// only on the hard-error paths (malformed image, unknown class).
type PipelineResult struct {
	Phase        Phase
	Change       ProposedChange
	Validation   *ValidationOutcome
	Redefinition *RedefinitionOutcome
	Update       *InstancesUpdatedResult
	Err          error
}

// ---------------------------------------------------------------------------
// Coordinator
// ---------------------------------------------------------------------------

// Coordinator sequences the pipeline: validate, request, redefine,
// update instances, emit. Collaborators are constructor-supplied so each
// can be substituted in isolation. The coordinator emits exactly one
// terminal event per change that reaches a terminal phase.
type Coordinator struct {
	rt           *runtime.Runtime
	validator    *BytecodeValidator
	orchestrator *RedefinitionOrchestrator
	tracker      *InstanceTracker
	preserver    *StatePreserver
	updater      *InstanceUpdater
	emitter      events.Emitter
	log          commonlog.Logger
}

// NewCoordinator wires a pipeline from its collaborators.
func NewCoordinator(
	rt *runtime.Runtime,
	validator *BytecodeValidator,
	orchestrator *RedefinitionOrchestrator,
	tracker *InstanceTracker,
	preserver *StatePreserver,
	updater *InstanceUpdater,
	emitter events.Emitter,
) *Coordinator {
	if emitter == nil {
		emitter = events.Discard
	}
	return &Coordinator{
		rt:           rt,
		validator:    validator,
		orchestrator: orchestrator,
		tracker:      tracker,
		preserver:    preserver,
		updater:      updater,
		emitter:      emitter,
		log:          commonlog.GetLogger("molt.pipeline"),
	}
}

// NewDefaultCoordinator builds a pipeline with stock collaborators over
// the given runtime.
func NewDefaultCoordinator(rt *runtime.Runtime, emitter events.Emitter) *Coordinator {
	tracker := NewInstanceTracker()
	preserver := NewStatePreserver()
	return NewCoordinator(
		rt,
		NewBytecodeValidator(),
		NewRedefinitionOrchestrator(rt, NewRedefineWorker()),
		tracker,
		preserver,
		NewInstanceUpdater(rt, tracker, preserver),
		emitter,
	)
}

// Tracker exposes the instance tracker for collaborators that observe
// instances (object construction hooks, backup tooling). Read-only from
// the pipeline's point of view.
func (c *Coordinator) Tracker() *InstanceTracker {
	return c.tracker
}

// Preserver exposes the state preserver for backup tooling.
func (c *Coordinator) Preserver() *StatePreserver {
	return c.preserver
}

// Process runs one proposed change through the whole pipeline and
// returns its terminal result. Failures at any stage stop the pipeline
// there and surface as the terminal event for this change; Process
// never panics past its own boundary.
func (c *Coordinator) Process(className string, image []byte, path string, at time.Time) PipelineResult {
	c.log.Debugf("%s: %s", PhaseReceived, className)

	handle := c.rt.Lookup(className)
	if handle == nil {
		err := fmt.Errorf("%w: %s", ErrUnknownClass, className)
		c.emitter.Emit(events.RedefinitionFailed(className, "receive", err.Error(), 0))
		return PipelineResult{Phase: PhaseFailed, Err: err}
	}

	change := ProposedChange{
		Identity: ClassIdentity{Name: className, Handle: handle},
		NewImage: image,
		Path:     path,
		At:       at,
	}
	c.emitter.Emit(events.ChangeReceived(className, path))

	// VALIDATING
	c.log.Debugf("%s: %s", PhaseValidating, className)
	outcome, err := c.validator.Validate(change)
	if err != nil {
		// Malformed input: a broken binary upstream, not an
		// incompatible change.
		c.emitter.Emit(events.RedefinitionFailed(className, "validate", err.Error(), 0))
		return PipelineResult{Phase: PhaseFailed, Change: change, Err: err}
	}
	if !outcome.Validated() {
		c.log.Infof("%s: %s: %s", PhaseRejected, className, outcome.Reason)
		c.emitter.Emit(events.BytecodeRejected(className, string(outcome.Rule), outcome.Reason))
		return PipelineResult{Phase: PhaseRejected, Change: change, Validation: &outcome}
	}
	c.emitter.Emit(events.BytecodeValidated(className))

	// REQUESTING
	c.log.Debugf("%s: %s", PhaseRequesting, className)
	req, err := c.orchestrator.NewRequest(outcome)
	if err != nil {
		c.emitter.Emit(events.RedefinitionFailed(className, "request", err.Error(), 0))
		return PipelineResult{Phase: PhaseFailed, Change: change, Validation: &outcome, Err: err}
	}
	c.emitter.Emit(events.HotSwapRequested(className))

	// REDEFINING
	c.log.Debugf("%s: %s", PhaseRedefining, className)
	redef := c.orchestrator.Perform(req)
	if !redef.Succeeded() {
		c.emitter.Emit(events.RedefinitionFailed(className, "redefine", redef.Reason, redef.Duration))
		return PipelineResult{
			Phase:        PhaseFailed,
			Change:       change,
			Validation:   &outcome,
			Redefinition: &redef,
		}
	}
	c.emitter.Emit(events.RedefinitionSucceeded(className, redef.InstanceHint, redef.Duration))

	// UPDATING_INSTANCES
	c.log.Debugf("%s: %s", PhaseUpdatingInstances, className)
	update := c.updater.UpdateInstances(redef)
	c.emitter.Emit(events.InstancesUpdated(
		className,
		update.Strategy.String(),
		update.TotalFound,
		update.Updated,
		update.Failed,
		update.Duration,
		update.Detail,
	))

	c.log.Infof("%s: %s", PhaseCompleted, className)
	return PipelineResult{
		Phase:        PhaseCompleted,
		Change:       change,
		Validation:   &outcome,
		Redefinition: &redef,
		Update:       &update,
	}
}
