package hotswap

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/molt/runtime"
)

// ErrNotValidated is returned when a redefinition request is built from
// anything other than a validated outcome.
var ErrNotValidated = errors.New("redefinition requires a validated outcome")

// RedefinitionRequest pairs a validated change with the class's current
// image. One request maps to exactly one redefinition attempt: requests
// are one-shot, and performing one twice is refused.
type RedefinitionRequest struct {
	Identity   ClassIdentity
	OldImage   []byte
	NewImage   []byte
	Validation ValidationOutcome
	At         time.Time

	performed atomic.Bool
}

// RedefinitionOutcome classifies one redefinition attempt. Reason is
// empty on success; on failure it carries the runtime's diagnostic.
// InstanceHint is the runtime's live-instance count for the class at
// redefinition time, attached for observability; the migration set
// itself comes from the instance tracker.
type RedefinitionOutcome struct {
	Identity     ClassIdentity
	InstanceHint int
	Duration     time.Duration
	Reason       string
}

// Succeeded reports whether the runtime accepted the redefinition.
func (o RedefinitionOutcome) Succeeded() bool {
	return o.Reason == ""
}

// ---------------------------------------------------------------------------
// RedefinitionOrchestrator
// ---------------------------------------------------------------------------

// RedefinitionOrchestrator turns validated changes into redefinition
// requests and performs them against the runtime, serialized through a
// RedefineWorker. Every failure mode - runtime refusal, concurrent
// unload, a panic inside the replace call - is classified into a Failed
// outcome; nothing escapes as a raw fault.
type RedefinitionOrchestrator struct {
	rt     *runtime.Runtime
	worker *RedefineWorker
	log    commonlog.Logger
}

// NewRedefinitionOrchestrator creates an orchestrator performing against
// rt through worker.
func NewRedefinitionOrchestrator(rt *runtime.Runtime, worker *RedefineWorker) *RedefinitionOrchestrator {
	return &RedefinitionOrchestrator{
		rt:     rt,
		worker: worker,
		log:    commonlog.GetLogger("molt.orchestrator"),
	}
}

// NewRequest builds a redefinition request from a validated outcome,
// capturing the class's current image as the expected old image.
func (o *RedefinitionOrchestrator) NewRequest(outcome ValidationOutcome) (*RedefinitionRequest, error) {
	if !outcome.Validated() {
		return nil, ErrNotValidated
	}
	return &RedefinitionRequest{
		Identity:   outcome.Identity,
		OldImage:   outcome.Identity.Handle.Image(),
		NewImage:   outcome.NewImage,
		Validation: outcome,
		At:         time.Now(),
	}, nil
}

// Perform invokes the runtime's replace primitive for the request. The
// call is atomic from the caller's perspective: it either lands or it
// doesn't, and there is nothing to cancel once it has been submitted.
func (o *RedefinitionOrchestrator) Perform(req *RedefinitionRequest) RedefinitionOutcome {
	start := time.Now()

	if !req.performed.CompareAndSwap(false, true) {
		return RedefinitionOutcome{
			Identity: req.Identity,
			Duration: time.Since(start),
			Reason:   "request already performed: redefinition requests are one-shot",
		}
	}

	err := o.worker.Do(func() error {
		return o.rt.Redefine(req.Identity.Name, req.OldImage, req.NewImage)
	})
	elapsed := time.Since(start)

	if err != nil {
		o.log.Errorf("redefinition of %s failed after %s: %v", req.Identity.Name, elapsed, err)
		return RedefinitionOutcome{
			Identity: req.Identity,
			Duration: elapsed,
			Reason:   err.Error(),
		}
	}

	o.log.Infof("redefined %s in %s", req.Identity.Name, elapsed)
	return RedefinitionOutcome{
		Identity:     req.Identity,
		InstanceHint: o.rt.LiveCount(req.Identity.Name),
		Duration:     elapsed,
	}
}
