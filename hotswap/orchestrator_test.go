package hotswap

import (
	"errors"
	gort "runtime"
	"strings"
	"testing"

	"github.com/chazu/molt/classfile"
	"github.com/chazu/molt/runtime"
)

func newOrchestrator(t *testing.T, rt *runtime.Runtime) *RedefinitionOrchestrator {
	t.Helper()
	w := NewRedefineWorker()
	t.Cleanup(w.Stop)
	return NewRedefinitionOrchestrator(rt, w)
}

func TestNewRequestRequiresValidatedOutcome(t *testing.T) {
	rt, _ := loadClass(t, greeterDef("hi"))
	o := newOrchestrator(t, rt)

	rejected := ValidationOutcome{
		Identity: identityOf(t, rt, "Greeter"),
		Rule:     RuleFieldLayout,
		Reason:   "field removed",
	}
	if _, err := o.NewRequest(rejected); !errors.Is(err, ErrNotValidated) {
		t.Errorf("expected ErrNotValidated, got %v", err)
	}
}

func TestPerformSucceeds(t *testing.T) {
	rt, c := loadClass(t, greeterDef("hi"))
	o := newOrchestrator(t, rt)
	a, _ := rt.NewInstance("Greeter")
	b, _ := rt.NewInstance("Greeter")

	req, err := o.NewRequest(validateChange(t, rt, "Greeter", greeterDef("hello")))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	outcome := o.Perform(req)
	if !outcome.Succeeded() {
		t.Fatalf("Perform failed: %s", outcome.Reason)
	}
	if outcome.InstanceHint != 2 {
		t.Errorf("InstanceHint = %d, want 2", outcome.InstanceHint)
	}
	if outcome.Duration <= 0 {
		t.Error("Duration not recorded")
	}
	if string(c.Method("greet").Code) != "hello" {
		t.Error("runtime not redefined")
	}
	gort.KeepAlive(a)
	gort.KeepAlive(b)
}

func TestPerformIsOneShot(t *testing.T) {
	rt, _ := loadClass(t, greeterDef("hi"))
	o := newOrchestrator(t, rt)

	req, err := o.NewRequest(validateChange(t, rt, "Greeter", greeterDef("hello")))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	first := o.Perform(req)
	if !first.Succeeded() {
		t.Fatalf("first Perform failed: %s", first.Reason)
	}

	second := o.Perform(req)
	if second.Succeeded() {
		t.Fatal("second Perform on the same request should be refused")
	}
	if !strings.Contains(second.Reason, "one-shot") {
		t.Errorf("Reason = %q", second.Reason)
	}
}

func TestPerformMapsRuntimeRefusalToFailed(t *testing.T) {
	rt, _ := loadClass(t, greeterDef("hi"))
	o := newOrchestrator(t, rt)

	req, err := o.NewRequest(validateChange(t, rt, "Greeter", greeterDef("hello")))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	// Race: someone else redefines the class between request and perform.
	if err := rt.Redefine("Greeter", nil, classfile.Encode(greeterDef("raced"))); err != nil {
		t.Fatalf("Redefine failed: %v", err)
	}

	outcome := o.Perform(req)
	if outcome.Succeeded() {
		t.Fatal("stale request should be refused by the runtime")
	}
	if !strings.Contains(outcome.Reason, "old image") {
		t.Errorf("Reason = %q, want the runtime's stale-image diagnostic", outcome.Reason)
	}
}

func TestPerformWithClassAlreadyAtTarget(t *testing.T) {
	rt, _ := loadClass(t, greeterDef("hi"))
	o := newOrchestrator(t, rt)

	// A distinct request for the image the class already has.
	req, err := o.NewRequest(validateChange(t, rt, "Greeter", greeterDef("hi")))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	outcome := o.Perform(req)
	if !outcome.Succeeded() {
		t.Errorf("redefining to the current image should succeed: %s", outcome.Reason)
	}
}
