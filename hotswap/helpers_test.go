package hotswap

import (
	"testing"

	"github.com/chazu/molt/classfile"
	"github.com/chazu/molt/events"
	"github.com/chazu/molt/runtime"
)

// greeterDef builds the canonical test class: two fields, one public
// method whose body is the given bytecode.
func greeterDef(code string) *classfile.ClassFile {
	return &classfile.ClassFile{
		Name:   "Greeter",
		Traits: []string{"Printable"},
		Fields: []classfile.Field{
			{Name: "greeting", Kind: classfile.KindValue},
			{Name: "count", Kind: classfile.KindValue},
		},
		Methods: []classfile.Method{
			{Selector: "greet", Arity: 0, Visibility: classfile.Public, Code: []byte(code)},
			{Selector: "reset", Arity: 0, Visibility: classfile.Private, Code: []byte("r")},
		},
	}
}

// loadClass loads a class file into a fresh runtime.
func loadClass(t *testing.T, cf *classfile.ClassFile) (*runtime.Runtime, *runtime.Class) {
	t.Helper()
	rt := runtime.NewRuntime()
	c, err := rt.Load(classfile.Encode(cf))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return rt, c
}

// identityOf resolves a ClassIdentity for a loaded class.
func identityOf(t *testing.T, rt *runtime.Runtime, name string) ClassIdentity {
	t.Helper()
	c := rt.Lookup(name)
	if c == nil {
		t.Fatalf("class %s not loaded", name)
	}
	return ClassIdentity{Name: name, Handle: c}
}

// changeFor wraps a class file into a ProposedChange against a loaded class.
func changeFor(t *testing.T, rt *runtime.Runtime, name string, cf *classfile.ClassFile) ProposedChange {
	t.Helper()
	return ProposedChange{
		Identity: identityOf(t, rt, name),
		NewImage: classfile.Encode(cf),
		Path:     "test/" + name + ".mcls",
	}
}

// validateChange runs validation and fails the test on a hard error.
func validateChange(t *testing.T, rt *runtime.Runtime, name string, cf *classfile.ClassFile) ValidationOutcome {
	t.Helper()
	outcome, err := NewBytecodeValidator().Validate(changeFor(t, rt, name, cf))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	return outcome
}

// emitRecorder captures emitted events for assertions.
type emitRecorder struct {
	events []events.Event
}

func (r *emitRecorder) Emit(e events.Event) {
	r.events = append(r.events, e)
}

func (r *emitRecorder) terminal() []events.Event {
	var out []events.Event
	for _, e := range r.events {
		if e.Terminal {
			out = append(out, e)
		}
	}
	return out
}

func (r *emitRecorder) has(t events.Type) bool {
	for _, e := range r.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

// newTestPipeline wires a full coordinator over rt with a recording emitter.
func newTestPipeline(t *testing.T, rt *runtime.Runtime) (*Coordinator, *emitRecorder) {
	t.Helper()
	rec := &emitRecorder{}
	worker := NewRedefineWorker()
	t.Cleanup(worker.Stop)

	tracker := NewInstanceTracker()
	preserver := NewStatePreserver()
	coord := NewCoordinator(
		rt,
		NewBytecodeValidator(),
		NewRedefinitionOrchestrator(rt, worker),
		tracker,
		preserver,
		NewInstanceUpdater(rt, tracker, preserver),
		rec,
	)
	return coord, rec
}
