package hotswap

import (
	"testing"

	"github.com/chazu/molt/classfile"
	"github.com/chazu/molt/runtime"
)

func TestPreserveRestoreRoundTripIsNoOp(t *testing.T) {
	rt, _ := loadClass(t, greeterDef("hi"))
	p := NewStatePreserver()

	obj, _ := rt.NewInstance("Greeter")
	obj.SetField("greeting", "hi")
	obj.SetField("count", 42)

	state := p.Preserve(obj)
	if state.Len() != 2 {
		t.Fatalf("preserved %d fields, want 2", state.Len())
	}

	restored := p.Restore(obj, state)
	if restored != 2 {
		t.Errorf("restored %d fields, want 2", restored)
	}
	if v, _ := obj.GetField("greeting"); v != "hi" {
		t.Errorf("greeting = %v after round trip", v)
	}
	if v, _ := obj.GetField("count"); v != 42 {
		t.Errorf("count = %v after round trip", v)
	}
}

func TestPreserveKeepsFieldOrder(t *testing.T) {
	rt, _ := loadClass(t, greeterDef("hi"))
	p := NewStatePreserver()

	obj, _ := rt.NewInstance("Greeter")
	state := p.Preserve(obj)

	names := state.Names()
	if len(names) != 2 || names[0] != "greeting" || names[1] != "count" {
		t.Errorf("Names = %v, want declaration order", names)
	}
}

func TestRestoreSkipsVanishedFields(t *testing.T) {
	rt, _ := loadClass(t, greeterDef("hi"))
	p := NewStatePreserver()

	obj, _ := rt.NewInstance("Greeter")
	obj.SetField("greeting", "hi")
	obj.SetField("count", 7)
	state := p.Preserve(obj)

	// The class shape loses "count" between capture and restore.
	cf := greeterDef("hi")
	cf.Fields = cf.Fields[:1]
	if err := rt.Redefine("Greeter", nil, classfile.Encode(cf)); err != nil {
		t.Fatalf("Redefine failed: %v", err)
	}
	obj.AdoptLayout(rt.Lookup("Greeter").Fields())

	restored := p.Restore(obj, state)
	if restored != 1 {
		t.Errorf("restored %d fields, want 1 (count vanished)", restored)
	}
	if v, _ := obj.GetField("greeting"); v != "hi" {
		t.Errorf("greeting = %v, want hi", v)
	}
	if _, ok := obj.GetField("count"); ok {
		t.Error("count should be gone from the new shape")
	}
}

func TestPreserveIsShallow(t *testing.T) {
	rt, _ := loadClass(t, greeterDef("hi"))
	p := NewStatePreserver()

	nested, _ := rt.NewInstance("Greeter")
	nested.SetField("greeting", "inner")

	obj, _ := rt.NewInstance("Greeter")
	obj.SetField("greeting", nested)

	state := p.Preserve(obj)

	// The snapshot shares the reference; mutating the nested object is
	// visible through the captured value.
	nested.SetField("greeting", "mutated")

	v, _ := state.Value("greeting")
	captured, ok := v.(*runtime.Object)
	if !ok {
		t.Fatalf("captured value is %T, want *runtime.Object", v)
	}
	got, _ := captured.GetField("greeting")
	if got != "mutated" {
		t.Errorf("captured nested value = %v, want shared reference semantics", got)
	}
}

func TestValueLookup(t *testing.T) {
	rt, _ := loadClass(t, greeterDef("hi"))
	p := NewStatePreserver()

	obj, _ := rt.NewInstance("Greeter")
	obj.SetField("count", 9)
	state := p.Preserve(obj)

	if v, ok := state.Value("count"); !ok || v != 9 {
		t.Errorf("Value(count) = %v, %v", v, ok)
	}
	if _, ok := state.Value("missing"); ok {
		t.Error("Value(missing) should report absence")
	}
}
