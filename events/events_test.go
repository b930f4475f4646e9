package events

import (
	"testing"
	"time"
)

func TestConstructorsSetTerminalFlag(t *testing.T) {
	tests := []struct {
		event    Event
		wantType Type
		terminal bool
	}{
		{ChangeReceived("Greeter", "build/Greeter.mcls"), TypeChangeReceived, false},
		{BytecodeValidated("Greeter"), TypeBytecodeValidated, false},
		{BytecodeRejected("Greeter", "field-layout", "field removed"), TypeBytecodeRejected, true},
		{HotSwapRequested("Greeter"), TypeHotSwapRequested, false},
		{RedefinitionSucceeded("Greeter", 3, time.Millisecond), TypeRedefinitionSucceeded, false},
		{RedefinitionFailed("Greeter", "redefine", "runtime refused", time.Millisecond), TypeRedefinitionFailed, true},
		{InstancesUpdated("Greeter", "AUTOMATIC", 3, 3, 0, time.Millisecond, "ok"), TypeInstancesUpdated, true},
	}

	for _, tt := range tests {
		if tt.event.Type != tt.wantType {
			t.Errorf("Type = %q, want %q", tt.event.Type, tt.wantType)
		}
		if tt.event.Terminal != tt.terminal {
			t.Errorf("%s: Terminal = %v, want %v", tt.event.Type, tt.event.Terminal, tt.terminal)
		}
		if tt.event.ID == "" {
			t.Errorf("%s: empty event ID", tt.event.Type)
		}
		if tt.event.Class != "Greeter" {
			t.Errorf("%s: Class = %q", tt.event.Type, tt.event.Class)
		}
		if tt.event.At.IsZero() {
			t.Errorf("%s: zero timestamp", tt.event.Type)
		}
	}
}

func TestEventIDsAreUnique(t *testing.T) {
	a := BytecodeValidated("Greeter")
	b := BytecodeValidated("Greeter")
	if a.ID == b.ID {
		t.Error("two events share an ID")
	}
}

func TestWireRoundTrip(t *testing.T) {
	e := InstancesUpdated("Counter", "REFLECTION", 5, 4, 1, 250*time.Microsecond, "one instance failed")

	data, err := Marshal(e)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if back.ID != e.ID || back.Type != e.Type || back.Class != e.Class || back.Terminal != e.Terminal {
		t.Errorf("envelope mismatch: %+v vs %+v", back, e)
	}
	if !back.At.Equal(e.At) {
		t.Errorf("At = %v, want %v", back.At, e.At)
	}
	if back.Attrs["strategy"] != "REFLECTION" || back.Attrs["failed"] != "1" {
		t.Errorf("attrs mismatch: %v", back.Attrs)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	e := BytecodeRejected("Greeter", "identity", "renamed")

	a, err := Marshal(e)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	b, err := Marshal(e)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(a) != string(b) {
		t.Error("canonical encoding should be byte-stable")
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte("\xff\xff\xff")); err == nil {
		t.Error("expected error for garbage input")
	}
}

type recorder struct {
	events []Event
}

func (r *recorder) Emit(e Event) { r.events = append(r.events, e) }

func TestFanout(t *testing.T) {
	a := &recorder{}
	b := &recorder{}
	f := Fanout{a, b, Discard}

	f.Emit(BytecodeValidated("Greeter"))

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("fanout delivered %d/%d events", len(a.events), len(b.events))
	}
}
