package journal

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/molt/events"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndRecent(t *testing.T) {
	j := openTemp(t)

	emitted := []events.Event{
		events.ChangeReceived("Greeter", "src/Greeter.mcls"),
		events.BytecodeValidated("Greeter"),
		events.InstancesUpdated("Greeter", "AUTOMATIC", 3, 3, 0, time.Millisecond, "ok"),
	}
	for _, e := range emitted {
		if err := j.Append(e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	n, err := j.Len()
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Len = %d, want 3", n)
	}

	got, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d events, want 3", len(got))
	}
	// Newest first.
	if got[0].Type != events.TypeInstancesUpdated {
		t.Errorf("newest event = %s, want %s", got[0].Type, events.TypeInstancesUpdated)
	}
	if got[0].Attrs["strategy"] != "AUTOMATIC" {
		t.Errorf("attrs not round-tripped: %v", got[0].Attrs)
	}
	if !got[2].At.Equal(emitted[0].At) {
		t.Errorf("timestamp round trip: got %v, want %v", got[2].At, emitted[0].At)
	}
}

func TestForClassFiltersAndOrders(t *testing.T) {
	j := openTemp(t)

	j.Emit(events.ChangeReceived("Greeter", "a"))
	j.Emit(events.ChangeReceived("Counter", "b"))
	j.Emit(events.BytecodeRejected("Greeter", "field-layout", "field removed"))

	got, err := j.ForClass("Greeter", 10)
	if err != nil {
		t.Fatalf("ForClass failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ForClass returned %d events, want 2", len(got))
	}
	for _, e := range got {
		if e.Class != "Greeter" {
			t.Errorf("event for %s leaked into Greeter history", e.Class)
		}
	}
}

func TestTerminalsAreTheChangeHistory(t *testing.T) {
	j := openTemp(t)

	j.Emit(events.ChangeReceived("Greeter", "a"))
	j.Emit(events.BytecodeValidated("Greeter"))
	j.Emit(events.BytecodeRejected("Greeter", "hierarchy-change", "superclass changed"))
	j.Emit(events.ChangeReceived("Greeter", "a"))
	j.Emit(events.InstancesUpdated("Greeter", "NO_UPDATE", 0, 0, 0, 0, ""))

	got, err := j.Terminals("Greeter", 10)
	if err != nil {
		t.Fatalf("Terminals failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Terminals returned %d events, want 2", len(got))
	}
	for _, e := range got {
		if !e.Terminal {
			t.Errorf("non-terminal %s in terminal history", e.Type)
		}
	}
}

func TestReopenSeesPriorEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	e := events.ChangeReceived("Greeter", "a")
	if err := j.Append(e); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer j2.Close()

	got, err := j2.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != e.ID {
		t.Errorf("reopened journal lost the event: %v", got)
	}
}

func TestAppendAfterClose(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	j.Close()

	if err := j.Append(events.ChangeReceived("Greeter", "a")); !errors.Is(err, ErrClosed) {
		t.Errorf("Append after close = %v, want ErrClosed", err)
	}
}

func TestEmitSwallowsFailures(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	j.Close()

	// Must not panic; Emit drops the event and logs.
	j.Emit(events.ChangeReceived("Greeter", "a"))
}
