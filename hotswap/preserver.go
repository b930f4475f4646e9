package hotswap

import "github.com/chazu/molt/runtime"

// ---------------------------------------------------------------------------
// StatePreserver: field-level state capture and restore
// ---------------------------------------------------------------------------

// preservedField is one captured field value.
type preservedField struct {
	name  string
	value runtime.Value
}

// PreservedState is an ordered snapshot of one instance's field values,
// keyed by field name. Snapshots are shallow: a field holding an object
// reference is captured as that reference, shared with the original.
// Deep reconstruction of nested state is out of scope.
type PreservedState struct {
	fields []preservedField
}

// Len returns the number of captured fields.
func (s PreservedState) Len() int {
	return len(s.fields)
}

// Names returns the captured field names in capture order.
func (s PreservedState) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.name
	}
	return names
}

// Value returns the captured value for a field name.
func (s PreservedState) Value(name string) (runtime.Value, bool) {
	for _, f := range s.fields {
		if f.name == name {
			return f.value, true
		}
	}
	return nil, false
}

// StatePreserver captures and restores instance field state. It is
// data-driven: it iterates the field layout the instance was built with,
// so preserve and restore never need runtime introspection.
type StatePreserver struct{}

// NewStatePreserver creates a preserver.
func NewStatePreserver() *StatePreserver {
	return &StatePreserver{}
}

// Preserve snapshots every declared field of an instance, in slot order.
func (p *StatePreserver) Preserve(obj *runtime.Object) PreservedState {
	layout := obj.Layout()
	state := PreservedState{
		fields: make([]preservedField, 0, len(layout)),
	}
	for _, f := range layout {
		v, ok := obj.GetField(f.Name)
		if !ok {
			continue
		}
		state.fields = append(state.fields, preservedField{name: f.Name, value: v})
	}
	return state
}

// Restore writes captured values back into an instance by field name.
// A captured field the target no longer declares is skipped, leaving the
// rest of the restore intact. Returns the number of fields restored.
func (p *StatePreserver) Restore(obj *runtime.Object, state PreservedState) int {
	restored := 0
	for _, f := range state.fields {
		if err := obj.SetField(f.name, f.value); err != nil {
			continue
		}
		restored++
	}
	return restored
}
