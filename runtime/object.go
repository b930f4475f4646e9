package runtime

import "fmt"

// ---------------------------------------------------------------------------
// Object: a slot-based instance
// ---------------------------------------------------------------------------

// Object is a heap-allocated molt instance.
//
// Slots are addressed through the layout the object was constructed with,
// not through the class's current descriptor table: after a redefinition
// that moved fields, an un-migrated object still reads and writes its
// slots correctly under its old layout. Migration (AdoptLayout) remaps
// the slots to the class's current shape.
type Object struct {
	class  *Class
	layout []Field
	slots  []Value

	// proxied marks a proxy object; non-nil is the backing target.
	proxied *Object
}

func newObject(c *Class) *Object {
	layout := c.Fields()
	return &Object{
		class:  c,
		layout: layout,
		slots:  make([]Value, len(layout)),
	}
}

func newProxy(c *Class, target *Object) *Object {
	return &Object{
		class:   c,
		proxied: target,
	}
}

// Class returns the object's class.
func (obj *Object) Class() *Class {
	return obj.class
}

// IsProxy returns true if this object forwards to a backing target.
func (obj *Object) IsProxy() bool {
	return obj.proxied != nil
}

// Target returns the proxy's backing object, or nil for a plain instance.
func (obj *Object) Target() *Object {
	return obj.proxied
}

// SetTarget swaps the proxy's backing object.
// Panics if called on a non-proxy.
func (obj *Object) SetTarget(target *Object) {
	if obj.proxied == nil {
		panic("Object.SetTarget: not a proxy")
	}
	obj.proxied = target
}

// Layout returns the field layout this object's slots are built under.
// For a freshly constructed or migrated object this equals the class's
// current descriptor table.
func (obj *Object) Layout() []Field {
	return append([]Field(nil), obj.layout...)
}

// GetField reads a field by name under the object's layout.
// The second result is false if the layout has no such field.
func (obj *Object) GetField(name string) (Value, bool) {
	for _, f := range obj.layout {
		if f.Name == name {
			return obj.slots[f.Slot], true
		}
	}
	return nil, false
}

// SetField writes a field by name under the object's layout.
func (obj *Object) SetField(name string, v Value) error {
	for _, f := range obj.layout {
		if f.Name == name {
			obj.slots[f.Slot] = v
			return nil
		}
	}
	return fmt.Errorf("%w: %s.%s", ErrNoSuchField, obj.class.Name(), name)
}

// AdoptLayout remaps the object's slots to the given field layout.
// Values carry over by field name; fields absent from the old layout
// start nil, and values for fields absent from the new layout are
// dropped. Proxies have no slots and adopt trivially.
func (obj *Object) AdoptLayout(layout []Field) {
	if obj.proxied != nil {
		return
	}

	slots := make([]Value, len(layout))
	for _, f := range layout {
		if v, ok := obj.GetField(f.Name); ok {
			slots[f.Slot] = v
		}
	}
	obj.layout = append([]Field(nil), layout...)
	obj.slots = slots
}

// ResetFrom replaces the object's layout and slots with those of a
// freshly constructed instance of the same class. Used when an instance
// cannot be migrated in place and must be rebuilt.
// Panics if fresh belongs to a different class.
func (obj *Object) ResetFrom(fresh *Object) {
	if fresh.class != obj.class {
		panic("Object.ResetFrom: class mismatch")
	}
	obj.layout = append([]Field(nil), fresh.layout...)
	obj.slots = append([]Value(nil), fresh.slots...)
}

// LayoutMatches reports whether the object's layout equals the given one
// name-for-name in the same slot order.
func (obj *Object) LayoutMatches(layout []Field) bool {
	if len(obj.layout) != len(layout) {
		return false
	}
	for i := range layout {
		if obj.layout[i].Name != layout[i].Name {
			return false
		}
	}
	return true
}
