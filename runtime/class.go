package runtime

import (
	"sync"

	"github.com/chazu/molt/classfile"
)

// ---------------------------------------------------------------------------
// Class: a loaded class with its field descriptor table and method table
// ---------------------------------------------------------------------------

// Field is one entry in a class's field descriptor table. Slot is the
// index into an instance's slot array for the current class shape.
type Field struct {
	Name string
	Kind classfile.FieldKind
	Slot int
}

// Method is an installed method. Code is the bytecode body; the pipeline
// treats it as opaque and only compares it across redefinitions.
type Method struct {
	Selector   string
	Arity      int
	Visibility classfile.Visibility
	Code       []byte
}

// Class represents a loaded molt class.
//
// A Class is stable for the lifetime of the runtime: redefinition mutates
// the method table, field descriptors, and image in place, so every
// existing reference to the Class (including from live instances)
// observes the new definition immediately. This mirrors how a live
// method install works in image-based systems.
type Class struct {
	mu         sync.RWMutex
	name       string
	superclass *Class
	traits     []string
	fields     []Field
	fieldIndex map[string]int
	methods    map[string]*Method // keyed by selector
	image      []byte
	version    uint64
}

func newClass(cf *classfile.ClassFile, super *Class, image []byte) *Class {
	c := &Class{
		name:       cf.Name,
		superclass: super,
		version:    1,
	}
	c.apply(cf, image)
	return c
}

// apply installs a class file's definition. Caller holds no lock for a
// brand-new class; Redefine calls it under c.mu.
func (c *Class) apply(cf *classfile.ClassFile, image []byte) {
	c.traits = append([]string(nil), cf.Traits...)

	c.fields = make([]Field, len(cf.Fields))
	c.fieldIndex = make(map[string]int, len(cf.Fields))
	for i, f := range cf.Fields {
		c.fields[i] = Field{Name: f.Name, Kind: f.Kind, Slot: i}
		c.fieldIndex[f.Name] = i
	}

	c.methods = make(map[string]*Method, len(cf.Methods))
	for i := range cf.Methods {
		m := cf.Methods[i]
		c.methods[m.Selector] = &Method{
			Selector:   m.Selector,
			Arity:      m.Arity,
			Visibility: m.Visibility,
			Code:       append([]byte(nil), m.Code...),
		}
	}

	c.image = append([]byte(nil), image...)
}

// Name returns the fully-qualified class name.
func (c *Class) Name() string {
	return c.name
}

// Superclass returns the parent class, or nil for a root class.
func (c *Class) Superclass() *Class {
	return c.superclass
}

// Traits returns the declared trait names.
func (c *Class) Traits() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.traits...)
}

// Fields returns the field descriptor table for the current class shape,
// in slot order.
func (c *Class) Fields() []Field {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Field(nil), c.fields...)
}

// FieldIndex returns the slot index for a field by name, or -1.
func (c *Class) FieldIndex(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i, ok := c.fieldIndex[name]; ok {
		return i
	}
	return -1
}

// NumFields returns the number of declared fields.
func (c *Class) NumFields() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.fields)
}

// Method finds a method by selector, walking the superclass chain.
// Returns nil if no class in the chain defines it.
func (c *Class) Method(selector string) *Method {
	for cur := c; cur != nil; cur = cur.superclass {
		cur.mu.RLock()
		m := cur.methods[selector]
		cur.mu.RUnlock()
		if m != nil {
			return m
		}
	}
	return nil
}

// LocalMethod finds a method defined on this class only.
func (c *Class) LocalMethod(selector string) *Method {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.methods[selector]
}

// Selectors returns the selectors defined on this class (not inherited).
func (c *Class) Selectors() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]string, 0, len(c.methods))
	for sel := range c.methods {
		result = append(result, sel)
	}
	return result
}

// Image returns a copy of the class's current binary image.
func (c *Class) Image() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]byte(nil), c.image...)
}

// Version returns the definition version, starting at 1 and incremented
// by each redefinition.
func (c *Class) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// IsSubclassOf returns true if c is other or a descendant of other.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.superclass {
		if cur == other {
			return true
		}
	}
	return false
}
