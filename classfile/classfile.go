// Package classfile defines the binary class-image format consumed by the
// molt runtime and the hot-swap pipeline.
//
// A class image carries everything needed to define or redefine a class:
//   - Class identity (name, superclass, traits)
//   - Field descriptor table (name, kind, declaration order)
//   - Method table (selector, arity, visibility, bytecode body)
package classfile

import "fmt"

// FieldKind describes how a field's slot is interpreted.
type FieldKind byte

const (
	// KindValue is an immediate value slot (numbers, booleans, strings).
	KindValue FieldKind = iota
	// KindReference is a slot holding a reference to another object.
	KindReference
)

func (k FieldKind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindReference:
		return "reference"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Visibility is a method's access level.
type Visibility byte

const (
	Public Visibility = iota
	Protected
	Private
)

func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Protected:
		return "protected"
	case Private:
		return "private"
	default:
		return fmt.Sprintf("visibility(%d)", byte(v))
	}
}

// Field is one entry in a class's field descriptor table.
// Slot order is declaration order; the runtime assigns slot indices from it.
type Field struct {
	Name string
	Kind FieldKind
}

// Method is one entry in a class's method table.
type Method struct {
	Selector   string
	Arity      int
	Visibility Visibility
	Code       []byte // bytecode body, opaque to this package
}

// Signature returns the selector/arity pair that identifies a method for
// call-site resolution. Two methods with equal signatures are
// interchangeable from a caller's point of view.
func (m *Method) Signature() string {
	return fmt.Sprintf("%s/%d", m.Selector, m.Arity)
}

// ClassFile is the parsed form of a class image.
type ClassFile struct {
	Name       string
	Superclass string // empty for a root class
	Traits     []string
	Fields     []Field
	Methods    []Method
}

// FieldNames returns the declared field names in slot order.
func (cf *ClassFile) FieldNames() []string {
	names := make([]string, len(cf.Fields))
	for i, f := range cf.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldByName finds a field descriptor by name. Returns nil if absent.
func (cf *ClassFile) FieldByName(name string) *Field {
	for i := range cf.Fields {
		if cf.Fields[i].Name == name {
			return &cf.Fields[i]
		}
	}
	return nil
}

// MethodBySignature finds a method by selector/arity. Returns nil if absent.
func (cf *ClassFile) MethodBySignature(selector string, arity int) *Method {
	for i := range cf.Methods {
		if cf.Methods[i].Selector == selector && cf.Methods[i].Arity == arity {
			return &cf.Methods[i]
		}
	}
	return nil
}

// HasTrait returns true if the class declares the named trait.
func (cf *ClassFile) HasTrait(name string) bool {
	for _, t := range cf.Traits {
		if t == name {
			return true
		}
	}
	return false
}
