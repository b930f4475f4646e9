// Package runtime implements the molt managed runtime: classes loaded from
// binary class images, slot-based instances, and the atomic live-replacement
// primitive the hot-swap pipeline drives.
//
// This package contains:
//   - Class and field-descriptor tables
//   - Slot-based object layout and field access
//   - The class table with the Redefine primitive
//   - Instance construction bookkeeping and per-class factories
package runtime

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chazu/molt/classfile"
)

// Value is what an object slot holds. Immediate values are stored as-is;
// object references are stored as *Object.
type Value = any

// Factory constructs a fresh, default-initialized instance of a class.
// Registered factories are used by the hot-swap updater when an instance
// must be rebuilt rather than migrated in place.
type Factory func(c *Class) *Object

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

var (
	ErrClassNotFound     = errors.New("class not found")
	ErrClassLoaded       = errors.New("class already loaded")
	ErrUnknownSuperclass = errors.New("superclass not loaded")
	ErrStaleImage        = errors.New("current class image does not match the expected old image")
	ErrClassMismatch     = errors.New("image declares a different class")
	ErrHierarchyChange   = errors.New("redefinition may not change the superclass")
	ErrNoSuchField       = errors.New("no such field")
)

// ---------------------------------------------------------------------------
// Runtime: the class table and instance bookkeeping
// ---------------------------------------------------------------------------

// Runtime owns the loaded classes. It's thread-safe for concurrent access;
// Redefine serializes against all class-table operations.
type Runtime struct {
	mu        sync.RWMutex
	classes   map[string]*Class
	factories map[string]Factory
	created   map[string]*atomic.Int64
	instances map[string]*instanceSet
}

// NewRuntime creates an empty runtime.
func NewRuntime() *Runtime {
	return &Runtime{
		classes:   make(map[string]*Class),
		factories: make(map[string]Factory),
		created:   make(map[string]*atomic.Int64),
		instances: make(map[string]*instanceSet),
	}
}

// Load defines a new class from a class image. The superclass, if any,
// must already be loaded. Redefining an existing class goes through
// Redefine, never Load.
func (rt *Runtime) Load(image []byte) (*Class, error) {
	cf, err := classfile.Parse(image)
	if err != nil {
		return nil, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, ok := rt.classes[cf.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrClassLoaded, cf.Name)
	}

	var super *Class
	if cf.Superclass != "" {
		super = rt.classes[cf.Superclass]
		if super == nil {
			return nil, fmt.Errorf("%w: %s extends %s", ErrUnknownSuperclass, cf.Name, cf.Superclass)
		}
	}

	c := newClass(cf, super, image)
	rt.classes[cf.Name] = c
	rt.created[cf.Name] = &atomic.Int64{}
	rt.instances[cf.Name] = newInstanceSet()
	return c, nil
}

// Lookup finds a loaded class by name. Returns nil if not loaded.
func (rt *Runtime) Lookup(name string) *Class {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.classes[name]
}

// Image returns the current binary image for a loaded class.
func (rt *Runtime) Image(name string) ([]byte, error) {
	c := rt.Lookup(name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	return c.Image(), nil
}

// Classes returns the names of all loaded classes.
func (rt *Runtime) Classes() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	names := make([]string, 0, len(rt.classes))
	for name := range rt.classes {
		names = append(names, name)
	}
	return names
}

// NewInstance allocates an instance of a loaded class with all fields nil.
func (rt *Runtime) NewInstance(name string) (*Object, error) {
	c := rt.Lookup(name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}

	obj := newObject(c)
	rt.recordInstance(name, obj)
	return obj, nil
}

// NewProxy allocates a proxy instance of a loaded class backed by target.
// A proxy forwards to its target; hot-swap refreshes the binding rather
// than migrating the proxy's own slots.
func (rt *Runtime) NewProxy(name string, target *Object) (*Object, error) {
	c := rt.Lookup(name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}

	obj := newProxy(c, target)
	rt.recordInstance(name, obj)
	return obj, nil
}

// RegisterFactory installs a constructor for a class, used when instances
// must be rebuilt during a hot-swap.
func (rt *Runtime) RegisterFactory(name string, f Factory) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.factories[name] = f
}

// FactoryFor returns the registered factory for a class, or nil.
func (rt *Runtime) FactoryFor(name string) Factory {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.factories[name]
}

// CreatedCount returns how many instances of a class this runtime has
// constructed. It only ever grows; collected instances are not
// subtracted. Instances is the live view.
func (rt *Runtime) CreatedCount(name string) int {
	rt.mu.RLock()
	counter := rt.created[name]
	rt.mu.RUnlock()

	if counter == nil {
		return 0
	}
	return int(counter.Load())
}

// recordInstance books a freshly constructed instance: the grow-only
// counter and the weak live registry.
func (rt *Runtime) recordInstance(name string, obj *Object) {
	rt.mu.RLock()
	counter := rt.created[name]
	set := rt.instances[name]
	rt.mu.RUnlock()

	if counter != nil {
		counter.Add(1)
	}
	if set != nil {
		set.add(obj)
	}
}
