package hotswap

import (
	"sync"
	"weak"

	"github.com/chazu/molt/runtime"
)

// ---------------------------------------------------------------------------
// InstanceTracker: non-owning, per-class instance tracking
// ---------------------------------------------------------------------------

// InstanceTracker maintains, per class, the set of live instances so they
// can be found and migrated after a redefinition. Tracking is opt-in per
// class; entries hold weak pointers and never extend an instance's
// lifetime. An entry whose target has been collected is silently excluded
// from queries and pruned.
type InstanceTracker struct {
	mu      sync.RWMutex
	classes map[string]*trackedSet
}

// trackedSet is the weak instance set for one class.
type trackedSet struct {
	mu     sync.Mutex
	refs   map[uint64]weak.Pointer[runtime.Object]
	nextID uint64
}

// NewInstanceTracker creates an empty tracker.
func NewInstanceTracker() *InstanceTracker {
	return &InstanceTracker{
		classes: make(map[string]*trackedSet),
	}
}

// EnableTracking starts tracking instances of a class. Enabling an
// already-tracked class keeps the existing set.
func (t *InstanceTracker) EnableTracking(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.classes[name] == nil {
		t.classes[name] = &trackedSet{
			refs: make(map[uint64]weak.Pointer[runtime.Object]),
		}
	}
}

// DisableTracking stops tracking a class and drops its set.
func (t *InstanceTracker) DisableTracking(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.classes, name)
}

// IsTrackingEnabled reports whether a class is being tracked.
func (t *InstanceTracker) IsTrackingEnabled(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.classes[name] != nil
}

// Track records an instance if its class is tracked. Returns true if the
// instance was recorded. Safe to call from object construction paths
// concurrently with a redefinition reading the set.
func (t *InstanceTracker) Track(obj *runtime.Object) bool {
	t.mu.RLock()
	set := t.classes[obj.Class().Name()]
	t.mu.RUnlock()
	if set == nil {
		return false
	}

	set.mu.Lock()
	defer set.mu.Unlock()
	set.nextID++
	set.refs[set.nextID] = weak.Make(obj)
	return true
}

// FindInstances returns a point-in-time snapshot of the live instances of
// a class. Entries whose targets have been collected are excluded and
// removed. Returns nil for an untracked class.
func (t *InstanceTracker) FindInstances(name string) []*runtime.Object {
	t.mu.RLock()
	set := t.classes[name]
	t.mu.RUnlock()
	if set == nil {
		return nil
	}

	set.mu.Lock()
	defer set.mu.Unlock()

	result := make([]*runtime.Object, 0, len(set.refs))
	for id, ref := range set.refs {
		obj := ref.Value()
		if obj == nil {
			delete(set.refs, id)
			continue
		}
		result = append(result, obj)
	}
	return result
}

// CountInstances returns the number of currently live tracked instances.
func (t *InstanceTracker) CountInstances(name string) int {
	return len(t.FindInstances(name))
}

// TrackedClasses returns the names of all classes with tracking enabled.
func (t *InstanceTracker) TrackedClasses() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.classes))
	for name := range t.classes {
		names = append(names, name)
	}
	return names
}
