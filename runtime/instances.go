package runtime

import (
	"sync"
	"weak"
)

// ---------------------------------------------------------------------------
// Live-instance registry
// ---------------------------------------------------------------------------

// instanceSet is the weak registry of every instance constructed for
// one class, proxies included. Entries never extend an instance's
// lifetime; collected entries are pruned on the next enumeration.
type instanceSet struct {
	mu     sync.Mutex
	refs   map[uint64]weak.Pointer[Object]
	nextID uint64
}

func newInstanceSet() *instanceSet {
	return &instanceSet{
		refs: make(map[uint64]weak.Pointer[Object]),
	}
}

func (s *instanceSet) add(obj *Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.refs[s.nextID] = weak.Make(obj)
}

func (s *instanceSet) live() []*Object {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*Object, 0, len(s.refs))
	for id, ref := range s.refs {
		obj := ref.Value()
		if obj == nil {
			delete(s.refs, id)
			continue
		}
		result = append(result, obj)
	}
	return result
}

// Instances returns a point-in-time snapshot of the live instances of a
// class. Unlike CreatedCount this reflects collection: an instance the
// collector has reclaimed no longer appears. Returns nil for an
// unloaded class.
func (rt *Runtime) Instances(name string) []*Object {
	rt.mu.RLock()
	set := rt.instances[name]
	rt.mu.RUnlock()
	if set == nil {
		return nil
	}
	return set.live()
}

// LiveCount returns the number of currently live instances of a class.
func (rt *Runtime) LiveCount(name string) int {
	return len(rt.Instances(name))
}
