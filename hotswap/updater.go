package hotswap

import (
	"fmt"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/molt/runtime"
)

// ---------------------------------------------------------------------------
// Update strategies
// ---------------------------------------------------------------------------

// UpdateStrategy is the policy used to bring existing instances in line
// with a redefined class. Chosen once per redefinition.
type UpdateStrategy int

const (
	// NoUpdate: nothing to migrate (untracked class or no live instances).
	NoUpdate UpdateStrategy = iota
	// Automatic: the field layout is unchanged; instances reuse their
	// slots in place and only need to adopt the current descriptors.
	Automatic
	// Reflection: the layout moved; field values are copied by name into
	// the new slot arrangement.
	Reflection
	// ProxyRefresh: instances are proxies; their backing targets are
	// migrated and the bindings refreshed.
	ProxyRefresh
	// FactoryReset: no safe in-place migration exists; instances are
	// rebuilt through the class factory and preserved state re-applied.
	FactoryReset
)

func (s UpdateStrategy) String() string {
	switch s {
	case NoUpdate:
		return "NO_UPDATE"
	case Automatic:
		return "AUTOMATIC"
	case Reflection:
		return "REFLECTION"
	case ProxyRefresh:
		return "PROXY_REFRESH"
	case FactoryReset:
		return "FACTORY_RESET"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// InstancesUpdatedResult is the terminal record of the update phase.
// Updated and Failed always sum to at most TotalFound.
type InstancesUpdatedResult struct {
	Identity   ClassIdentity
	TotalFound int
	Updated    int
	Failed     int
	Strategy   UpdateStrategy
	Duration   time.Duration
	Detail     string
}

// ---------------------------------------------------------------------------
// InstanceUpdater
// ---------------------------------------------------------------------------

// InstanceUpdater migrates tracked live instances after a successful
// redefinition. One instance's failure never aborts the batch: it is
// counted and the remaining instances still update.
type InstanceUpdater struct {
	rt        *runtime.Runtime
	tracker   *InstanceTracker
	preserver *StatePreserver
	log       commonlog.Logger
}

// NewInstanceUpdater creates an updater over the given tracker and
// preserver.
func NewInstanceUpdater(rt *runtime.Runtime, tracker *InstanceTracker, preserver *StatePreserver) *InstanceUpdater {
	return &InstanceUpdater{
		rt:        rt,
		tracker:   tracker,
		preserver: preserver,
		log:       commonlog.GetLogger("molt.updater"),
	}
}

// UpdateInstances brings live instances of a successfully redefined class
// in line with its new definition. Untracked classes yield NoUpdate with
// zero counts; that is a normal outcome, not an error.
func (u *InstanceUpdater) UpdateInstances(outcome RedefinitionOutcome) InstancesUpdatedResult {
	start := time.Now()
	name := outcome.Identity.Name

	if !u.tracker.IsTrackingEnabled(name) {
		return InstancesUpdatedResult{
			Identity: outcome.Identity,
			Strategy: NoUpdate,
			Duration: time.Since(start),
			Detail:   "tracking not enabled",
		}
	}

	instances := u.tracker.FindInstances(name)
	if len(instances) == 0 {
		return InstancesUpdatedResult{
			Identity: outcome.Identity,
			Strategy: NoUpdate,
			Duration: time.Since(start),
			Detail:   "no live instances",
		}
	}

	layout := outcome.Identity.Handle.Fields()
	strategy := u.chooseStrategy(name, instances, layout)

	updated, failed := 0, 0
	for _, obj := range instances {
		if err := u.apply(strategy, obj, layout); err != nil {
			failed++
			u.log.Errorf("updating instance of %s: %v", name, err)
		} else {
			updated++
		}
	}

	result := InstancesUpdatedResult{
		Identity:   outcome.Identity,
		TotalFound: len(instances),
		Updated:    updated,
		Failed:     failed,
		Strategy:   strategy,
		Duration:   time.Since(start),
		Detail: fmt.Sprintf("updated %d of %d instances via %s (%d failed)",
			updated, len(instances), strategy, failed),
	}
	u.log.Infof("%s: %s", name, result.Detail)
	return result
}

// chooseStrategy picks the migration policy for this redefinition based
// on how the live instances relate to the class's current shape.
func (u *InstanceUpdater) chooseStrategy(name string, instances []*runtime.Object, layout []runtime.Field) UpdateStrategy {
	allProxies := true
	moved := false
	reshaped := false

	for _, obj := range instances {
		if obj.IsProxy() {
			continue
		}
		allProxies = false
		if !obj.LayoutMatches(layout) {
			moved = true
			if fieldNamesDiffer(obj.Layout(), layout) {
				reshaped = true
			}
		}
	}

	switch {
	case allProxies:
		return ProxyRefresh
	case reshaped && u.rt.FactoryFor(name) != nil:
		return FactoryReset
	case moved:
		return Reflection
	default:
		return Automatic
	}
}

// apply migrates one instance, converting a panic into a per-instance
// failure.
func (u *InstanceUpdater) apply(strategy UpdateStrategy, obj *runtime.Object, layout []runtime.Field) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	switch strategy {
	case Automatic:
		obj.AdoptLayout(layout)
		return nil

	case Reflection:
		state := u.preserver.Preserve(obj)
		obj.AdoptLayout(layout)
		u.preserver.Restore(obj, state)
		return nil

	case ProxyRefresh:
		target := obj.Target()
		if target == nil {
			return fmt.Errorf("proxy of %s has no backing target", obj.Class().Name())
		}
		state := u.preserver.Preserve(target)
		target.AdoptLayout(layout)
		u.preserver.Restore(target, state)
		obj.SetTarget(target)
		return nil

	case FactoryReset:
		factory := u.rt.FactoryFor(obj.Class().Name())
		if factory == nil {
			return fmt.Errorf("no factory registered for %s", obj.Class().Name())
		}
		state := u.preserver.Preserve(obj)
		fresh := factory(obj.Class())
		if fresh == nil {
			return fmt.Errorf("factory for %s returned nil", obj.Class().Name())
		}
		obj.ResetFrom(fresh)
		u.preserver.Restore(obj, state)
		return nil

	default:
		return fmt.Errorf("unknown update strategy %s", strategy)
	}
}

func fieldNamesDiffer(a, b []runtime.Field) bool {
	if len(a) != len(b) {
		return true
	}
	names := make(map[string]bool, len(a))
	for _, f := range a {
		names[f.Name] = true
	}
	for _, f := range b {
		if !names[f.Name] {
			return true
		}
	}
	return false
}
