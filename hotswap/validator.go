package hotswap

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/molt/classfile"
)

// ---------------------------------------------------------------------------
// Rules: the compatibility rules a change can violate
// ---------------------------------------------------------------------------

// Rule identifies the compatibility rule a rejected change violated.
type Rule string

const (
	// RuleNone marks a validated outcome.
	RuleNone Rule = ""
	// RuleIdentityMismatch: the image declares a different class name.
	RuleIdentityMismatch Rule = "identity-mismatch"
	// RuleHierarchyChange: the superclass chain changed.
	RuleHierarchyChange Rule = "hierarchy-change"
	// RuleTraitRemoval: an implemented trait was removed.
	RuleTraitRemoval Rule = "trait-removal"
	// RuleFieldLayout: instance fields were added, removed, or retyped.
	RuleFieldLayout Rule = "field-layout"
	// RuleMethodSignature: a public or protected method call sites may
	// resolve against was removed or changed arity.
	RuleMethodSignature Rule = "method-signature"
)

// ValidationOutcome is the result of validating one ProposedChange.
// Rule is RuleNone for a validated change; otherwise Rule and Reason
// describe the first violated compatibility rule.
type ValidationOutcome struct {
	Identity ClassIdentity
	NewImage []byte
	Rule     Rule
	Reason   string
}

// Validated reports whether the change may proceed to redefinition.
func (o ValidationOutcome) Validated() bool {
	return o.Rule == RuleNone
}

// ---------------------------------------------------------------------------
// BytecodeValidator
// ---------------------------------------------------------------------------

// BytecodeValidator checks a proposed class image against the runtime's
// hot-swap compatibility rules. Validation is pure: it reads the current
// and proposed images and changes nothing, so unrelated changes may
// validate concurrently.
type BytecodeValidator struct {
	log commonlog.Logger
}

// NewBytecodeValidator creates a validator.
func NewBytecodeValidator() *BytecodeValidator {
	return &BytecodeValidator{
		log: commonlog.GetLogger("molt.validator"),
	}
}

// Validate checks one proposed change. An incompatible change is a normal
// outcome, returned as a rejection value. The single hard-error path is a
// class image that does not parse at all: that signals a broken build or
// a truncated read upstream, not a legitimate incompatible change.
func (v *BytecodeValidator) Validate(change ProposedChange) (ValidationOutcome, error) {
	newCF, err := classfile.Parse(change.NewImage)
	if err != nil {
		return ValidationOutcome{}, fmt.Errorf("proposed image for %s: %w", change.Identity.Name, err)
	}
	oldCF, err := classfile.Parse(change.Identity.Handle.Image())
	if err != nil {
		return ValidationOutcome{}, fmt.Errorf("current image for %s: %w", change.Identity.Name, err)
	}

	checks := []func(prev, next *classfile.ClassFile) (Rule, string){
		v.checkIdentity,
		v.checkHierarchy,
		v.checkTraits,
		v.checkFieldLayout,
		v.checkMethodSignatures,
	}
	for _, check := range checks {
		if rule, reason := check(oldCF, newCF); rule != RuleNone {
			v.log.Infof("rejected %s: %s (%s)", change.Identity.Name, reason, rule)
			return ValidationOutcome{
				Identity: change.Identity,
				Rule:     rule,
				Reason:   reason,
			}, nil
		}
	}

	v.log.Debugf("validated %s", change.Identity.Name)
	return ValidationOutcome{
		Identity: change.Identity,
		NewImage: change.NewImage,
	}, nil
}

func (v *BytecodeValidator) checkIdentity(prev, next *classfile.ClassFile) (Rule, string) {
	if next.Name != prev.Name {
		return RuleIdentityMismatch,
			fmt.Sprintf("image declares class %q but targets %q", next.Name, prev.Name)
	}
	return RuleNone, ""
}

func (v *BytecodeValidator) checkHierarchy(prev, next *classfile.ClassFile) (Rule, string) {
	if next.Superclass != prev.Superclass {
		return RuleHierarchyChange,
			fmt.Sprintf("superclass changed from %q to %q", prev.Superclass, next.Superclass)
	}
	return RuleNone, ""
}

func (v *BytecodeValidator) checkTraits(prev, next *classfile.ClassFile) (Rule, string) {
	for _, t := range prev.Traits {
		if !next.HasTrait(t) {
			return RuleTraitRemoval, fmt.Sprintf("trait %q removed", t)
		}
	}
	return RuleNone, ""
}

// checkFieldLayout refuses added, removed, or retyped instance fields.
// Pure reordering passes: the updater migrates moved layouts by copying
// fields by name.
func (v *BytecodeValidator) checkFieldLayout(prev, next *classfile.ClassFile) (Rule, string) {
	for _, f := range prev.Fields {
		nf := next.FieldByName(f.Name)
		if nf == nil {
			return RuleFieldLayout, fmt.Sprintf("field %q removed", f.Name)
		}
		if nf.Kind != f.Kind {
			return RuleFieldLayout,
				fmt.Sprintf("field %q changed kind from %s to %s", f.Name, f.Kind, nf.Kind)
		}
	}
	for _, f := range next.Fields {
		if prev.FieldByName(f.Name) == nil {
			return RuleFieldLayout, fmt.Sprintf("field %q added", f.Name)
		}
	}
	return RuleNone, ""
}

// checkMethodSignatures requires every public or protected method to
// survive with its arity intact, so existing call sites stay resolvable.
// Private methods may come and go freely.
func (v *BytecodeValidator) checkMethodSignatures(prev, next *classfile.ClassFile) (Rule, string) {
	for i := range prev.Methods {
		m := &prev.Methods[i]
		if m.Visibility == classfile.Private {
			continue
		}
		if next.MethodBySignature(m.Selector, m.Arity) == nil {
			return RuleMethodSignature,
				fmt.Sprintf("%s method %s no longer resolvable", m.Visibility, m.Signature())
		}
	}
	return RuleNone, ""
}
