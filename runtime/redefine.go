package runtime

import (
	"bytes"
	"fmt"

	"github.com/chazu/molt/classfile"
)

// ---------------------------------------------------------------------------
// Redefine: the atomic live-replacement primitive
// ---------------------------------------------------------------------------

// Redefine replaces a loaded class's definition with a new class image.
// The swap is atomic with respect to the class table: it either applies
// completely or not at all, and no caller ever observes a half-applied
// definition.
//
// oldImage, when non-nil, must match the class's current image; a
// mismatch means the caller raced another redefinition and is refused
// with ErrStaleImage. Redefining to the image the class already has is a
// no-op and succeeds.
//
// The runtime enforces its own rules here independently of any upstream
// validation: the image must declare the target class, and the
// superclass may not change. Field-shape changes are accepted; deciding
// whether live instances can survive them is the caller's concern.
func (rt *Runtime) Redefine(name string, oldImage, newImage []byte) error {
	cf, err := classfile.Parse(newImage)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	c := rt.classes[name]
	if c == nil {
		return fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if bytes.Equal(c.image, newImage) {
		// Already at the target definition.
		return nil
	}
	if oldImage != nil && !bytes.Equal(c.image, oldImage) {
		return fmt.Errorf("%w: %s", ErrStaleImage, name)
	}
	if cf.Name != name {
		return fmt.Errorf("%w: expected %s, image declares %s", ErrClassMismatch, name, cf.Name)
	}

	currentSuper := ""
	if c.superclass != nil {
		currentSuper = c.superclass.name
	}
	if cf.Superclass != currentSuper {
		return fmt.Errorf("%w: %s extends %q, image declares %q",
			ErrHierarchyChange, name, currentSuper, cf.Superclass)
	}

	c.apply(cf, newImage)
	c.version++
	return nil
}
