// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package raw manipulates the reference counts of bare objects, for code that can only pass the object
// itself around and not a refcount.Strong or refcount.Weak handle (e.g., a callback registry keyed by
// object, or a C library holding the object through package handles).
//
// These functions are unsafe in the sense that nothing tracks which caller owns which unit: every IncRef
// must be paired with exactly one DecRef (or the unit handed back to refcount.Reclaim), and every
// WeakIncRef / MakeWeak with exactly one WeakDecRef (or refcount.ReclaimWeak). A missing call leaks the
// object, an extra call releases it under someone else's feet, which is an InvariantViolation if
// detected, and undefined behavior of the object otherwise.
//
// Each function reclaims a temporary handle, performs the equivalent handle operation, and releases the
// temporary handle without touching the counters again, so the guarantees of package refcount apply.
package raw

import (
	"github.com/gomlx/refcount/pkg/core/refcount"
)

// IncRef adds a strong unit to self, which must be alive and owned by the caller (through a unit
// previously released with Strong.Release or added by IncRef).
// A nil self is a no-op.
func IncRef[T refcount.Pointee](self T) {
	p := refcount.Reclaim(self)
	extra := p.Clone()
	p.Release()
	extra.Release()
}

// DecRef drops a strong unit of self. If it was the last one, self's resources are released, and if no
// weak references are left it is deallocated.
// A nil self is a no-op.
func DecRef[T refcount.Pointee](self T) {
	p := refcount.Reclaim(self)
	p.Reset()
}

// MakeWeak adds a weak unit to self, which must be owned by the caller through a strong unit, and returns
// self to be used with the Weak* functions.
func MakeWeak[T refcount.Pointee](self T) T {
	p := refcount.Reclaim(self)
	w := p.Weak()
	p.Release()
	return w.Release()
}

// UseCount returns the strong count of self, which must be owned by the caller through a strong unit.
// It returns 0 for a nil self.
func UseCount[T refcount.Pointee](self T) uint64 {
	p := refcount.Reclaim(self)
	count := p.UseCount()
	p.Release()
	return count
}

// WeakIncRef adds a weak unit to self, which must be owned by the caller through a weak unit (released with
// Weak.Release, or created with MakeWeak or WeakIncRef).
func WeakIncRef[T refcount.Pointee](self T) {
	w := refcount.ReclaimWeak(self)
	extra := w.Clone()
	w.Release()
	extra.Release()
}

// WeakDecRef drops a weak unit of self, deallocating it if it was the last reference of any kind.
func WeakDecRef[T refcount.Pointee](self T) {
	w := refcount.ReclaimWeak(self)
	w.Reset()
}

// WeakLock attempts to add a strong unit to self, owned by the caller through a weak unit. It returns self
// if it succeeded (the caller must eventually DecRef it), or nil if self had expired.
// The weak unit is kept in either case.
func WeakLock[T refcount.Pointee](self T) T {
	w := refcount.ReclaimWeak(self)
	p := w.Lock()
	w.Release()
	return p.Release()
}

// WeakUseCount returns the strong count of self, owned by the caller through a weak unit. It returns 0 if
// self has expired or is nil.
func WeakUseCount[T refcount.Pointee](self T) uint64 {
	w := refcount.ReclaimWeak(self)
	count := w.UseCount()
	w.Release()
	return count
}
