// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refcount

import (
	"fmt"
	"sync/atomic"

	"k8s.io/klog/v2"
)

// Target holds the strong and weak reference counters of an object managed by Strong and Weak handles.
//
// It must be embedded (by value) in the managed type, and the managed type must always be used by pointer:
//
//	type Buffer struct {
//		refcount.Target
//		data []byte
//	}
//
//	func (b *Buffer) ReleaseResources() { b.data = nil }
//
//	p := refcount.Make(&Buffer{data: make([]byte, 1024)})
//	defer p.Reset()
//
// The counters are a property of the memory location, not of the logical value: a Target must never be
// copied (go vet flags copies of the atomic fields).
type Target struct {
	strong atomic.Uint64

	// weak includes one implicit unit held collectively by all strong handles, while strong > 0.
	weak atomic.Uint64
}

// refcounts implements Object. It is the package-private access to the counters.
func (t *Target) refcounts() *Target { return t }

// ReleaseResources is the default no-op resource release hook.
//
// Types embedding Target override it to tear down their logical state. It is called exactly once,
// when the last strong reference is dropped. Weak references may still exist (and may still point to
// the object) after it runs, so the object must remain a valid Go value afterward.
func (t *Target) ReleaseResources() {}

// Object is implemented by any type embedding Target (by pointer).
type Object interface {
	refcounts() *Target

	// ReleaseResources is called exactly once, when the strong count drops to zero.
	ReleaseResources()
}

// Pointee is the constraint for types managed by Strong and Weak: a comparable Object, usually a
// pointer to a struct embedding Target.
type Pointee interface {
	comparable
	Object
}

// Deallocator is optionally implemented by managed types that want to be notified when the weak count
// drops to zero, that is, when no handle of any kind references the object anymore.
//
// Deallocate is called exactly once, always after ReleaseResources.
type Deallocator interface {
	Deallocate()
}

// maxCount is the result of decrementing a counter that was already zero.
const maxCount = ^uint64(0)

func (t *Target) incrementStrong() uint64 { return t.strong.Add(1) }
func (t *Target) decrementStrong() uint64 { return t.strong.Add(maxCount) }
func (t *Target) incrementWeak() uint64   { return t.weak.Add(1) }
func (t *Target) decrementWeak() uint64   { return t.weak.Add(maxCount) }

// Counts returns a snapshot of the strong and weak counters.
//
// It is meant for diagnostics and tests only: the values may be stale by the time they are used.
func (t *Target) Counts() (strong, weak uint64) {
	return t.strong.Load(), t.weak.Load()
}

// retainStrong adds a strong unit to a live object.
func retainStrong(obj Object, what string) {
	if obj.refcounts().incrementStrong() == 1 {
		violationf("%s: cannot increase the strong count of %T after it reached zero", what, obj)
	}
}

// retainWeak adds a weak unit to an object not yet deallocated.
func retainWeak(obj Object, what string) {
	if obj.refcounts().incrementWeak() == 1 {
		violationf("%s: cannot increase the weak count of %T after it reached zero", what, obj)
	}
}

// releaseStrong drops a strong unit and runs the two-phase teardown if it was the last one:
// ReleaseResources first, then the implicit weak unit is dropped, possibly deallocating the object.
func releaseStrong(obj Object) {
	t := obj.refcounts()
	count := t.decrementStrong()
	if count == maxCount {
		violationf("Strong.Reset(): strong count of %T dropped below zero (double reset?)", obj)
	}
	if count != 0 {
		return
	}
	obj.ReleaseResources()
	if klog.V(2).Enabled() {
		klog.Infof("refcount: %s resources released", describe(obj))
	}
	releaseWeak(obj)
}

// releaseWeak drops a weak unit, deallocating the object if it was the last one.
func releaseWeak(obj Object) {
	count := obj.refcounts().decrementWeak()
	if count == maxCount {
		violationf("Weak.Reset(): weak count of %T dropped below zero (double reset?)", obj)
	}
	if count == 0 {
		deallocate(obj)
	}
}

// deallocate runs when the weak count reaches zero. Memory itself is reclaimed by the Go GC once the
// last Go reference is gone.
func deallocate(obj Object) {
	t := obj.refcounts()
	strong, weak := t.Counts()
	if strong != 0 {
		violationf("attempted to deallocate %T that still has %d strong reference(s)", obj, strong)
	}
	if weak > 1 {
		violationf("attempted to deallocate %T that still has %d weak reference(s)", obj, weak)
	}
	if d, ok := obj.(Deallocator); ok {
		d.Deallocate()
	}
	untrack(t)
	if klog.V(2).Enabled() {
		klog.Infof("refcount: %s deallocated", describe(obj))
	}
}

// describe returns a short description of the object used in logs.
func describe(obj Object) string {
	return fmt.Sprintf("%T(%p)", obj, obj.refcounts())
}
