// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refcount

import (
	"cmp"
	"fmt"
	"hash/maphash"
	"reflect"
	"unsafe"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// Strong is an owning handle to an object of type T, whose counters live in an embedded Target.
//
// A non-null Strong contributes exactly one unit to the strong count of its target. While the strong count
// is positive the object is alive; when the last Strong is reset, T.ReleaseResources is called (exactly once),
// and once no Weak references it either, the object is deallocated (see Deallocator).
//
// Go assignment copies the handle without accounting for it, so handles must be propagated explicitly:
// Clone adds an owner, Move transfers ownership and leaves the source null. Never assign or pass a Strong
// by value unless the source is discarded afterward without calling Reset on it.
//
// N selects the sentinel used for "points at nothing" (see NullPolicy). Most code uses the alias
// Ptr[T], with the nil sentinel. The zero value of Strong is a null handle.
//
// Distinct handles to the same object may be cloned, moved, reset, and locked from different goroutines
// without synchronization. A single handle value is not safe for concurrent mutation.
type Strong[T Pointee, N NullPolicy[T]] struct {
	target T
}

// Ptr is a Strong handle using the nil sentinel.
type Ptr[T Pointee] = Strong[T, NilPolicy[T]]

// isNull reports whether t is the sentinel of N. The zero value of T is always treated as null, so zero
// handles of policies with non-zero sentinels are also null.
func isNull[T Pointee, N NullPolicy[T]](t T) bool {
	var zero T
	return t == zero || t == nullOf[T, N]()
}

// Make takes ownership of a newly constructed object and returns its first Strong handle.
//
// The object's counters must still be zero: its constructor must not have created handles to itself, and
// it must not be managed already. Otherwise, it is an InvariantViolation. After Make the strong and weak
// counts are both 1.
//
// It panics if obj is nil.
func Make[T Pointee](obj T) Ptr[T] {
	return makeStrong[T, NilPolicy[T]](obj, 3)
}

// New calls construct and takes ownership of the returned object, see Make.
func New[T Pointee](construct func() T) Ptr[T] {
	return makeStrong[T, NilPolicy[T]](construct(), 3)
}

// MakeWith is like Make, but for handles with a custom NullPolicy.
func MakeWith[T Pointee, N NullPolicy[T]](obj T) Strong[T, N] {
	return makeStrong[T, N](obj, 3)
}

// makeStrong implements the factories. skip is passed to track to find the factory caller.
func makeStrong[T Pointee, N NullPolicy[T]](obj T, skip int) Strong[T, N] {
	if isNull[T, N](obj) {
		exceptions.Panicf("refcount.Make(): cannot take ownership of a null %T", obj)
	}
	t := obj.refcounts()
	if !t.strong.CompareAndSwap(0, 1) {
		violationf("refcount.Make(): newly created %T has a non-zero strong count (%d): "+
			"does its constructor create a reference to itself, or is it already managed?", obj, t.strong.Load())
	}
	if !t.weak.CompareAndSwap(0, 1) {
		violationf("refcount.Make(): newly created %T has a non-zero weak count (%d): "+
			"does its constructor create a weak reference to itself?", obj, t.weak.Load())
	}
	track(obj, skip)
	if klog.V(3).Enabled() {
		klog.Infof("refcount: %s created", describe(obj))
	}
	return Strong[T, N]{target: obj}
}

// Reclaim creates a Strong handle from an object previously returned by Strong.Release, taking over the
// unit of ownership released there. The counters are not changed.
//
// Each Release must be paired with exactly one Reclaim: a missing one leaks the object, an extra one
// double-frees it. A null t returns a null handle.
func Reclaim[T Pointee](t T) Ptr[T] {
	return ReclaimWith[T, NilPolicy[T]](t)
}

// ReclaimWith is like Reclaim, but for handles with a custom NullPolicy.
func ReclaimWith[T Pointee, N NullPolicy[T]](t T) Strong[T, N] {
	if isNull[T, N](t) {
		return Strong[T, N]{target: nullOf[T, N]()}
	}
	if t.refcounts().strong.Load() == 0 {
		violationf("refcount.Reclaim(): %T has no strong references, it can only reclaim objects "+
			"created with Strong.Release()", t)
	}
	return Strong[T, N]{target: t}
}

// ReclaimFromNonOwning creates a new Strong handle to an object owned by someone else: unlike Reclaim it
// adds a strong unit. It is an InvariantViolation if the object is not alive.
func ReclaimFromNonOwning[T Pointee](t T) Ptr[T] {
	if isNull[T, NilPolicy[T]](t) {
		return Ptr[T]{}
	}
	if t.refcounts().strong.Load() == 0 {
		violationf("refcount.ReclaimFromNonOwning(): %T is not owned by anyone", t)
	}
	retainStrong(t, "refcount.ReclaimFromNonOwning()")
	return Ptr[T]{target: t}
}

// Get returns the object, or the sentinel if the handle is null. It doesn't transfer ownership: the
// object is only guaranteed to be alive while the handle is.
func (p *Strong[T, N]) Get() T {
	if isNull[T, N](p.target) {
		return nullOf[T, N]()
	}
	return p.target
}

// Defined returns whether the handle is not null.
func (p *Strong[T, N]) Defined() bool {
	return !isNull[T, N](p.target)
}

// Clone returns a new owning handle to the same object, incrementing the strong count.
// Cloning a null handle returns a null handle.
func (p *Strong[T, N]) Clone() Strong[T, N] {
	if isNull[T, N](p.target) {
		return Strong[T, N]{target: nullOf[T, N]()}
	}
	retainStrong(p.target, "Strong.Clone()")
	return Strong[T, N]{target: p.target}
}

// Move transfers ownership to the returned handle and leaves p null. No counter is touched.
func (p *Strong[T, N]) Move() Strong[T, N] {
	moved := Strong[T, N]{target: p.target}
	p.target = nullOf[T, N]()
	return moved
}

// Reset drops the ownership held by p, which becomes null.
//
// If it was the last strong handle, T.ReleaseResources is called, and then the implicit weak unit held by
// the strong handles is dropped: if no Weak handle is left, the object is deallocated.
// Resetting a null handle is a no-op.
func (p *Strong[T, N]) Reset() {
	target := p.target
	p.target = nullOf[T, N]()
	if isNull[T, N](target) {
		return
	}
	releaseStrong(target)
}

// Swap exchanges the objects of p and other.
func (p *Strong[T, N]) Swap(other *Strong[T, N]) {
	p.target, other.target = other.target, p.target
}

// MoveFrom makes p take over the ownership held by other, which becomes null. The object previously
// owned by p is released.
func (p *Strong[T, N]) MoveFrom(other *Strong[T, N]) {
	tmp := other.Move()
	p.Swap(&tmp)
	tmp.Reset()
}

// CopyFrom makes p a new owner of the object of other. The object previously owned by p is released.
// It is safe to use with p == other.
func (p *Strong[T, N]) CopyFrom(other *Strong[T, N]) {
	tmp := other.Clone()
	p.Swap(&tmp)
	tmp.Reset()
}

// Release returns the object and leaves p null, without changing the counters: the caller becomes
// responsible for the unit of ownership, and must eventually hand it back to exactly one Reclaim.
//
// It exists for boundaries that cannot carry a Strong, see also package raw and package handles.
func (p *Strong[T, N]) Release() T {
	target := p.target
	p.target = nullOf[T, N]()
	return target
}

// Weak returns a new Weak handle to the object, incrementing the weak count.
// It returns a null Weak if p is null.
func (p *Strong[T, N]) Weak() Weak[T, N] {
	if isNull[T, N](p.target) {
		return Weak[T, N]{target: nullOf[T, N]()}
	}
	retainWeak(p.target, "Strong.Weak()")
	return Weak[T, N]{target: p.target}
}

// UseCount returns the strong count of the object, or 0 if p is null.
//
// It is meant for diagnostics and tests: it must not be used for synchronization decisions.
func (p *Strong[T, N]) UseCount() uint64 {
	if isNull[T, N](p.target) {
		return 0
	}
	return p.target.refcounts().strong.Load()
}

// WeakUseCount returns the weak count of the object (including the unit held by the strong handles), or 0
// if p is null.
func (p *Strong[T, N]) WeakUseCount() uint64 {
	if isNull[T, N](p.target) {
		return 0
	}
	return p.target.refcounts().weak.Load()
}

// Unique returns whether p is the only strong handle to its object.
func (p *Strong[T, N]) Unique() bool {
	return p.UseCount() == 1
}

// addr returns the address that identifies the object, 0 for a nil sentinel.
func (p *Strong[T, N]) addr() uintptr {
	return uintptr(unsafe.Pointer(identity(p.Get())))
}

var hashSeed = maphash.MakeSeed()

// Hash returns a hash of the object address, consistent with Equal.
func (p *Strong[T, N]) Hash() uint64 {
	return maphash.Comparable(hashSeed, p.addr())
}

// Less returns whether the address of p's object is smaller than other's, for ordered containers.
func (p *Strong[T, N]) Less(other *Strong[T, N]) bool {
	return p.addr() < other.addr()
}

// String implements fmt.Stringer.
func (p *Strong[T, N]) String() string {
	if isNull[T, N](p.target) {
		return fmt.Sprintf("Strong[%s](null)", reflect.TypeFor[T]())
	}
	strong, weak := p.target.refcounts().Counts()
	return fmt.Sprintf("Strong[%s](%p, strong=%d, weak=%d)", reflect.TypeFor[T](), p.target.refcounts(), strong, weak)
}

// Equal returns whether a and b point to the same object. The handles may be of different types, for
// instance a Ptr[*Storage] and a Ptr[Object] created with CloneAs.
func Equal[T1 Pointee, N1 NullPolicy[T1], T2 Pointee, N2 NullPolicy[T2]](a *Strong[T1, N1], b *Strong[T2, N2]) bool {
	return a.addr() == b.addr()
}

// Compare orders a and b by object address. It returns -1, 0 or +1, and it can be used with slices.SortFunc.
func Compare[T1 Pointee, N1 NullPolicy[T1], T2 Pointee, N2 NullPolicy[T2]](a *Strong[T1, N1], b *Strong[T2, N2]) int {
	return cmp.Compare(a.addr(), b.addr())
}
