// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refcount

import (
	"cmp"
	"fmt"
	"hash/maphash"
	"reflect"
	"unsafe"
)

// Weak is a non-owning handle to an object managed by Strong handles: it doesn't keep the object alive (its
// resources are released when the last Strong is reset), but it keeps it from being deallocated, so it can
// safely attempt to upgrade it back to a Strong with Lock.
//
// A non-null Weak contributes exactly one unit to the weak count of its target. As with Strong, handles must be
// propagated with Clone and Move, and eventually Reset. The zero value is a null handle.
type Weak[T Pointee, N NullPolicy[T]] struct {
	target T
}

// WeakPtr is a Weak handle using the nil sentinel.
type WeakPtr[T Pointee] = Weak[T, NilPolicy[T]]

// ReclaimWeak creates a Weak handle from an object previously returned by Weak.Release, taking over its weak
// unit. The counters are not changed.
//
// It is an InvariantViolation if the object's counters show it cannot hold a released weak unit: either the
// weak count must exceed the implicit unit of the strong handles, or the object must be expired with a
// positive weak count.
func ReclaimWeak[T Pointee](t T) WeakPtr[T] {
	return ReclaimWeakWith[T, NilPolicy[T]](t)
}

// ReclaimWeakWith is like ReclaimWeak, but for handles with a custom NullPolicy.
func ReclaimWeakWith[T Pointee, N NullPolicy[T]](t T) Weak[T, N] {
	if isNull[T, N](t) {
		return Weak[T, N]{target: nullOf[T, N]()}
	}
	strong, weak := t.refcounts().Counts()
	if !(weak > 1 || (strong == 0 && weak > 0)) {
		violationf("refcount.ReclaimWeak(): %T (strong=%d, weak=%d) doesn't hold a released weak reference, "+
			"it can only reclaim objects created with Weak.Release()", t, strong, weak)
	}
	return Weak[T, N]{target: t}
}

// UnsafeGet returns the object, or the sentinel if the handle is null.
//
// The object may have been torn down already (see Expired): only its Target can be used, unless a Strong
// handle to it is held.
func (w *Weak[T, N]) UnsafeGet() T {
	if isNull[T, N](w.target) {
		return nullOf[T, N]()
	}
	return w.target
}

// Defined returns whether the handle is not null.
func (w *Weak[T, N]) Defined() bool {
	return !isNull[T, N](w.target)
}

// Clone returns a new Weak handle to the same object, incrementing the weak count.
func (w *Weak[T, N]) Clone() Weak[T, N] {
	if isNull[T, N](w.target) {
		return Weak[T, N]{target: nullOf[T, N]()}
	}
	retainWeak(w.target, "Weak.Clone()")
	return Weak[T, N]{target: w.target}
}

// Move transfers the weak unit to the returned handle and leaves w null. No counter is touched.
func (w *Weak[T, N]) Move() Weak[T, N] {
	moved := Weak[T, N]{target: w.target}
	w.target = nullOf[T, N]()
	return moved
}

// Reset drops the weak unit held by w, which becomes null. If it was the last reference of any kind, the
// object is deallocated. It never calls ReleaseResources.
func (w *Weak[T, N]) Reset() {
	target := w.target
	w.target = nullOf[T, N]()
	if isNull[T, N](target) {
		return
	}
	releaseWeak(target)
}

// Swap exchanges the objects of w and other.
func (w *Weak[T, N]) Swap(other *Weak[T, N]) {
	w.target, other.target = other.target, w.target
}

// MoveFrom makes w take over the weak unit held by other, which becomes null. The object previously
// referenced by w is released.
func (w *Weak[T, N]) MoveFrom(other *Weak[T, N]) {
	tmp := other.Move()
	w.Swap(&tmp)
	tmp.Reset()
}

// CopyFrom makes w a new weak reference to the object of other. The object previously referenced by w is
// released.
func (w *Weak[T, N]) CopyFrom(other *Weak[T, N]) {
	tmp := other.Clone()
	w.Swap(&tmp)
	tmp.Reset()
}

// Assign makes w a weak reference to the object of the strong handle p. The object previously referenced
// by w is released.
func (w *Weak[T, N]) Assign(p *Strong[T, N]) {
	tmp := p.Weak()
	w.Swap(&tmp)
	tmp.Reset()
}

// Lock attempts to upgrade w to a Strong handle. It returns a null Strong if w is null or if the object
// has expired (its strong count reached zero).
//
// It never blocks: it retries a compare-and-swap on the strong count while other goroutines change it, and
// it never increments the count from zero.
func (w *Weak[T, N]) Lock() Strong[T, N] {
	if isNull[T, N](w.target) {
		return Strong[T, N]{target: nullOf[T, N]()}
	}
	t := w.target.refcounts()
	for count := t.strong.Load(); count != 0; count = t.strong.Load() {
		if t.strong.CompareAndSwap(count, count+1) {
			return Strong[T, N]{target: w.target}
		}
	}
	return Strong[T, N]{target: nullOf[T, N]()}
}

// Expired returns whether the object's strong count reached zero (or w is null). Once expired, Lock
// always fails.
func (w *Weak[T, N]) Expired() bool {
	return w.UseCount() == 0
}

// Release returns the object and leaves w null, without changing the counters: the caller becomes
// responsible for the weak unit and must hand it back to exactly one ReclaimWeak.
func (w *Weak[T, N]) Release() T {
	target := w.target
	w.target = nullOf[T, N]()
	return target
}

// UseCount returns the strong count of the object, or 0 if w is null.
func (w *Weak[T, N]) UseCount() uint64 {
	if isNull[T, N](w.target) {
		return 0
	}
	return w.target.refcounts().strong.Load()
}

// WeakUseCount returns the weak count of the object, or 0 if w is null.
func (w *Weak[T, N]) WeakUseCount() uint64 {
	if isNull[T, N](w.target) {
		return 0
	}
	return w.target.refcounts().weak.Load()
}

func (w *Weak[T, N]) addr() uintptr {
	return uintptr(unsafe.Pointer(identity(w.UnsafeGet())))
}

// Hash returns a hash of the object address, consistent with WeakEqual and with Strong.Hash.
func (w *Weak[T, N]) Hash() uint64 {
	return maphash.Comparable(hashSeed, w.addr())
}

// Less returns whether the address of w's object is smaller than other's.
func (w *Weak[T, N]) Less(other *Weak[T, N]) bool {
	return w.addr() < other.addr()
}

// String implements fmt.Stringer.
func (w *Weak[T, N]) String() string {
	if isNull[T, N](w.target) {
		return fmt.Sprintf("Weak[%s](null)", reflect.TypeFor[T]())
	}
	strong, weak := w.target.refcounts().Counts()
	return fmt.Sprintf("Weak[%s](%p, strong=%d, weak=%d)", reflect.TypeFor[T](), w.target.refcounts(), strong, weak)
}

// WeakEqual returns whether a and b reference the same object, possibly through different types.
func WeakEqual[T1 Pointee, N1 NullPolicy[T1], T2 Pointee, N2 NullPolicy[T2]](a *Weak[T1, N1], b *Weak[T2, N2]) bool {
	return a.addr() == b.addr()
}

// WeakCompare orders a and b by object address, returning -1, 0 or +1.
func WeakCompare[T1 Pointee, N1 NullPolicy[T1], T2 Pointee, N2 NullPolicy[T2]](a *Weak[T1, N1], b *Weak[T2, N2]) int {
	return cmp.Compare(a.addr(), b.addr())
}
