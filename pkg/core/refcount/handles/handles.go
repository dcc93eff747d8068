// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package handles maps units of ownership of reference counted objects to integer handles, for boundaries
// that can only carry integers: a C library that stores a `uintptr_t` user-data, a callback registered
// through a function pointer, a file descriptor-like API.
//
// Exporting a handle moves one unit (strong or weak) out of a refcount handle into the Table; importing it
// moves the unit back. While exported, the unit keeps the object alive (or, for weak units, allocated),
// exactly as the refcount handle would.
//
// Example:
//
//	var storages = handles.NewTable[*Storage](0)
//
//	p := refcount.Make(newStorage())
//	h := storages.Export(&p)       // p is now null; h can be passed to C.
//	...
//	p, err := storages.Import(h)   // h is no longer valid.
//
// The table itself is protected by a mutex: exporting and importing are not on the hot path of the
// reference counting.
package handles

import (
	"fmt"
	"sync"

	"github.com/gomlx/refcount/pkg/core/refcount"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Handle identifies a unit of ownership stored in a Table. The zero value is never issued.
type Handle uintptr

// Invalid is the handle returned when exporting a null refcount handle.
const Invalid = Handle(0)

// endOfList marks the end of the free slots list.
const endOfList = -1

// DefaultInitialSlots is the number of slots preallocated by NewTable if none is given.
const DefaultInitialSlots = 128

// Kind of unit held by a slot.
type Kind int

const (
	// Free slots hold no unit.
	Free Kind = iota

	// Strong slots hold a strong unit.
	Strong

	// Weak slots hold a weak unit.
	Weak
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case Free:
		return "free"
	case Strong:
		return "strong"
	case Weak:
		return "weak"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type slot[T refcount.Pointee] struct {
	kind   Kind
	target T

	// nextFree is the index of the next free slot, for free slots.
	nextFree int
}

// Table of exported units of ownership of objects of type T.
//
// It is safe for concurrent use.
type Table[T refcount.Pointee] struct {
	mu       sync.Mutex
	slots    []slot[T]
	nextFree int
	numUsed  int
}

// NewTable returns a Table with initialSlots preallocated, or DefaultInitialSlots if initialSlots <= 0.
func NewTable[T refcount.Pointee](initialSlots int) *Table[T] {
	if initialSlots <= 0 {
		initialSlots = DefaultInitialSlots
	}
	t := &Table[T]{slots: make([]slot[T], initialSlots)}
	for ii := range t.slots {
		t.slots[ii].nextFree = ii + 1
	}
	t.slots[len(t.slots)-1].nextFree = endOfList
	return t
}

// lockedStore puts target in a free slot and returns its handle. It must be called with t.mu locked.
func (t *Table[T]) lockedStore(kind Kind, target T) Handle {
	var idx int
	if t.nextFree == endOfList {
		// No available slots, we append a new one.
		t.slots = append(t.slots, slot[T]{})
		idx = len(t.slots) - 1
	} else {
		idx = t.nextFree
		t.nextFree = t.slots[idx].nextFree
	}
	t.slots[idx] = slot[T]{kind: kind, target: target}
	t.numUsed++
	return Handle(idx + 1)
}

// lockedInRange returns whether h indexes an existing slot. h may be any uintptr value.
func (t *Table[T]) lockedInRange(h Handle) bool {
	return h != Invalid && uint64(h) <= uint64(len(t.slots))
}

// lockedSlot returns the slot of h, checking it holds a unit of the given kind.
func (t *Table[T]) lockedSlot(h Handle, kind Kind) (*slot[T], error) {
	if !t.lockedInRange(h) {
		return nil, errors.Errorf("handles: invalid handle %d", h)
	}
	s := &t.slots[h-1]
	if s.kind != kind {
		return nil, errors.Errorf("handles: handle %d holds a %s unit, not a %s one", h, s.kind, kind)
	}
	return s, nil
}

// lockedFree returns the slot of h to the free list and returns its target.
func (t *Table[T]) lockedFree(h Handle) T {
	idx := int(h - 1)
	target := t.slots[idx].target
	t.slots[idx] = slot[T]{kind: Free, nextFree: t.nextFree}
	t.nextFree = idx
	t.numUsed--
	return target
}

// Export moves the strong unit of p into the table, leaving p null, and returns its handle.
// It returns Invalid if p is null.
func (t *Table[T]) Export(p *refcount.Ptr[T]) Handle {
	if !p.Defined() {
		return Invalid
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockedStore(Strong, p.Release())
}

// ExportWeak moves the weak unit of w into the table, leaving w null, and returns its handle.
// It returns Invalid if w is null.
func (t *Table[T]) ExportWeak(w *refcount.WeakPtr[T]) Handle {
	if !w.Defined() {
		return Invalid
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockedStore(Weak, w.Release())
}

// Import moves the strong unit of h out of the table. The handle is no longer valid afterward.
func (t *Table[T]) Import(h Handle) (refcount.Ptr[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.lockedSlot(h, Strong); err != nil {
		return refcount.Ptr[T]{}, err
	}
	return refcount.Reclaim(t.lockedFree(h)), nil
}

// ImportWeak moves the weak unit of h out of the table. The handle is no longer valid afterward.
func (t *Table[T]) ImportWeak(h Handle) (refcount.WeakPtr[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.lockedSlot(h, Weak); err != nil {
		return refcount.WeakPtr[T]{}, err
	}
	return refcount.ReclaimWeak(t.lockedFree(h)), nil
}

// Borrow returns a new strong handle to the object of h, without consuming h.
//
// For a handle holding a weak unit it attempts to Lock it: the returned handle is null if the object
// has expired.
func (t *Table[T]) Borrow(h Handle) (refcount.Ptr[T], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lockedInRange(h) && t.slots[h-1].kind == Weak {
		w := refcount.ReclaimWeak(t.slots[h-1].target)
		p := w.Lock()
		w.Release()
		return p, nil
	}
	s, err := t.lockedSlot(h, Strong)
	if err != nil {
		return refcount.Ptr[T]{}, err
	}
	p := refcount.Reclaim(s.target)
	borrowed := p.Clone()
	p.Release()
	return borrowed, nil
}

// KindOf returns the kind of unit held by h, or Free if h is not in use.
func (t *Table[T]) KindOf(h Handle) Kind {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.lockedInRange(h) {
		return Free
	}
	return t.slots[h-1].kind
}

// Len returns the number of handles in use.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numUsed
}

// Drain resets every unit still held by the table, invalidating all its handles, and returns how many
// there were. Leftover handles usually mean the other side of the boundary leaked them.
//
// The units are reset after the table is unlocked, so ReleaseResources may use the table.
func (t *Table[T]) Drain() int {
	t.mu.Lock()
	var strongs []refcount.Ptr[T]
	var weaks []refcount.WeakPtr[T]
	for idx := range t.slots {
		switch t.slots[idx].kind {
		case Strong:
			strongs = append(strongs, refcount.Reclaim(t.lockedFree(Handle(idx+1))))
		case Weak:
			weaks = append(weaks, refcount.ReclaimWeak(t.lockedFree(Handle(idx+1))))
		default:
		}
	}
	t.mu.Unlock()

	if len(strongs)+len(weaks) > 0 {
		klog.V(1).Infof("handles: draining %d strong and %d weak leftover unit(s)", len(strongs), len(weaks))
	}
	for ii := range strongs {
		strongs[ii].Reset()
	}
	for ii := range weaks {
		weaks[ii].Reset()
	}
	return len(strongs) + len(weaks)
}
