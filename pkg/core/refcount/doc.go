// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package refcount implements intrusive reference counting: a Strong/Weak handle pair whose counters live
// inside the managed object (in an embedded Target) rather than in a separately allocated control block.
//
// It is used to share objects whose resources must be released deterministically, as soon as the last
// owner is done with them, instead of whenever the Go garbage collector gets to it: storage shared by
// several tensors, buffers on an accelerator, handles to objects managed by a C library.
//
// An object goes through three states:
//
//   - Alive: strong count > 0. Strong handles may be cloned, and Weak handles may be upgraded with Lock.
//   - Resources released: the last Strong was reset, and ReleaseResources was called (exactly once). Weak
//     handles still reference the object, but Lock always fails.
//   - Deallocated: the last Weak was reset too (the strong handles collectively hold one implicit weak unit,
//     dropped right after ReleaseResources). The optional Deallocator hook is called (exactly once), and the
//     memory is left to the garbage collector.
//
// Example:
//
//	type Storage struct {
//		refcount.Target
//		data []byte
//	}
//
//	func (s *Storage) ReleaseResources() { pool.Put(s.data); s.data = nil }
//
//	p := refcount.Make(&Storage{data: pool.Get()})
//	q := p.Clone()    // strong=2
//	w := p.Weak()     // weak=2 (1 + the implicit unit)
//	p.Reset()         // strong=1
//	q.Reset()         // strong=0: ReleaseResources is called
//	r := w.Lock()     // r is null: the storage expired
//	w.Reset()         // weak=0: deallocated
//
// All coordination uses atomic operations on the counters only: handles to the same object can be used from
// any number of goroutines, and no operation blocks. Misusing the protocol (e.g., resetting a handle twice
// through raw pointers) is detected where possible and raised as an InvariantViolation, which is not meant
// to be recovered from.
//
// Package raw provides the same operations over bare objects, for code that can't carry the handle types,
// and package handles maps ownership units to integers for boundaries that can only carry integers.
//
// Debugging options can be set with the environment variable REFCOUNT_DEBUG, see ParseConfig.
package refcount
