// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refcount

// NullPolicy defines the sentinel value that represents "points at nothing" for handles of type T.
//
// It is a type parameter of Strong and Weak, so the sentinel is resolved per instantiation and the null
// check is a single comparison. Implementations should be zero-sized types whose Null method always
// returns the same value:
//
//	var emptyStorage = &Storage{}
//
//	type storageNull struct{}
//
//	func (storageNull) Null() *Storage { return emptyStorage }
//
// The sentinel is never reference counted: handles holding it never touch its counters.
type NullPolicy[T any] interface {
	Null() T
}

// NilPolicy is the default NullPolicy: the sentinel is the zero value of T (nil for pointers).
type NilPolicy[T any] struct{}

// Null returns the zero value of T.
func (NilPolicy[T]) Null() T {
	var zero T
	return zero
}

// nullOf returns the sentinel of policy N.
func nullOf[T any, N NullPolicy[T]]() T {
	var policy N
	return policy.Null()
}

// identity returns the Target of t, or nil if t is the zero value.
// A non-zero sentinel has its own Target, and so its own identity.
func identity[T Pointee](t T) *Target {
	var zero T
	if t == zero {
		return nil
	}
	return t.refcounts()
}
