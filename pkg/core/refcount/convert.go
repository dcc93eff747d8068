// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refcount

import (
	"reflect"

	"github.com/pkg/errors"
)

// convertTarget converts from to To with a type assertion. A null from converts to a null To.
func convertTarget[To Pointee, From Pointee, N NullPolicy[From]](from From, caller string) (to To, isNullFrom bool, err error) {
	if isNull[From, N](from) {
		return to, true, nil
	}
	to, ok := any(from).(To)
	if !ok {
		return to, false, errors.Errorf("%s: %T cannot be converted to %s", caller, from, reflect.TypeFor[To]())
	}
	return to, false, nil
}

// MoveAs transfers the ownership of p to a handle of a different type To, usually an interface
// implemented by the object (like Object), or back from an interface to the concrete type:
//
//	p := refcount.Make(&Buffer{})
//	obj, err := refcount.MoveAs[refcount.Object](&p)
//
// No counter is touched. If the object doesn't implement To, an error is returned and p keeps its
// ownership. A null p returns a null handle.
func MoveAs[To Pointee, From Pointee, N NullPolicy[From]](p *Strong[From, N]) (Ptr[To], error) {
	to, wasNull, err := convertTarget[To, From, N](p.target, "refcount.MoveAs()")
	if err != nil || wasNull {
		return Ptr[To]{}, err
	}
	p.target = nullOf[From, N]()
	return Ptr[To]{target: to}, nil
}

// CloneAs returns a new owning handle of type To to the object of p, incrementing the strong count.
// If the object doesn't implement To, an error is returned and no counter is changed.
func CloneAs[To Pointee, From Pointee, N NullPolicy[From]](p *Strong[From, N]) (Ptr[To], error) {
	to, wasNull, err := convertTarget[To, From, N](p.target, "refcount.CloneAs()")
	if err != nil || wasNull {
		return Ptr[To]{}, err
	}
	retainStrong(to, "refcount.CloneAs()")
	return Ptr[To]{target: to}, nil
}

// WeakMoveAs is MoveAs for Weak handles.
func WeakMoveAs[To Pointee, From Pointee, N NullPolicy[From]](w *Weak[From, N]) (WeakPtr[To], error) {
	to, wasNull, err := convertTarget[To, From, N](w.target, "refcount.WeakMoveAs()")
	if err != nil || wasNull {
		return WeakPtr[To]{}, err
	}
	w.target = nullOf[From, N]()
	return WeakPtr[To]{target: to}, nil
}

// WeakCloneAs is CloneAs for Weak handles: it increments the weak count.
func WeakCloneAs[To Pointee, From Pointee, N NullPolicy[From]](w *Weak[From, N]) (WeakPtr[To], error) {
	to, wasNull, err := convertTarget[To, From, N](w.target, "refcount.WeakCloneAs()")
	if err != nil || wasNull {
		return WeakPtr[To]{}, err
	}
	retainWeak(to, "refcount.WeakCloneAs()")
	return WeakPtr[To]{target: to}, nil
}
