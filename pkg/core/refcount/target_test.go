// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refcount

import (
	"fmt"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type counted struct {
	Target
}

func catchViolation(t *testing.T, fn func()) *InvariantViolation {
	t.Helper()
	err := exceptions.TryCatch[error](fn)
	var violation *InvariantViolation
	require.True(t, errors.As(err, &violation), "expected an InvariantViolation, got %v", err)
	return violation
}

func TestUnderflow(t *testing.T) {
	// A handle forged without a unit of ownership.
	obj := &counted{}
	p := Ptr[*counted]{target: obj}
	violation := catchViolation(t, func() { p.Reset() })
	require.ErrorContains(t, violation, "below zero")

	obj2 := &counted{}
	w := WeakPtr[*counted]{target: obj2}
	violation = catchViolation(t, func() { w.Reset() })
	require.ErrorContains(t, violation, "below zero")
}

func TestDeallocateWithLiveReferences(t *testing.T) {
	obj := &counted{}
	obj.strong.Store(1)
	violation := catchViolation(t, func() { deallocate(obj) })
	require.ErrorContains(t, violation, "strong reference")

	obj2 := &counted{}
	obj2.weak.Store(2)
	violation = catchViolation(t, func() { deallocate(obj2) })
	require.ErrorContains(t, violation, "weak reference")
}

func TestInvariantViolationFormat(t *testing.T) {
	v := &InvariantViolation{err: errors.Errorf("counter of %s is broken", "x")}
	require.Equal(t, "refcount invariant violation: counter of x is broken", v.Error())
	require.Equal(t, v.Error(), fmt.Sprintf("%v", v))
	withStack := fmt.Sprintf("%+v", v)
	require.Contains(t, withStack, "counter of x is broken")
	require.Contains(t, withStack, "TestInvariantViolationFormat")
	require.Equal(t, "counter of x is broken", errors.Unwrap(v).Error())
}

func TestMakeWithWeakCount(t *testing.T) {
	obj := &counted{}
	obj.weak.Store(1) // As if the constructor created a weak reference to itself.
	violation := catchViolation(t, func() { _ = Make(obj) })
	require.ErrorContains(t, violation, "weak count")
}
