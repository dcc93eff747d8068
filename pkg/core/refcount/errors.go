// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refcount

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// InvariantViolation is the only failure of the reference counting protocol: a counter incremented from
// zero or decremented below zero, an object deallocated with live references, or a factory handed an
// object that already had references.
//
// It signals a memory-safety bug in the caller's ownership logic, so it is never returned as an error.
// It is raised as a panic (or, with the "fatal" configuration, terminates the program), and it should
// not be recovered from and retried: the counters of the object involved are no longer meaningful.
//
// It implements error, and it can be retrieved with errors.As after a recover, or with
// exceptions.TryCatch[error] in tests.
type InvariantViolation struct {
	err error
}

// Error implements error.
func (v *InvariantViolation) Error() string {
	return "refcount invariant violation: " + v.err.Error()
}

// Unwrap returns the underlying error, which carries the stack trace of the violation.
func (v *InvariantViolation) Unwrap() error { return v.err }

// Format implements fmt.Formatter: "%+v" includes the stack trace.
func (v *InvariantViolation) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		_, _ = fmt.Fprintf(s, "refcount invariant violation: %+v", v.err)
		return
	}
	_, _ = fmt.Fprint(s, v.Error())
}

// violationf logs and raises an InvariantViolation. It never returns.
func violationf(format string, args ...any) {
	v := &InvariantViolation{err: errors.Errorf(format, args...)}
	if currentConfig().Fatal {
		klog.FatalDepth(1, v.Error())
	}
	klog.ErrorDepth(1, v.Error())
	panic(v)
}
