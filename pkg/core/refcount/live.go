// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refcount

import (
	"cmp"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/refcount/pkg/support/xsync"
)

// LiveObject describes an object created with tracking enabled (see Config.Track) that was not
// deallocated yet.
type LiveObject struct {
	// Type of the object, as printed by "%T".
	Type string

	// Site is the "file:line" where the object was handed to the factory.
	Site string

	// ID is a sequential number, in creation order.
	ID uint64
}

// String implements fmt.Stringer.
func (o LiveObject) String() string {
	return fmt.Sprintf("#%d %s (created at %s)", o.ID, o.Type, o.Site)
}

var (
	// liveObjects is keyed by the address of the Target. Addresses are stored as uintptr so the registry
	// doesn't keep the objects reachable.
	liveObjects xsync.SyncMap[uintptr, LiveObject]

	nextLiveID  atomic.Uint64
	everTracked atomic.Bool
)

// track registers obj if tracking is enabled. skip is the runtime.Caller argument that identifies the
// caller of the factory, as seen from track.
func track(obj Object, skip int) {
	if !currentConfig().Track {
		return
	}
	everTracked.Store(true)
	site := "unknown"
	if _, file, line, ok := runtime.Caller(skip); ok {
		site = fmt.Sprintf("%s:%d", file, line)
	}
	liveObjects.Store(uintptr(unsafe.Pointer(obj.refcounts())), LiveObject{
		Type: fmt.Sprintf("%T", obj),
		Site: site,
		ID:   nextLiveID.Add(1),
	})
}

func untrack(t *Target) {
	if !everTracked.Load() {
		return
	}
	liveObjects.Delete(uintptr(unsafe.Pointer(t)))
}

// LiveObjects returns the objects created while tracking was enabled that have not been deallocated,
// sorted by creation order. Use it to investigate leaks, e.g. at the end of tests:
//
//	REFCOUNT_DEBUG=track go test ./...
func LiveObjects() []LiveObject {
	var objects []LiveObject
	liveObjects.Range(func(_ uintptr, o LiveObject) bool {
		objects = append(objects, o)
		return true
	})
	slices.SortFunc(objects, func(a, b LiveObject) int { return cmp.Compare(a.ID, b.ID) })
	return objects
}

// NumLive returns the number of tracked objects not yet deallocated.
func NumLive() int {
	var count int
	liveObjects.Range(func(_ uintptr, _ LiveObject) bool {
		count++
		return true
	})
	return count
}

// LiveReport returns a multi-line description of LiveObjects, or an empty string if there are none.
func LiveReport() string {
	objects := LiveObjects()
	if len(objects) == 0 {
		return ""
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%d live object(s):\n", len(objects))
	for _, o := range objects {
		_, _ = fmt.Fprintf(&sb, "\t%s\n", o)
	}
	return sb.String()
}
