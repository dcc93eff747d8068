// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/refcount/pkg/core/refcount"
)

// View is a window [offset, offset+length) over a shared Storage. Each View holds its own strong handle to
// the storage, so the storage is released when the last View over it is finalized.
//
// A View is not safe for concurrent use, but different Views over the same storage can be used (and
// finalized) from different goroutines.
type View struct {
	storage        refcount.Ptr[*Storage]
	offset, length int
}

// NewView returns a View over a new Storage of numBytes from pool.
func NewView(pool *Pool, numBytes int) *View {
	return &View{storage: New(pool, numBytes), length: numBytes}
}

// ViewOf returns a View over the whole storage owned by p. It takes a new strong unit: p is left untouched.
func ViewOf(p *refcount.Ptr[*Storage]) *View {
	if !p.Defined() {
		exceptions.Panicf("storage.ViewOf(): null storage handle")
	}
	return &View{storage: p.Clone(), length: p.Get().Len()}
}

// checkValid panics if the view was finalized.
func (v *View) checkValid() {
	if v == nil || !v.storage.Defined() {
		exceptions.Panicf("storage.View: view is nil or already finalized")
	}
}

// IsFinalized returns whether Finalize was called on the view.
func (v *View) IsFinalized() bool {
	return !v.storage.Defined()
}

// Finalize drops the view's reference to its storage. It is a no-op if already finalized.
func (v *View) Finalize() {
	v.storage.Reset()
	v.offset, v.length = 0, 0
}

// Len returns the size of the view in bytes.
func (v *View) Len() int {
	return v.length
}

// Bytes returns the bytes of the view. They are shared with other views over the same storage.
func (v *View) Bytes() []byte {
	v.checkValid()
	return v.storage.Get().Bytes()[v.offset : v.offset+v.length]
}

// Storage returns a new strong handle to the underlying storage, owned by the caller.
func (v *View) Storage() refcount.Ptr[*Storage] {
	v.checkValid()
	return v.storage.Clone()
}

// Clone returns a new View over the same bytes.
func (v *View) Clone() *View {
	v.checkValid()
	return &View{storage: v.storage.Clone(), offset: v.offset, length: v.length}
}

// Slice returns a new View over the bytes [from, to) of v, sharing the same storage.
func (v *View) Slice(from, to int) *View {
	v.checkValid()
	if from < 0 || to < from || to > v.length {
		exceptions.Panicf("storage.View.Slice(%d, %d): out of bounds for view of %d bytes", from, to, v.length)
	}
	return &View{storage: v.storage.Clone(), offset: v.offset + from, length: to - from}
}

// IsShared returns whether other handles (views or otherwise) share the underlying storage.
func (v *View) IsShared() bool {
	v.checkValid()
	return !v.storage.Unique()
}

// MakeUnique makes sure the view is the only owner of its storage, copying its bytes into a new storage
// (from the same pool) if it is shared. It returns whether a copy was made.
//
// Writers should call it before modifying the bytes of a view that may be shared (copy-on-write).
func (v *View) MakeUnique() bool {
	v.checkValid()
	if v.storage.Unique() {
		return false
	}
	old := v.storage.Get()
	var fresh refcount.Ptr[*Storage]
	if old.pool != nil {
		fresh = New(old.pool, v.length)
	} else {
		fresh = FromBytes(make([]byte, v.length))
	}
	copy(fresh.Get().data, old.Bytes()[v.offset:v.offset+v.length])
	v.storage.Swap(&fresh)
	fresh.Reset() // Drops the view's unit over the old storage.
	v.offset = 0
	return true
}

// String implements fmt.Stringer.
func (v *View) String() string {
	if v.IsFinalized() {
		return "View(finalized)"
	}
	return fmt.Sprintf("View(%s at offset %d of %s)",
		humanize.IBytes(uint64(v.length)), v.offset, v.storage.Get())
}
