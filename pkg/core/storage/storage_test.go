// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package storage

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/refcount/pkg/core/refcount"
	"github.com/gomlx/refcount/pkg/support/xsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageLifecycle(t *testing.T) {
	pool := NewPool()
	p := New(pool, 16)
	s := p.Get()
	require.Equal(t, 16, s.Len())
	require.Len(t, s.Bytes(), 16)
	require.Contains(t, s.String(), "16 B")
	copy(s.Bytes(), "0123456789abcdef")

	w := p.Weak()
	p.Reset()
	require.True(t, s.IsReleased())
	require.Equal(t, 0, s.Len())
	require.Contains(t, s.String(), "released")
	err := exceptions.TryCatch[error](func() { _ = s.Bytes() })
	require.ErrorContains(t, err, "already released")

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Gets)
	assert.Equal(t, int64(1), stats.Puts)
	assert.Equal(t, int64(0), stats.Deallocations)
	w.Reset()
	assert.Equal(t, int64(1), pool.Stats().Deallocations)

	// Slabs are reused and cleared.
	p = New(pool, 16)
	require.Equal(t, make([]byte, 16), p.Get().Bytes())
	p.Reset()
	stats = pool.Stats()
	assert.Equal(t, int64(2), stats.Gets)
	assert.LessOrEqual(t, stats.Allocations, int64(2))
	assert.Contains(t, stats.String(), "gets=2")

	err = exceptions.TryCatch[error](func() { _ = New(pool, -1) })
	require.Error(t, err)
}

func TestFromBytes(t *testing.T) {
	data := []byte{1, 2, 3}
	p := FromBytes(data)
	require.Equal(t, data, p.Get().Bytes())
	s := p.Get()
	p.Reset()
	require.True(t, s.IsReleased())
}

func TestView(t *testing.T) {
	pool := NewPool()
	v := NewView(pool, 8)
	copy(v.Bytes(), "abcdefgh")
	require.False(t, v.IsShared())

	slice := v.Slice(2, 6)
	require.Equal(t, "cdef", string(slice.Bytes()))
	require.True(t, v.IsShared())
	require.True(t, slice.IsShared())
	require.Contains(t, slice.String(), "offset 2")

	sub := slice.Slice(1, 3)
	require.Equal(t, "de", string(sub.Bytes()))
	clone := sub.Clone()
	require.Equal(t, "de", string(clone.Bytes()))

	err := exceptions.TryCatch[error](func() { _ = slice.Slice(2, 5) })
	require.ErrorContains(t, err, "out of bounds")

	// Writes are visible through every view of the storage.
	slice.Bytes()[0] = 'C'
	require.Equal(t, "abCdefgh", string(v.Bytes()))

	storage := v.Storage()
	s := storage.Get()
	require.Equal(t, uint64(5), storage.UseCount())
	for _, view := range []*View{v, slice, sub, clone} {
		view.Finalize()
		require.True(t, view.IsFinalized())
		require.Equal(t, "View(finalized)", view.String())
	}
	require.False(t, s.IsReleased())
	require.True(t, storage.Unique())
	storage.Reset()
	require.True(t, s.IsReleased())
	require.Equal(t, int64(1), pool.Stats().Deallocations)

	// Finalizing twice is a no-op, using a finalized view is not.
	require.NotPanics(t, func() { v.Finalize() })
	err = exceptions.TryCatch[error](func() { _ = v.Bytes() })
	require.ErrorContains(t, err, "finalized")
}

func TestViewOf(t *testing.T) {
	p := FromBytes([]byte("xyz"))
	v := ViewOf(&p)
	require.Equal(t, uint64(2), p.UseCount())
	require.Equal(t, 3, v.Len())
	require.Equal(t, "xyz", string(v.Bytes()))
	v.Finalize()
	p.Reset()

	var null refcount.Ptr[*Storage]
	err := exceptions.TryCatch[error](func() { _ = ViewOf(&null) })
	require.Error(t, err)
}

func TestMakeUnique(t *testing.T) {
	pool := NewPool()
	v := NewView(pool, 4)
	copy(v.Bytes(), "wxyz")
	require.False(t, v.MakeUnique(), "a view not shared must not be copied")

	tail := v.Slice(2, 4)
	original := v.Storage()
	require.True(t, tail.MakeUnique())
	require.False(t, tail.IsShared())
	require.Equal(t, "yz", string(tail.Bytes()))
	require.Equal(t, 2, tail.Len())

	// Writing to the copy doesn't affect the original storage.
	tail.Bytes()[0] = 'Y'
	require.Equal(t, "wxyz", string(v.Bytes()))
	require.Equal(t, uint64(2), original.UseCount())

	tail.Finalize()
	v.Finalize()
	original.Reset()
	stats := pool.Stats()
	require.Equal(t, stats.Gets, stats.Puts)
	require.Equal(t, int64(2), stats.Deallocations)

	// Storages not from a pool are copied into storages not from a pool.
	p := FromBytes([]byte("ab"))
	v = ViewOf(&p)
	require.True(t, v.MakeUnique())
	require.Equal(t, "ab", string(v.Bytes()))
	v.Finalize()
	p.Reset()
}

func TestConcurrentViews(t *testing.T) {
	const numGoroutines = 16
	pool := NewPool()
	root := NewView(pool, 1024)
	views := make([]*View, numGoroutines)
	for ii := range views {
		views[ii] = root.Slice(ii*64, (ii+1)*64)
	}
	root.Finalize()
	xsync.RunConcurrently(numGoroutines, func(i int) {
		v := views[i]
		for jj := range v.Bytes() {
			v.Bytes()[jj] = byte(i)
		}
		sub := v.Slice(0, 32)
		v.Finalize()
		sub.Finalize()
	})
	stats := pool.Stats()
	require.Equal(t, int64(1), stats.Puts)
	require.Equal(t, int64(1), stats.Deallocations)
}
