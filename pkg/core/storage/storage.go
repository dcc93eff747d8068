// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package storage implements reference counted byte storage that can be shared by several tensors (or
// views), and returned to a pool as soon as the last one is done with it.
//
// A Storage is managed by refcount handles: New returns a refcount.Ptr[*Storage], and the storage's slab of
// bytes goes back to its Pool when the last strong handle is reset, regardless of when the Go garbage
// collector gets to the Storage object itself.
//
// Data types, shapes and arithmetic are the business of the users of the storage.
package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/refcount/pkg/core/refcount"
	"github.com/gomlx/refcount/pkg/support/xsync"
	"k8s.io/klog/v2"
)

// Pool of byte slabs, indexed by size, that can be reused by new storages.
//
// The zero value is ready to use, but it should not be copied once used.
type Pool struct {
	// slabs maps a size to a *sync.Pool of *[]byte of that size.
	slabs xsync.SyncMap[int, *sync.Pool]

	gets, puts, allocations, deallocations atomic.Int64
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{}
}

// PoolStats are counters of a Pool usage.
type PoolStats struct {
	// Gets is the number of slabs taken from the pool, Allocations the number of those that had to be
	// freshly allocated, and Puts the number of slabs returned to the pool.
	Gets, Allocations, Puts int64

	// Deallocations is the number of storages of the pool that were deallocated: no handle of any kind
	// references them anymore.
	Deallocations int64
}

// String implements fmt.Stringer.
func (s PoolStats) String() string {
	return fmt.Sprintf("gets=%s, allocations=%s, puts=%s, deallocations=%s",
		humanize.Comma(s.Gets), humanize.Comma(s.Allocations), humanize.Comma(s.Puts), humanize.Comma(s.Deallocations))
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Gets:          p.gets.Load(),
		Allocations:   p.allocations.Load(),
		Puts:          p.puts.Load(),
		Deallocations: p.deallocations.Load(),
	}
}

// getSlabPool for the given size.
func (p *Pool) getSlabPool(size int) *sync.Pool {
	pool, ok := p.slabs.Load(size)
	if !ok {
		pool, _ = p.slabs.LoadOrStore(size, &sync.Pool{
			New: func() any {
				p.allocations.Add(1)
				slab := make([]byte, size)
				return &slab
			},
		})
	}
	return pool
}

// get a slab of the given size. Its contents are not cleared.
func (p *Pool) get(size int) []byte {
	p.gets.Add(1)
	return *(p.getSlabPool(size).Get().(*[]byte))
}

// put a slab back into the pool. After this any references to it should be dropped.
func (p *Pool) put(slab []byte) {
	p.puts.Add(1)
	p.getSlabPool(len(slab)).Put(&slab)
}

// Storage is a reference counted slab of bytes. See New.
type Storage struct {
	refcount.Target

	// pool where data came from, nil if data was provided by the user.
	pool *Pool
	data []byte

	released atomic.Bool
}

// Compile-time check that *Storage can be managed by refcount handles.
var (
	_ refcount.Object      = (*Storage)(nil)
	_ refcount.Deallocator = (*Storage)(nil)
)

// New returns a Storage of numBytes taken from pool, owned by the returned handle.
// The contents are zeroed.
func New(pool *Pool, numBytes int) refcount.Ptr[*Storage] {
	if numBytes < 0 {
		exceptions.Panicf("storage.New(): invalid size %d", numBytes)
	}
	data := pool.get(numBytes)
	clear(data)
	return refcount.Make(&Storage{pool: pool, data: data})
}

// FromBytes returns a Storage that takes ownership of data, which must not be used by the caller afterward.
// It doesn't belong to any pool.
func FromBytes(data []byte) refcount.Ptr[*Storage] {
	return refcount.Make(&Storage{data: data})
}

// Bytes returns the contents of the storage. It panics if the storage resources were already released.
//
// Concurrent access to the contents must be synchronized by the users.
func (s *Storage) Bytes() []byte {
	if s.released.Load() {
		exceptions.Panicf("storage.Bytes(): storage %p was already released", s)
	}
	return s.data
}

// Len returns the size in bytes of the storage, or 0 if it was released.
func (s *Storage) Len() int {
	if s.released.Load() {
		return 0
	}
	return len(s.data)
}

// IsReleased returns whether the storage resources were released: no strong handle is left.
func (s *Storage) IsReleased() bool {
	return s.released.Load()
}

// ReleaseResources implements refcount.Object: the slab is returned to the pool.
func (s *Storage) ReleaseResources() {
	if s.released.Swap(true) {
		exceptions.Panicf("storage.ReleaseResources(): storage %p released twice", s)
	}
	if s.pool != nil && s.data != nil {
		s.pool.put(s.data)
	}
	s.data = nil
}

// Deallocate implements refcount.Deallocator.
func (s *Storage) Deallocate() {
	if s.pool != nil {
		s.pool.deallocations.Add(1)
	}
	if klog.V(3).Enabled() {
		klog.Infof("storage %p deallocated", s)
	}
}

// String implements fmt.Stringer.
func (s *Storage) String() string {
	if s.released.Load() {
		return fmt.Sprintf("Storage(%p, released)", s)
	}
	return fmt.Sprintf("Storage(%p, %s)", s, humanize.IBytes(uint64(len(s.data))))
}
