// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"testing"

	"github.com/gomlx/refcount/pkg/support/xsync"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	pool := NewPool()
	r := NewRegistry(pool)

	missing := r.Get("weights")
	require.False(t, missing.Defined())

	p, created := r.GetOrCreate("weights", 32)
	require.True(t, created)
	require.Equal(t, 32, p.Get().Len())
	q, created := r.GetOrCreate("weights", 32)
	require.False(t, created)
	require.Same(t, p.Get(), q.Get())
	require.Equal(t, uint64(2), p.UseCount())

	got := r.Get("weights")
	require.Same(t, p.Get(), got.Get())
	got.Reset()
	q.Reset()
	require.Equal(t, []string{"weights"}, r.Names())

	// The registry doesn't keep the storage alive.
	s := p.Get()
	p.Reset()
	require.True(t, s.IsReleased())
	require.Empty(t, r.Names())
	require.Equal(t, 1, r.Len())
	expired := r.Get("weights")
	require.False(t, expired.Defined())
	require.Equal(t, int64(0), pool.Stats().Deallocations, "the registry's weak handle keeps it allocated")

	// A new storage replaces the expired entry.
	p, created = r.GetOrCreate("weights", 32)
	require.True(t, created)
	require.NotSame(t, s, p.Get())
	require.Equal(t, int64(1), pool.Stats().Deallocations)
	p.Reset()

	require.Equal(t, 1, r.Prune())
	require.Equal(t, 0, r.Len())
	require.Equal(t, int64(2), pool.Stats().Deallocations)
}

func TestRegistryRegister(t *testing.T) {
	pool := NewPool()
	r := NewRegistry(pool)
	p := FromBytes([]byte("abc"))
	r.Register("user", &p)
	got := r.Get("user")
	require.Same(t, p.Get(), got.Get())
	got.Reset()

	other := New(pool, 4)
	r.Register("user", &other)
	got = r.Get("user")
	require.Same(t, other.Get(), got.Get())
	got.Reset()
	require.Equal(t, uint64(1), p.WeakUseCount(), "the previous registration must be dropped")

	null := r.Get("nothing")
	r.Register("user", &null)
	require.Equal(t, 0, r.Len())
	require.Equal(t, uint64(1), other.WeakUseCount())

	r.Register("a", &p)
	r.Register("b", &other)
	r.Clear()
	require.Equal(t, 0, r.Len())
	p.Reset()
	other.Reset()
	require.Equal(t, int64(1), pool.Stats().Deallocations)
}

func TestRegistryConcurrentGetOrCreate(t *testing.T) {
	const (
		numGoroutines = 16
		numNames      = 4
	)
	pool := NewPool()
	r := NewRegistry(pool)
	var numCreated [numNames]int
	results := make([]bool, numGoroutines)
	xsync.RunConcurrently(numGoroutines, func(i int) {
		p, created := r.GetOrCreate(fmt.Sprintf("name-%d", i%numNames), 8)
		results[i] = created
		defer p.Reset()
		w := r.Get(fmt.Sprintf("name-%d", i%numNames))
		// While p is held, the entry can't expire.
		if !w.Defined() {
			panic("registered storage expired while held")
		}
		w.Reset()
	})
	for i, created := range results {
		if created {
			numCreated[i%numNames]++
		}
	}
	// Each name is created at least once, and again only if every previous holder was done with it.
	for _, n := range numCreated {
		require.GreaterOrEqual(t, n, 1)
	}
	require.Equal(t, numNames, r.Len())
	require.Empty(t, r.Names())
	require.Equal(t, numNames, r.Prune())
}
