// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package raw_test

import (
	"sync/atomic"
	"testing"

	"github.com/gomlx/refcount/pkg/core/refcount"
	"github.com/gomlx/refcount/pkg/core/refcount/raw"
	"github.com/gomlx/refcount/pkg/support/xsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callback struct {
	refcount.Target
	released atomic.Int32
}

func (c *callback) ReleaseResources() { c.released.Add(1) }

func TestStrong(t *testing.T) {
	p := refcount.Make(&callback{})
	obj := p.Release()
	require.Equal(t, uint64(1), raw.UseCount(obj))

	raw.IncRef(obj)
	raw.IncRef(obj)
	require.Equal(t, uint64(3), raw.UseCount(obj))
	raw.DecRef(obj)
	require.Equal(t, uint64(2), raw.UseCount(obj))

	// The raw units can be handed back to handles.
	p = refcount.Reclaim(obj)
	q := refcount.Reclaim(obj)
	require.True(t, refcount.Equal(&p, &q))
	p.Reset()
	require.Equal(t, int32(0), obj.released.Load())
	q.Reset()
	require.Equal(t, int32(1), obj.released.Load())

	require.NotPanics(t, func() {
		raw.IncRef[*callback](nil)
		raw.DecRef[*callback](nil)
	})
	require.Equal(t, uint64(0), raw.UseCount[*callback](nil))
}

func TestWeak(t *testing.T) {
	obj := &callback{}
	p := refcount.Make(obj)
	weakObj := raw.MakeWeak(p.Get())
	require.Same(t, obj, weakObj)
	require.Equal(t, uint64(2), p.WeakUseCount())

	raw.WeakIncRef(weakObj)
	require.Equal(t, uint64(3), p.WeakUseCount())
	require.Equal(t, uint64(1), raw.WeakUseCount(weakObj))

	locked := raw.WeakLock(weakObj)
	require.Same(t, obj, locked)
	require.Equal(t, uint64(2), p.UseCount())
	raw.DecRef(locked)

	p.Reset()
	require.Equal(t, int32(1), obj.released.Load())
	require.Nil(t, raw.WeakLock(weakObj))
	require.Equal(t, uint64(0), raw.WeakUseCount(weakObj))

	raw.WeakDecRef(weakObj)
	strong, weak := obj.Counts()
	assert.Equal(t, uint64(0), strong)
	assert.Equal(t, uint64(1), weak)
	raw.WeakDecRef(weakObj)
	_, weak = obj.Counts()
	assert.Equal(t, uint64(0), weak)
}

func TestConcurrentRawOperations(t *testing.T) {
	const numGoroutines = 16
	obj := &callback{}
	p := refcount.Make(obj)
	w := p.Weak()
	xsync.RunConcurrently(numGoroutines, func(i int) {
		raw.IncRef(obj)
		if locked := raw.WeakLock(raw.MakeWeak(obj)); locked != nil {
			raw.DecRef(locked)
		}
		raw.WeakDecRef(obj)
		raw.DecRef(obj)
	})
	require.Equal(t, uint64(1), p.UseCount())
	require.Equal(t, uint64(2), p.WeakUseCount())
	p.Reset()
	w.Reset()
	require.Equal(t, int32(1), obj.released.Load())
}
