// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Wait() returned before the latch was triggered")
	case <-time.After(10 * time.Millisecond):
	}
	l.Trigger()
	l.Trigger()
	<-done
	l.Wait() // Doesn't block once triggered.
}

func TestRunConcurrently(t *testing.T) {
	const n = 20
	var count atomic.Int32
	seen := make([]bool, n)
	RunConcurrently(n, func(i int) {
		count.Add(1)
		seen[i] = true
	})
	require.Equal(t, int32(n), count.Load())
	for i, s := range seen {
		assert.True(t, s, "fn(%d) was not called", i)
	}
	RunConcurrently(0, func(int) { t.Fatal("fn called for n=0") })
}

func TestSyncMap(t *testing.T) {
	var m SyncMap[string, int]
	_, found := m.Load("a")
	require.False(t, found)

	m.Store("a", 1)
	v, found := m.Load("a")
	require.True(t, found)
	require.Equal(t, 1, v)

	actual, loaded := m.LoadOrStore("a", 2)
	require.True(t, loaded)
	require.Equal(t, 1, actual)
	actual, loaded = m.LoadOrStore("b", 2)
	require.False(t, loaded)
	require.Equal(t, 2, actual)

	m.Store("c", 3)
	sum := 0
	m.Range(func(key string, value int) bool {
		sum += value
		return true
	})
	require.Equal(t, 6, sum)

	m.Delete("c")
	_, found = m.Load("c")
	require.False(t, found)
}
