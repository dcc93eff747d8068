// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/refcount/pkg/core/refcount"
	"github.com/gomlx/refcount/pkg/core/refcount/handles"
	"github.com/gomlx/refcount/pkg/core/refcount/raw"
	"github.com/gomlx/refcount/pkg/core/storage"
	"github.com/gomlx/refcount/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type storagePtr = refcount.Ptr[*storage.Storage]
type storageWeakPtr = refcount.WeakPtr[*storage.Storage]

// op is one of the randomized operations executed by the workers.
type op int

const (
	opLockShared op = iota
	opClone
	opDrop
	opMakeWeak
	opLockWeak
	opDropWeak
	opRawRoundTrip
	opExportImport
	opRegistry
	numOps
)

var opNames = [numOps]string{"lock shared", "clone", "drop", "make weak", "lock weak", "drop weak",
	"raw round trip", "export/import", "registry"}

// params of a stress run.
type params struct {
	numObjects, numGoroutines, numOpsPerGoroutine, numBytes int
	weakRatio                                              float64
	seed                                                   uint64
}

// results of a stress run.
type results struct {
	opCounts                 [numOps]int64
	locked, expired, created int64
	poolStats                storage.PoolStats
	leftoverHandles          int
	numLive                  int
}

// stress holds the state shared by the workers.
type stress struct {
	params
	pool     *storage.Pool
	registry *storage.Registry
	table    *handles.Table[*storage.Storage]

	// roots are the original owners of the shared objects, dropped by the first worker to reach half of its
	// operations, so that the shared objects expire while the workers still use them.
	roots     []storagePtr
	dropRoots sync.Once

	// shared weak handles are only read (Lock) by the workers.
	shared []storageWeakPtr

	opCounts                 [numOps]atomic.Int64
	locked, expired, created atomic.Int64

	// progress is called with the number of operations executed since the previous call.
	progress func(n int)
}

func newStress(p params, progress func(n int)) *stress {
	s := &stress{
		params:   p,
		pool:     storage.NewPool(),
		table:    handles.NewTable[*storage.Storage](0),
		progress: progress,
	}
	s.registry = storage.NewRegistry(s.pool)
	s.roots = make([]storagePtr, p.numObjects)
	s.shared = make([]storageWeakPtr, p.numObjects)
	for ii := range s.roots {
		s.roots[ii] = storage.New(s.pool, p.numBytes)
		s.shared[ii] = s.roots[ii].Weak()
	}
	s.created.Store(int64(p.numObjects))
	return s
}

// run executes the workers and returns the results after every handle was dropped.
func (s *stress) run() (*results, error) {
	var firstErr error
	var errOnce sync.Once
	xsync.RunConcurrently(s.numGoroutines, func(i int) {
		err := exceptions.TryCatch[error](func() { s.worker(i) })
		if err != nil {
			errOnce.Do(func() { firstErr = errors.WithMessagef(err, "worker #%d", i) })
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}

	s.dropRoots.Do(s.resetRoots)
	for ii := range s.shared {
		s.shared[ii].Reset()
	}
	r := &results{
		locked:          s.locked.Load(),
		expired:         s.expired.Load(),
		created:         s.created.Load(),
		leftoverHandles: s.table.Drain(),
	}
	s.registry.Clear()
	r.poolStats = s.pool.Stats()
	r.numLive = refcount.NumLive()
	for ii := range r.opCounts {
		r.opCounts[ii] = s.opCounts[ii].Load()
	}
	return r, nil
}

func (s *stress) resetRoots() {
	klog.V(1).Infof("dropping the %d root handles", len(s.roots))
	for ii := range s.roots {
		s.roots[ii].Reset()
	}
}

const progressBatch = 1000

// worker executes numOpsPerGoroutine random operations over its own handles.
func (s *stress) worker(id int) {
	rng := rand.New(rand.NewPCG(s.seed, uint64(id)))
	var strongs []storagePtr
	var weaks []storageWeakPtr
	defer func() {
		for ii := range strongs {
			strongs[ii].Reset()
		}
		for ii := range weaks {
			weaks[ii].Reset()
		}
	}()

	// pickStrong returns the index of a random local strong handle, or -1 if there are none.
	pickStrong := func() int {
		if len(strongs) == 0 {
			return -1
		}
		return rng.IntN(len(strongs))
	}
	removeStrong := func(idx int) {
		last := len(strongs) - 1
		strongs[idx].Swap(&strongs[last])
		strongs[last].Reset()
		strongs = strongs[:last]
	}

	for opIdx := range s.numOpsPerGoroutine {
		if opIdx == s.numOpsPerGoroutine/2 {
			s.dropRoots.Do(s.resetRoots)
		}
		if (opIdx+1)%progressBatch == 0 {
			s.progress(progressBatch)
		}

		o := op(rng.IntN(int(numOps)))
		if rng.Float64() < s.weakRatio {
			// Bias towards the operations that exercise weak handles.
			o = []op{opLockShared, opMakeWeak, opLockWeak, opDropWeak}[rng.IntN(4)]
		}
		s.opCounts[o].Add(1)
		switch o {
		case opLockShared:
			p := s.shared[rng.IntN(len(s.shared))].Lock()
			if p.Defined() {
				s.locked.Add(1)
				strongs = append(strongs, p)
			} else {
				s.expired.Add(1)
			}

		case opClone:
			if idx := pickStrong(); idx >= 0 {
				strongs = append(strongs, strongs[idx].Clone())
			}

		case opDrop:
			if idx := pickStrong(); idx >= 0 {
				removeStrong(idx)
			}

		case opMakeWeak:
			if idx := pickStrong(); idx >= 0 {
				weaks = append(weaks, strongs[idx].Weak())
			}

		case opLockWeak:
			if len(weaks) == 0 {
				continue
			}
			p := weaks[rng.IntN(len(weaks))].Lock()
			if p.Defined() {
				s.locked.Add(1)
				strongs = append(strongs, p)
			} else {
				s.expired.Add(1)
			}

		case opDropWeak:
			if len(weaks) == 0 {
				continue
			}
			idx := rng.IntN(len(weaks))
			last := len(weaks) - 1
			weaks[idx].Swap(&weaks[last])
			weaks[last].Reset()
			weaks = weaks[:last]

		case opRawRoundTrip:
			if idx := pickStrong(); idx >= 0 {
				obj := strongs[idx].Release()
				raw.IncRef(obj)
				raw.DecRef(obj)
				strongs[idx] = refcount.Reclaim(obj)
			}

		case opExportImport:
			if idx := pickStrong(); idx >= 0 {
				h := s.table.Export(&strongs[idx])
				p, err := s.table.Import(h)
				if err != nil {
					panic(err)
				}
				strongs[idx] = p
			}

		case opRegistry:
			p, created := s.registry.GetOrCreate(fmt.Sprintf("storage-%d", rng.IntN(s.numObjects)), s.numBytes)
			if created {
				s.created.Add(1)
			}
			strongs = append(strongs, p)

		default:
			exceptions.Panicf("unknown operation %d", o)
		}

		// Keep the number of handles bounded.
		for len(strongs) > 64 {
			removeStrong(pickStrong())
		}
	}
	s.progress(s.numOpsPerGoroutine % progressBatch)
}

// check verifies that every storage was released and deallocated exactly once, and that every slab was
// returned to the pool.
func (r *results) check() error {
	if r.poolStats.Deallocations != r.created {
		return errors.Errorf("%d storages were created, but %d were deallocated", r.created, r.poolStats.Deallocations)
	}
	if r.poolStats.Gets != r.poolStats.Puts {
		return errors.Errorf("%d slabs were taken from the pool, but %d were returned", r.poolStats.Gets, r.poolStats.Puts)
	}
	if r.leftoverHandles != 0 {
		return errors.Errorf("%d exported handles were left in the table", r.leftoverHandles)
	}
	if r.numLive != 0 {
		return errors.Errorf("%d tracked objects still alive", r.numLive)
	}
	return nil
}
