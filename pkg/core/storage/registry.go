// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package storage

import (
	"slices"
	"sync"

	"github.com/gomlx/refcount/pkg/core/refcount"
	"k8s.io/klog/v2"
)

// Registry indexes storages by name without keeping them alive: it holds only weak handles, so a named
// storage is released as soon as its last user is done with it, and a later GetOrCreate creates a new one.
//
// It is safe for concurrent use.
type Registry struct {
	pool *Pool

	mu      sync.Mutex
	entries map[string]refcount.WeakPtr[*Storage]
}

// NewRegistry returns an empty Registry whose storages are taken from pool.
func NewRegistry(pool *Pool) *Registry {
	return &Registry{pool: pool, entries: make(map[string]refcount.WeakPtr[*Storage])}
}

// Get returns a strong handle to the storage registered as name. The handle is null if there is no such
// storage or if it has already been released.
func (r *Registry) Get(name string) refcount.Ptr[*Storage] {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, found := r.entries[name]
	if !found {
		return refcount.Ptr[*Storage]{}
	}
	return w.Lock()
}

// GetOrCreate returns a strong handle to the storage registered as name, creating (and registering) a new
// one with numBytes if there is none alive. created reports whether it was created.
//
// The size of an existing storage is not checked against numBytes.
func (r *Registry) GetOrCreate(name string, numBytes int) (p refcount.Ptr[*Storage], created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, found := r.entries[name]
	if found {
		p = w.Lock()
		if p.Defined() {
			return p, false
		}
		// Expired: drop our weak unit before replacing it.
		w.Reset()
	}
	p = New(r.pool, numBytes)
	r.entries[name] = p.Weak()
	klog.V(2).Infof("storage.Registry: created %q with %d bytes", name, numBytes)
	return p, true
}

// Register name as a weak reference to the storage of p, replacing any previous registration.
func (r *Registry) Register(name string, p *refcount.Ptr[*Storage]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, found := r.entries[name]; found {
		w.Reset()
	}
	if !p.Defined() {
		delete(r.entries, name)
		return
	}
	r.entries[name] = p.Weak()
}

// Names returns the sorted names of the storages still alive.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for name, w := range r.entries {
		if !w.Expired() {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Len returns the number of entries, including the expired ones not yet pruned.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Prune removes the entries of expired storages, allowing them to be deallocated, and returns how many were
// removed.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int
	for name, w := range r.entries {
		if w.Expired() {
			w.Reset()
			delete(r.entries, name)
			count++
		}
	}
	if count > 0 {
		klog.V(2).Infof("storage.Registry: pruned %d expired entries", count)
	}
	return count
}

// Clear removes all the entries, alive or not.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, w := range r.entries {
		w.Reset()
		delete(r.entries, name)
	}
}
