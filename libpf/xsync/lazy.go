// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "go.opentelemetry.io/orbit-tracing/libpf/xsync"

import (
	"sync"
	"sync/atomic"
)

// Lazy holds a value that is constructed at most once. A failed construction
// leaves it empty so that a later call can retry.
//
// The zero value is ready to use.
type Lazy[T any] struct {
	ptr atomic.Pointer[T]
	mu  sync.Mutex
}

// Get returns the value, or nil if it has not been constructed yet. Get never
// blocks and never allocates.
func (l *Lazy[T]) Get() *T {
	return l.ptr.Load()
}

// GetOrInit returns the value, running init first if needed. Only one
// goroutine runs init at a time.
func (l *Lazy[T]) GetOrInit(init func() (*T, error)) (*T, error) {
	if v := l.ptr.Load(); v != nil {
		return v, nil
	}
	return l.initSlow(init)
}

func (l *Lazy[T]) initSlow(init func() (*T, error)) (*T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v := l.ptr.Load(); v != nil {
		return v, nil
	}
	v, err := init()
	if err != nil {
		return nil, err
	}
	l.ptr.Store(v)
	return v, nil
}

// Reset drops the value so the next GetOrInit constructs a new one. The
// previous value is returned.
func (l *Lazy[T]) Reset() *T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ptr.Swap(nil)
}
