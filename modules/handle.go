// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package modules identifies the binaries loaded into a traced process and
// translates between addresses in those binaries and addresses in memory.
package modules // import "go.opentelemetry.io/orbit-tracing/modules"

import (
	"fmt"
	"sync"
)

// Key identifies a module. Two modules are equal iff path and build ID are.
type Key struct {
	Path    string
	BuildID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s (build id %q)", k.Path, k.BuildID)
}

// Handle is an opaque, stable identifier of a Key. The zero value is not a
// valid handle.
type Handle uint64

// HandleProvider mints handles. Handles are never reused or invalidated. It is
// safe for concurrent use.
type HandleProvider struct {
	mu      sync.RWMutex
	handles map[Key]Handle
	keys    []Key
}

// GetOrCreateHandle returns the handle of (path, buildID), minting it on first
// use.
func (p *HandleProvider) GetOrCreateHandle(path, buildID string) Handle {
	k := Key{Path: path, BuildID: buildID}

	p.mu.RLock()
	h, ok := p.handles[k]
	p.mu.RUnlock()
	if ok {
		return h
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok = p.handles[k]; ok {
		return h
	}
	if p.handles == nil {
		p.handles = make(map[Key]Handle)
	}
	p.keys = append(p.keys, k)
	h = Handle(len(p.keys))
	p.handles[k] = h
	return h
}

// Key returns the key a handle was minted for.
func (p *HandleProvider) Key(h Handle) (Key, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if h == 0 || uint64(h) > uint64(len(p.keys)) {
		return Key{}, false
	}
	return p.keys[h-1], true
}
