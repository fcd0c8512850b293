// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package modules // import "go.opentelemetry.io/orbit-tracing/modules"

import (
	"slices"
	"sync"
)

// Manager keeps the modules of a process and where they are loaded. It is safe
// for concurrent use.
type Manager struct {
	handles *HandleProvider

	mu       sync.RWMutex
	modules  map[Key]ModuleInfo
	inMemory []ModuleInMemory
}

// NewManager returns a manager minting handles from hp. Several managers can
// share one provider.
func NewManager(hp *HandleProvider) *Manager {
	if hp == nil {
		hp = &HandleProvider{}
	}
	return &Manager{handles: hp, modules: make(map[Key]ModuleInfo)}
}

// Handles returns the handle provider of the manager.
func (m *Manager) Handles() *HandleProvider {
	return m.handles
}

// AddOrUpdateModules records infos and replaces the memory map with their
// ranges. It returns the handle of each module.
func (m *Manager) AddOrUpdateModules(infos []ModuleInfo) []Handle {
	handles := make([]Handle, len(infos))
	inMemory := make([]ModuleInMemory, 0, len(infos))
	for i := range infos {
		mi := &infos[i]
		handles[i] = m.handles.GetOrCreateHandle(mi.Path, mi.BuildID)
		inMemory = append(inMemory, mi.InMemory(handles[i]))
	}
	slices.SortFunc(inMemory, func(a, b ModuleInMemory) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range infos {
		m.modules[infos[i].Key()] = infos[i]
	}
	m.inMemory = inMemory
	return handles
}

// Module returns the module identified by path and build ID.
func (m *Manager) Module(path, buildID string) (ModuleInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mi, ok := m.modules[Key{Path: path, BuildID: buildID}]
	return mi, ok
}

// ModuleInMemory returns the range of a loaded module.
func (m *Manager) ModuleInMemory(h Handle) (ModuleInMemory, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mim := range m.inMemory {
		if mim.Handle == h {
			return mim, true
		}
	}
	return ModuleInMemory{}, false
}

// ModuleContaining returns the loaded module abs belongs to.
func (m *Manager) ModuleContaining(abs uint64) (ModuleInMemory, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Index of the first module starting after abs.
	i, _ := slices.BinarySearchFunc(m.inMemory, abs, func(mim ModuleInMemory, abs uint64) int {
		if mim.Start <= abs {
			return -1
		}
		return 1
	})
	if i == 0 {
		return ModuleInMemory{}, false
	}
	mim := m.inMemory[i-1]
	if !mim.Contains(abs) {
		return ModuleInMemory{}, false
	}
	return mim, true
}
