// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package injectiontest provides an in-memory injection.Injector.
package injectiontest // import "go.opentelemetry.io/orbit-tracing/injection/injectiontest"

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/modules"
	"go.opentelemetry.io/orbit-tracing/remotememory"
)

// Function is a function of the fake target.
type Function func(t *Target, args []uint64) uint64

// Call records one remote call.
type Call struct {
	Fn   uint64
	Args []uint64
}

// Target is a fake process. Loading a library adds a module whose exports are
// taken from Symbols.
type Target struct {
	Pid libpf.PID

	// Symbols are the exports of each module path, at absolute addresses.
	Symbols map[string][]modules.Symbol
	// Functions are invoked by Call.
	Functions map[uint64]Function
	// LoadDelay slows down LoadLibrary.
	LoadDelay time.Duration
	// LoadError makes LoadLibrary fail.
	LoadError error

	mu        sync.Mutex
	mods      []modules.ModuleInfo
	loads     map[string]int
	memory    map[uint64][]byte
	mapped    map[uint64][]byte
	nextAddr  uint64
	calls     []Call
	closed    int
	nextStart uint64
}

// NewTarget returns a target with the given modules loaded.
func NewTarget(pid libpf.PID, mods ...modules.ModuleInfo) *Target {
	return &Target{
		Pid:       pid,
		Symbols:   make(map[string][]modules.Symbol),
		Functions: make(map[uint64]Function),
		mods:      mods,
		loads:     make(map[string]int),
		memory:    make(map[uint64][]byte),
		mapped:    make(map[uint64][]byte),
		nextAddr:  0x10000,
		nextStart: 0x7f0000000000,
	}
}

func (t *Target) PID() libpf.PID {
	return t.Pid
}

func (t *Target) Modules() ([]modules.ModuleInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]modules.ModuleInfo(nil), t.mods...), nil
}

func (t *Target) ExportedSymbols(mi *modules.ModuleInfo, prefix string) ([]modules.Symbol, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []modules.Symbol
	for _, s := range t.Symbols[mi.Path] {
		if strings.HasPrefix(s.Name, prefix) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *Target) LoadLibrary(_ context.Context, path string) error {
	time.Sleep(t.LoadDelay)
	if t.LoadError != nil {
		return t.LoadError
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loads[path]++
	t.mods = append(t.mods, modules.ModuleInfo{
		Path:  path,
		Name:  filepath.Base(path),
		Start: t.nextStart,
		End:   t.nextStart + 0x10000,
	})
	t.nextStart += 0x100000
	return nil
}

// LoadCount returns how often path was loaded.
func (t *Target) LoadCount(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loads[path]
}

func (t *Target) Allocate(size uint64) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr := t.nextAddr
	t.nextAddr += (size + 0xfff) &^ 0xfff
	t.memory[addr] = make([]byte, size)
	return addr, nil
}

func (t *Target) Free(addr, size uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf, ok := t.memory[addr]
	if !ok || uint64(len(buf)) != size {
		return fmt.Errorf("no allocation of %d bytes at %#x", size, addr)
	}
	delete(t.memory, addr)
	return nil
}

// LiveAllocations returns the number of allocations not freed yet.
func (t *Target) LiveAllocations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.memory)
}

// MapMemory places size zero bytes at addr, outside of the allocations.
func (t *Target) MapMemory(addr, size uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mapped[addr] = make([]byte, size)
}

// region returns the memory at addr up to the end of its allocation or
// mapping. The caller holds mu.
func (t *Target) region(addr uint64) []byte {
	for _, m := range []map[uint64][]byte{t.memory, t.mapped} {
		for base, buf := range m {
			if addr >= base && addr < base+uint64(len(buf)) {
				return buf[addr-base:]
			}
		}
	}
	return nil
}

func (t *Target) WriteMemory(addr uint64, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := t.region(addr)
	if len(data) > len(buf) {
		return fmt.Errorf("write of %d bytes to %#x outside of the memory", len(data), addr)
	}
	copy(buf, data)
	return nil
}

func (t *Target) Memory() remotememory.RemoteMemory {
	return remotememory.RemoteMemory{ReaderAt: targetMemory{t}}
}

type targetMemory struct {
	t *Target
}

func (m targetMemory) ReadAt(p []byte, off int64) (int, error) {
	m.t.mu.Lock()
	defer m.t.mu.Unlock()
	n := copy(p, m.t.region(uint64(off)))
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// ReadMemory returns a copy of the allocation at addr.
func (t *Target) ReadMemory(addr uint64) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf, ok := t.memory[addr]
	return append([]byte(nil), buf...), ok
}

func (t *Target) Call(_ context.Context, fn uint64, args ...uint64) (uint64, error) {
	t.mu.Lock()
	f, ok := t.Functions[fn]
	t.calls = append(t.calls, Call{Fn: fn, Args: append([]uint64(nil), args...)})
	t.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("no function at %#x", fn)
	}
	return f(t, args), nil
}

// Calls returns the remote calls made so far.
func (t *Target) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

func (t *Target) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed++
	return nil
}

// Closed returns how often the target was closed.
func (t *Target) Closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
