// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package injection loads libraries into other processes and calls functions
// inside them.
package injection // import "go.opentelemetry.io/orbit-tracing/injection"

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/metrics"
	"go.opentelemetry.io/orbit-tracing/modules"
	"go.opentelemetry.io/orbit-tracing/process"
	"go.opentelemetry.io/orbit-tracing/remotememory"
	"go.opentelemetry.io/orbit-tracing/successfailurecounter"
)

var (
	// ErrAlreadyLoaded is returned when injecting a library the target has
	// already loaded.
	ErrAlreadyLoaded = errors.New("library already loaded")
	// ErrNotSupported is returned on platforms without an injector.
	ErrNotSupported = errors.New("injection is not supported on this platform")
	// ErrSymbolNotFound is returned when a module does not export a symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
)

// Injector controls one target process. The target may be stopped while an
// Injector is open. Methods are safe for concurrent use.
type Injector interface {
	PID() libpf.PID

	// Modules lists the modules currently loaded by the target.
	Modules() ([]modules.ModuleInfo, error)

	// ExportedSymbols returns the exported functions of a loaded module
	// whose name starts with prefix, at their absolute addresses.
	ExportedSymbols(mi *modules.ModuleInfo, prefix string) ([]modules.Symbol, error)

	// LoadLibrary loads the library at path. It does not check whether the
	// library is already present.
	LoadLibrary(ctx context.Context, path string) error

	// Allocate maps size bytes of read-write memory in the target.
	Allocate(size uint64) (uint64, error)

	// Free releases memory returned by Allocate.
	Free(addr, size uint64) error

	// WriteMemory copies data to addr in the target.
	WriteMemory(addr uint64, data []byte) error

	// Memory gives read access to the memory of the target.
	Memory() remotememory.RemoteMemory

	// Call runs the function at fn in the target and waits for it to
	// return. It returns the integer result.
	Call(ctx context.Context, fn uint64, args ...uint64) (uint64, error)

	// Close detaches from the target and lets it run.
	Close() error
}

// FindModule returns the loaded module with the same file name as path.
func FindModule(inj Injector, path string) (modules.ModuleInfo, bool, error) {
	mods, err := inj.Modules()
	if err != nil {
		return modules.ModuleInfo{}, false, err
	}
	name := filepath.Base(path)
	for _, mi := range mods {
		if mi.Name == name {
			return mi, true, nil
		}
	}
	return modules.ModuleInfo{}, false, nil
}

// Inject loads the library at path into the target unless a module with the
// same file name is already loaded, in which case ErrAlreadyLoaded is
// returned and the target is left untouched.
func Inject(ctx context.Context, inj Injector, path string) (err error) {
	sfc := successfailurecounter.NewForMetrics(metrics.IDInjectionSuccess,
		metrics.IDInjectionFailure)
	defer func() { sfc.Report(err) }()

	_, loaded, err := FindModule(inj, path)
	if err != nil {
		return fmt.Errorf("failed to list modules of %d: %w", inj.PID(), err)
	}
	if loaded {
		return fmt.Errorf("%s in %d: %w", filepath.Base(path), inj.PID(), ErrAlreadyLoaded)
	}
	if err = inj.LoadLibrary(ctx, path); err != nil {
		return fmt.Errorf("failed to load %s into %d: %w", path, inj.PID(), err)
	}
	log.Infof("Loaded %s into %d", path, inj.PID())
	return nil
}

// ResolveSymbol returns the absolute address of an exported function of a
// loaded module.
func ResolveSymbol(inj Injector, mi *modules.ModuleInfo, name string) (uint64, error) {
	syms, err := inj.ExportedSymbols(mi, name)
	if err != nil {
		return 0, err
	}
	for _, s := range syms {
		if s.Name == name {
			return s.Address, nil
		}
	}
	return 0, fmt.Errorf("%s in %s: %w", name, mi.Path, ErrSymbolNotFound)
}

// readExportedSymbols implements Injector.ExportedSymbols on top of the module
// file. Symbols outside of the mapped executable range are skipped.
func readExportedSymbols(open func(path string) (process.ReadAtCloser, error),
	mi *modules.ModuleInfo, prefix string) ([]modules.Symbol, error) {
	f, err := open(mi.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	obj, err := modules.OpenObjectFile(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", mi.Path, err)
	}
	defer obj.Close()
	syms, err := obj.ExportedSymbols(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols of %s: %w", mi.Path, err)
	}

	mim := mi.InMemory(0)
	out := syms[:0]
	for _, s := range syms {
		if !mim.ContainsVirtual(s.Address) {
			log.Debugf("Symbol %s of %s at %#x is outside of the mapped code",
				s.Name, mi.Path, s.Address)
			continue
		}
		s.Address = mim.VirtualToAbsolute(s.Address)
		out = append(out, s)
	}
	return out, nil
}

// RemoteAllocation is memory in the target holding a copy of local data.
type RemoteAllocation struct {
	inj  Injector
	addr uint64
	size uint64
}

// AllocateAndWrite copies data into a fresh allocation in the target. The
// caller must Release it.
func AllocateAndWrite(inj Injector, data []byte) (*RemoteAllocation, error) {
	size := uint64(len(data))
	addr, err := inj.Allocate(size)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d bytes in %d: %w", size, inj.PID(), err)
	}
	ra := &RemoteAllocation{inj: inj, addr: addr, size: size}
	if err = inj.WriteMemory(addr, data); err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to write %d bytes to %d: %w", size, inj.PID(), err),
			ra.Release())
	}
	return ra, nil
}

// Addr is the address of the allocation in the target.
func (ra *RemoteAllocation) Addr() uint64 {
	return ra.addr
}

// Release frees the allocation. Further calls are no-ops.
func (ra *RemoteAllocation) Release() error {
	if ra.addr == 0 {
		return nil
	}
	addr := ra.addr
	ra.addr = 0
	return ra.inj.Free(addr, ra.size)
}
