// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package remoteactivator enables and disables the function tables of other
// processes. It loads the support library into the target and runs its
// activator entry point there.
package remoteactivator // import "go.opentelemetry.io/orbit-tracing/remoteactivator"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/elastic/go-freelru"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/singleflight"

	"go.opentelemetry.io/orbit-tracing/apiabi"
	"go.opentelemetry.io/orbit-tracing/injection"
	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/modules"
)

var (
	// ErrLibraryNotFound is returned when the support library is missing next
	// to the service executable.
	ErrLibraryNotFound = errors.New("support library not found")
	// ErrTableNotSwitched is returned when the flags of a table read back
	// after a successful activator call do not match the request.
	ErrTableNotSwitched = errors.New("function table not switched")
)

const (
	getterCacheSize = 1024
	numTargetLocks  = 64
)

// LibraryName is the file name of the support library for this platform.
func LibraryName() string {
	if runtime.GOOS == "windows" {
		return "orbit.dll"
	}
	return "liborbit.so"
}

// hostABI is the ABI tables are native to on this platform. Tables of any
// other ABI are activated through the compatibility entry point.
func hostABI() apiabi.ABI {
	if runtime.GOOS == "windows" {
		return apiabi.ABIWindows
	}
	return apiabi.ABINative
}

// Table is a function table exported by a module of a target process.
type Table struct {
	// GetterAddress is the absolute address of the table getter.
	GetterAddress uint64
	Version       apiabi.Version
	// ABI is the executable format of the module exporting the getter.
	ABI     apiabi.ABI
	Module  string
	BuildID string
}

func (t *Table) String() string {
	return fmt.Sprintf("%s version %d (%v)", t.Module, t.Version, t.ABI)
}

// Config configures an Activator.
type Config struct {
	// LibraryDir is where the support library is looked up. It defaults to
	// the directory of the service executable.
	LibraryDir string
	// Open attaches to a target. It defaults to injection.Open.
	Open func(libpf.PID) (injection.Injector, error)
}

type getterKey struct {
	modules.Key
	Start uint64
}

func (k getterKey) hash() uint32 {
	return uint32(xxh3.HashString(k.Path) ^ xxh3.HashString(k.BuildID) ^
		libpf.Address(k.Start).Hash())
}

// Activator activates function tables in other processes. It is safe for
// concurrent use.
type Activator struct {
	libraryDir string
	open       func(libpf.PID) (injection.Injector, error)

	loads   singleflight.Group
	getters *freelru.SyncedLRU[getterKey, []Table]

	// Only one injector can be attached to a target at a time.
	targetLocks [numTargetLocks]sync.Mutex
}

// New returns an Activator.
func New(cfg Config) (*Activator, error) {
	if cfg.LibraryDir == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate the service executable: %w", err)
		}
		cfg.LibraryDir = filepath.Dir(exe)
	}
	if cfg.Open == nil {
		cfg.Open = injection.Open
	}
	getters, err := freelru.NewSynced[getterKey, []Table](getterCacheSize, getterKey.hash)
	if err != nil {
		return nil, err
	}
	return &Activator{
		libraryDir: cfg.LibraryDir,
		open:       cfg.Open,
		getters:    getters,
	}, nil
}

// LibraryPath returns the path of the support library or ErrLibraryNotFound.
func (a *Activator) LibraryPath() (string, error) {
	path := filepath.Join(a.libraryDir, LibraryName())
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrLibraryNotFound, err)
	}
	return path, nil
}

func (a *Activator) lockTarget(pid libpf.PID) func() {
	mu := &a.targetLocks[pid.Hash32()%numTargetLocks]
	mu.Lock()
	return mu.Unlock
}

// withTarget runs f with an injector attached to pid.
func (a *Activator) withTarget(pid libpf.PID, f func(injection.Injector) error) error {
	defer a.lockTarget(pid)()
	inj, err := a.open(pid)
	if err != nil {
		return err
	}
	err = f(inj)
	if cerr := inj.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("failed to detach from %d: %w", pid, cerr))
	}
	return err
}

// EnsureLibraryLoaded loads the support library into pid unless it is
// already there. Concurrent calls for the same process share one load.
func (a *Activator) EnsureLibraryLoaded(ctx context.Context, pid libpf.PID) error {
	path, err := a.LibraryPath()
	if err != nil {
		return err
	}
	_, err, _ = a.loads.Do(strconv.FormatUint(uint64(pid), 10), func() (any, error) {
		return nil, a.withTarget(pid, func(inj injection.Injector) error {
			err := injection.Inject(ctx, inj, path)
			if errors.Is(err, injection.ErrAlreadyLoaded) {
				return nil
			}
			return err
		})
	})
	return err
}

// SetAPIEnabledInTarget enables or disables tables in pid. Failures of single
// tables are collected and returned together; tables activated before a
// failure stay activated.
func (a *Activator) SetAPIEnabledInTarget(ctx context.Context, pid libpf.PID,
	tables []Table, enabled bool) error {
	if err := a.EnsureLibraryLoaded(ctx, pid); err != nil {
		return fmt.Errorf("failed to load the support library into %d: %w", pid, err)
	}
	path, err := a.LibraryPath()
	if err != nil {
		return err
	}

	return a.withTarget(pid, func(inj injection.Injector) error {
		lib, ok, err := injection.FindModule(inj, path)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is not loaded in %d", filepath.Base(path), pid)
		}
		var errs []error
		for i := range tables {
			t := &tables[i]
			logger := log.WithFields(log.Fields{
				"pid":      pid,
				"module":   t.Module,
				"build_id": t.BuildID,
				"version":  t.Version,
			})
			if err := a.activate(ctx, inj, &lib, t, enabled); err != nil {
				logger.Errorf("Failed to set enabled=%v: %v", enabled, err)
				errs = append(errs, fmt.Errorf("%s: %w", t, err))
				continue
			}
			logger.Debugf("Set enabled=%v", enabled)
		}
		return errors.Join(errs...)
	})
}

func (a *Activator) activate(ctx context.Context, inj injection.Injector,
	lib *modules.ModuleInfo, t *Table, enabled bool) error {
	if t.GetterAddress == 0 {
		return apiabi.ErrNullTable
	}
	if _, _, err := apiabi.CheckVersion(t.Version); err != nil {
		return err
	}
	var (
		ret uint64
		err error
	)
	if t.ABI == hostABI() {
		ret, err = a.activateFromStruct(ctx, inj, lib, t, enabled)
	} else {
		ret, err = a.activateForeign(ctx, inj, lib, t, enabled)
	}
	if err != nil {
		return err
	}
	if uint32(ret) != 0 {
		return fmt.Errorf("activator returned %d", uint32(ret))
	}
	return nil
}

// activateFromStruct passes a parameter block to the remote thread entry
// point.
func (a *Activator) activateFromStruct(ctx context.Context, inj injection.Injector,
	lib *modules.ModuleInfo, t *Table, enabled bool) (ret uint64, err error) {
	fn, err := injection.ResolveSymbol(inj, lib, apiabi.EntryPointSetEnabledFromStruct)
	if err != nil {
		return 0, err
	}
	block, err := apiabi.ParamBlock{
		GetFunctionTableAddress: t.GetterAddress,
		Version:                 t.Version,
		Enabled:                 enabled,
	}.MarshalBinary()
	if err != nil {
		return 0, err
	}
	ra, err := injection.AllocateAndWrite(inj, block)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rerr := ra.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to free parameter block: %w", rerr))
		}
	}()
	return inj.Call(ctx, fn, ra.Addr())
}

// activateForeign resolves the table through its getter and calls the entry
// point matching the calling convention of the table.
func (a *Activator) activateForeign(ctx context.Context, inj injection.Injector,
	lib *modules.ModuleInfo, t *Table, enabled bool) (uint64, error) {
	fn, err := injection.ResolveSymbol(inj, lib, apiabi.SetEnabledEntryPoint(t.ABI))
	if err != nil {
		return 0, err
	}
	table, err := inj.Call(ctx, t.GetterAddress)
	if err != nil {
		return 0, fmt.Errorf("failed to call the table getter: %w", err)
	}
	if table == 0 {
		return 0, apiabi.ErrNullTable
	}
	var on uint64
	if enabled {
		on = 1
	}
	ret, err := inj.Call(ctx, fn, table, uint64(t.Version), on)
	if err != nil || uint32(ret) != 0 {
		return ret, err
	}

	state, err := apiabi.ReadTableState(inj.Memory(), libpf.Address(table))
	if err != nil {
		log.Debugf("Failed to read back the table at %#x: %v", table, err)
		return 0, nil
	}
	if !state.Initialized || state.Enabled != enabled {
		return 0, fmt.Errorf("%w: table at %#x reads %+v", ErrTableNotSwitched, table, state)
	}
	return 0, nil
}

// FindTables lists the function tables exported by the modules of pid.
func (a *Activator) FindTables(pid libpf.PID) ([]Table, error) {
	var tables []Table
	err := a.withTarget(pid, func(inj injection.Injector) error {
		var err error
		tables, err = a.findTables(inj)
		return err
	})
	return tables, err
}

func (a *Activator) findTables(inj injection.Injector) ([]Table, error) {
	mods, err := inj.Modules()
	if err != nil {
		return nil, err
	}
	var out []Table
	for i := range mods {
		mi := &mods[i]
		key := getterKey{Key: mi.Key(), Start: mi.Start}
		tables, ok := a.getters.Get(key)
		if !ok {
			syms, err := inj.ExportedSymbols(mi, apiabi.GetterSymbolPrefix)
			if err != nil {
				log.Debugf("Failed to read symbols of %s: %v", mi.Path, err)
				continue
			}
			tables = tablesFromSymbols(mi, syms)
			a.getters.Add(key, tables)
		}
		out = append(out, tables...)
	}
	return out, nil
}

// tablesFromSymbols keeps the newest getter of each ABI. Older getters of a
// module return the same table.
func tablesFromSymbols(mi *modules.ModuleInfo, syms []modules.Symbol) []Table {
	var out []Table
	newest := make(map[apiabi.ABI]int)
	for _, s := range syms {
		v, abi, ok := apiabi.ParseGetterSymbol(s.Name)
		if !ok {
			continue
		}
		if abi != mi.ABI {
			log.Debugf("Getter %s of %s does not match the %v file format",
				s.Name, mi.Path, mi.ABI)
		}
		t := Table{
			GetterAddress: s.Address,
			Version:       v,
			ABI:           mi.ABI,
			Module:        mi.Path,
			BuildID:       mi.BuildID,
		}
		if i, ok := newest[abi]; ok {
			if out[i].Version < v {
				out[i] = t
			}
			continue
		}
		newest[abi] = len(out)
		out = append(out, t)
	}
	return out
}
