//go:build windows

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package injection // import "go.opentelemetry.io/orbit-tracing/injection"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"go.opentelemetry.io/orbit-tracing/apiabi"
	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/modules"
	"go.opentelemetry.io/orbit-tracing/process"
	"go.opentelemetry.io/orbit-tracing/remotememory"
)

const threadWaitMillis = 100

var (
	kernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procVirtualAllocEx     = kernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx      = kernel32.NewProc("VirtualFreeEx")
	procCreateRemoteThread = kernel32.NewProc("CreateRemoteThread")
	procGetExitCodeThread  = kernel32.NewProc("GetExitCodeThread")
	procLoadLibraryW       = kernel32.NewProc("LoadLibraryW")
)

type windowsInjector struct {
	pid     libpf.PID
	process windows.Handle
	mem     remotememory.RemoteMemory
}

// processMemory accesses the memory of a process opened with VM access.
type processMemory struct {
	process windows.Handle
}

func (pm processMemory) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var n uintptr
	err := windows.ReadProcessMemory(pm.process, uintptr(off), &p[0], uintptr(len(p)), &n)
	if err != nil {
		return int(n), err
	}
	return int(n), nil
}

func (pm processMemory) WriteAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var n uintptr
	err := windows.WriteProcessMemory(pm.process, uintptr(off), &p[0], uintptr(len(p)), &n)
	if err == nil && int(n) != len(p) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(p))
	}
	return int(n), err
}

var _ Injector = &windowsInjector{}

// Open opens pid for remote thread creation and memory access.
func Open(pid libpf.PID) (Injector, error) {
	const access = windows.PROCESS_CREATE_THREAD | windows.PROCESS_QUERY_INFORMATION |
		windows.PROCESS_VM_OPERATION | windows.PROCESS_VM_WRITE | windows.PROCESS_VM_READ
	h, err := windows.OpenProcess(access, false, uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	return &windowsInjector{
		pid:     pid,
		process: h,
		mem:     remotememory.RemoteMemory{ReaderAt: processMemory{process: h}},
	}, nil
}

func (inj *windowsInjector) PID() libpf.PID {
	return inj.pid
}

// Modules enumerates the modules with a Toolhelp snapshot.
func (inj *windowsInjector) Modules() ([]modules.ModuleInfo, error) {
	snap, err := windows.CreateToolhelp32Snapshot(
		windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, uint32(inj.pid))
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot modules of %d: %w", inj.pid, err)
	}
	defer windows.CloseHandle(snap)

	var out []modules.ModuleInfo
	entry := windows.ModuleEntry32{Size: uint32(unsafe.Sizeof(windows.ModuleEntry32{}))}
	for err = windows.Module32First(snap, &entry); err == nil; err = windows.Module32Next(snap, &entry) {
		path := windows.UTF16ToString(entry.ExePath[:])
		mi, merr := inj.moduleInfo(path, uint64(entry.ModBaseAddr), uint64(entry.ModBaseSize))
		if merr != nil {
			log.Debugf("Skipping %s: %v", path, merr)
			continue
		}
		out = append(out, mi)
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, err
	}
	return out, nil
}

// moduleInfo describes a module loaded at base. The whole image is mapped,
// so the executable segment starts at the image base.
func (inj *windowsInjector) moduleInfo(path string, base, size uint64) (modules.ModuleInfo, error) {
	f, err := openFile(path)
	if err != nil {
		return modules.ModuleInfo{}, err
	}
	defer f.Close()
	obj, err := modules.OpenObjectFile(f)
	if err != nil {
		return modules.ModuleInfo{}, err
	}
	defer obj.Close()
	return modules.ModuleInfo{
		Path:     path,
		Name:     filepath.Base(path),
		BuildID:  obj.BuildID,
		ABI:      apiabi.ABIWindows,
		Start:    base,
		End:      base + size,
		LoadBias: obj.LoadBias,
	}, nil
}

func (inj *windowsInjector) ExportedSymbols(mi *modules.ModuleInfo, prefix string) ([]modules.Symbol, error) {
	return readExportedSymbols(openFile, mi, prefix)
}

func openFile(path string) (process.ReadAtCloser, error) {
	return os.Open(path)
}

// LoadLibrary runs LoadLibraryW on a remote thread. kernel32 is mapped at the
// same address in every process of a session.
func (inj *windowsInjector) LoadLibrary(ctx context.Context, path string) error {
	wide, err := windows.UTF16FromString(path)
	if err != nil {
		return err
	}
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&wide[0])), 2*len(wide))
	ra, err := AllocateAndWrite(inj, buf)
	if err != nil {
		return err
	}
	if err = procLoadLibraryW.Find(); err != nil {
		return errors.Join(err, ra.Release())
	}
	handle, err := inj.Call(ctx, uint64(procLoadLibraryW.Addr()), ra.Addr())
	if err = errors.Join(err, ra.Release()); err != nil {
		return err
	}
	if handle == 0 {
		return fmt.Errorf("LoadLibraryW of %s failed", path)
	}
	return nil
}

func (inj *windowsInjector) Allocate(size uint64) (uint64, error) {
	addr, _, err := procVirtualAllocEx.Call(uintptr(inj.process), 0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if addr == 0 {
		return 0, fmt.Errorf("VirtualAllocEx failed: %w", err)
	}
	return uint64(addr), nil
}

func (inj *windowsInjector) Free(addr, _ uint64) error {
	ok, _, err := procVirtualFreeEx.Call(uintptr(inj.process), uintptr(addr), 0,
		windows.MEM_RELEASE)
	if ok == 0 {
		return fmt.Errorf("VirtualFreeEx failed: %w", err)
	}
	return nil
}

func (inj *windowsInjector) WriteMemory(addr uint64, data []byte) error {
	return inj.mem.Write(libpf.Address(addr), data)
}

func (inj *windowsInjector) Memory() remotememory.RemoteMemory {
	return inj.mem
}

// Call runs fn on a new remote thread. Thread entry points take a single
// argument and the result is the 32-bit thread exit code.
func (inj *windowsInjector) Call(ctx context.Context, fn uint64, args ...uint64) (uint64, error) {
	if len(args) > 1 {
		return 0, fmt.Errorf("remote threads take one argument, got %d", len(args))
	}
	var arg uint64
	if len(args) == 1 {
		arg = args[0]
	}
	th, _, err := procCreateRemoteThread.Call(uintptr(inj.process), 0, 0,
		uintptr(fn), uintptr(arg), 0, 0)
	if th == 0 {
		return 0, fmt.Errorf("CreateRemoteThread failed: %w", err)
	}
	thread := windows.Handle(th)
	defer windows.CloseHandle(thread)

	for {
		ev, err := windows.WaitForSingleObject(thread, threadWaitMillis)
		if err != nil {
			return 0, fmt.Errorf("failed to wait for remote thread: %w", err)
		}
		if ev == windows.WAIT_OBJECT_0 {
			break
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}

	var code uint32
	if ok, _, err := procGetExitCodeThread.Call(uintptr(thread),
		uintptr(unsafe.Pointer(&code))); ok == 0 {
		return 0, fmt.Errorf("GetExitCodeThread failed: %w", err)
	}
	return uint64(code), nil
}

func (inj *windowsInjector) Close() error {
	return windows.CloseHandle(inj.process)
}
