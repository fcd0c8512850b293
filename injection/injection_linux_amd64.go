//go:build linux && amd64

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package injection // import "go.opentelemetry.io/orbit-tracing/injection"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/modules"
	"go.opentelemetry.io/orbit-tracing/process"
	"go.opentelemetry.io/orbit-tracing/remotememory"
)

const (
	rtldNow      = 0x2
	rtldDlopen   = 0x80000000
	redZoneSize  = 128
	waitInterval = time.Millisecond
)

// syscall; int3
var trampolineCode = []byte{0x0f, 0x05, 0xcc}

// ptraceInjector drives the target from a single OS thread, as required by
// ptrace. All ptrace requests are funneled through the reqs channel.
type ptraceInjector struct {
	pid  libpf.PID
	mem  remotememory.RemoteMemory
	reqs chan func()
	done chan struct{}

	// threads holds the attached tasks of the target. It is only accessed
	// from the tracer thread.
	threads libpf.Set[libpf.PID]

	// mu serializes requests and guards closed.
	mu        sync.Mutex
	closed    bool
	detachErr error
}

var _ Injector = &ptraceInjector{}

// Open attaches to every thread of pid with ptrace. The target stays stopped
// until Close, only the main thread runs during remote calls.
func Open(pid libpf.PID) (Injector, error) {
	inj := &ptraceInjector{
		pid:     pid,
		mem:     process.New(pid).GetRemoteMemory(),
		reqs:    make(chan func()),
		done:    make(chan struct{}),
		threads: make(libpf.Set[libpf.PID]),
	}
	attached := make(chan error, 1)
	go inj.loop(attached)
	if err := <-attached; err != nil {
		return nil, fmt.Errorf("failed to attach to %d: %w", pid, err)
	}
	return inj, nil
}

func (inj *ptraceInjector) loop(attached chan<- error) {
	defer close(inj.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := inj.attachThreads(); err != nil {
		_ = inj.detachThreads()
		attached <- err
		return
	}
	attached <- nil

	for req := range inj.reqs {
		req()
	}
	inj.detachErr = inj.detachThreads()
}

// attachThreads stops all threads of the target. The trampoline is written
// into code other threads may execute, so none of them may keep running.
// Threads spawned while attaching are picked up by rescanning the task list
// until it yields no new entries.
func (inj *ptraceInjector) attachThreads() error {
	for {
		tids, err := inj.listThreads()
		if err != nil {
			return err
		}
		added := 0
		for _, tid := range tids {
			if _, ok := inj.threads[tid]; ok {
				continue
			}
			if err = unix.PtraceAttach(int(tid)); err != nil {
				if tid != inj.pid && errors.Is(err, unix.ESRCH) {
					// exited
					continue
				}
				return fmt.Errorf("failed to attach to thread %d: %w", tid, err)
			}
			inj.threads[tid] = libpf.Void{}
			added++
			// The stop after attaching is asynchronous.
			if err = waitStopped(tid); err != nil {
				if tid != inj.pid && errors.Is(err, errThreadExited) {
					delete(inj.threads, tid)
					continue
				}
				return err
			}
		}
		if added == 0 {
			log.Debugf("Attached to %d threads of %d", len(inj.threads), inj.pid)
			return nil
		}
	}
}

func (inj *ptraceInjector) listThreads() ([]libpf.PID, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", inj.pid))
	if err != nil {
		return nil, err
	}
	tids := make([]libpf.PID, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		tids = append(tids, libpf.PID(tid))
	}
	return tids, nil
}

// detachThreads resumes all attached threads, the main thread last.
func (inj *ptraceInjector) detachThreads() error {
	var err error
	for tid := range inj.threads {
		if tid == inj.pid {
			continue
		}
		if derr := unix.PtraceDetach(int(tid)); derr != nil && !errors.Is(derr, unix.ESRCH) {
			err = errors.Join(err, fmt.Errorf("failed to detach from thread %d: %w", tid, derr))
		}
	}
	if _, ok := inj.threads[inj.pid]; ok {
		err = errors.Join(err, unix.PtraceDetach(int(inj.pid)))
	}
	clear(inj.threads)
	return err
}

// do runs f on the tracer thread.
func (inj *ptraceInjector) do(f func() error) error {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if inj.closed {
		return fmt.Errorf("injector of %d is closed", inj.pid)
	}
	errc := make(chan error, 1)
	inj.reqs <- func() { errc <- f() }
	return <-errc
}

func (inj *ptraceInjector) PID() libpf.PID {
	return inj.pid
}

func (inj *ptraceInjector) Modules() ([]modules.ModuleInfo, error) {
	return modules.ReadModules(inj.pid)
}

func (inj *ptraceInjector) ExportedSymbols(mi *modules.ModuleInfo, prefix string) ([]modules.Symbol, error) {
	return readExportedSymbols(inj.openModuleFile, mi, prefix)
}

// openModuleFile opens path in the mount namespace of the target.
func (inj *ptraceInjector) openModuleFile(path string) (process.ReadAtCloser, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/root%s", inj.pid, path))
	if err == nil {
		return f, nil
	}
	return os.Open(path)
}

func (inj *ptraceInjector) LoadLibrary(ctx context.Context, path string) error {
	fn, flags, err := inj.findDlopen()
	if err != nil {
		return err
	}
	ra, err := AllocateAndWrite(inj, append([]byte(path), 0))
	if err != nil {
		return err
	}
	handle, err := inj.Call(ctx, fn, ra.Addr(), flags)
	err = errors.Join(err, ra.Release())
	if err != nil {
		return err
	}
	if handle == 0 {
		return fmt.Errorf("dlopen of %s failed", path)
	}
	return nil
}

// findDlopen returns the address of dlopen in the libc of the target and the
// flags to call it with. Older libcs only export __libc_dlopen_mode.
func (inj *ptraceInjector) findDlopen() (fn, flags uint64, err error) {
	mods, err := inj.Modules()
	if err != nil {
		return 0, 0, err
	}
	for i := range mods {
		if !strings.HasPrefix(mods[i].Name, "libc.so") &&
			!strings.HasPrefix(mods[i].Name, "libc-") {
			continue
		}
		if fn, err = ResolveSymbol(inj, &mods[i], "dlopen"); err == nil {
			return fn, rtldNow, nil
		}
		if fn, err = ResolveSymbol(inj, &mods[i], "__libc_dlopen_mode"); err == nil {
			return fn, rtldNow | rtldDlopen, nil
		}
		return 0, 0, err
	}
	return 0, 0, fmt.Errorf("no libc loaded in %d", inj.pid)
}

func (inj *ptraceInjector) Allocate(size uint64) (uint64, error) {
	addr, err := inj.syscall(context.Background(), unix.SYS_MMAP, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
		^uint64(0), 0)
	if err != nil {
		return 0, fmt.Errorf("remote mmap failed: %w", err)
	}
	return addr, nil
}

func (inj *ptraceInjector) Free(addr, size uint64) error {
	if _, err := inj.syscall(context.Background(), unix.SYS_MUNMAP, addr, size); err != nil {
		return fmt.Errorf("remote munmap failed: %w", err)
	}
	return nil
}

func (inj *ptraceInjector) WriteMemory(addr uint64, data []byte) error {
	return inj.mem.Write(libpf.Address(addr), data)
}

func (inj *ptraceInjector) Memory() remotememory.RemoteMemory {
	return inj.mem
}

// syscall executes a system call in the target.
func (inj *ptraceInjector) syscall(ctx context.Context, nr uint64, args ...uint64) (uint64, error) {
	var ret uint64
	err := inj.do(func() error {
		return inj.withTrampoline(func(saved *unix.PtraceRegs) error {
			regs := *saved
			regs.Rax = nr
			setArgs(&regs, args, &regs.R10)
			regs.Rip = saved.Rip
			res, err := inj.run(ctx, &regs)
			if err != nil {
				return err
			}
			// -4095..-1 are errno values.
			if errno := -int64(res.Rax); errno > 0 && errno < 4096 {
				return unix.Errno(errno)
			}
			ret = res.Rax
			return nil
		})
	})
	return ret, err
}

func (inj *ptraceInjector) Call(ctx context.Context, fn uint64, args ...uint64) (uint64, error) {
	if len(args) > 6 {
		return 0, fmt.Errorf("at most 6 arguments are supported, got %d", len(args))
	}
	var ret uint64
	err := inj.do(func() error {
		return inj.withTrampoline(func(saved *unix.PtraceRegs) error {
			regs := *saved
			// Return into the int3 of the trampoline.
			sp := (saved.Rsp-redZoneSize-256)&^0xf - 8
			var retAddr [8]byte
			binary.LittleEndian.PutUint64(retAddr[:], saved.Rip+2)
			if _, err := unix.PtracePokeData(int(inj.pid), uintptr(sp), retAddr[:]); err != nil {
				return fmt.Errorf("failed to write return address: %w", err)
			}
			regs.Rsp = sp
			regs.Rip = fn
			regs.Rax = 0
			setArgs(&regs, args, &regs.Rcx)
			res, err := inj.run(ctx, &regs)
			if err != nil {
				return err
			}
			ret = res.Rax
			return nil
		})
	})
	return ret, err
}

// setArgs loads the System V argument registers. The fourth argument register
// differs between calls (rcx) and system calls (r10).
func setArgs(regs *unix.PtraceRegs, args []uint64, fourth *uint64) {
	dst := []*uint64{&regs.Rdi, &regs.Rsi, &regs.Rdx, fourth, &regs.R8, &regs.R9}
	for i, a := range args {
		*dst[i] = a
	}
}

// withTrampoline writes the trampoline at the current instruction pointer
// and restores code and registers once f returns.
func (inj *ptraceInjector) withTrampoline(f func(saved *unix.PtraceRegs) error) error {
	pid := int(inj.pid)
	var saved unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &saved); err != nil {
		return fmt.Errorf("failed to read registers: %w", err)
	}

	var code [8]byte
	if _, err := unix.PtracePeekText(pid, uintptr(saved.Rip), code[:]); err != nil {
		return fmt.Errorf("failed to read code: %w", err)
	}
	patched := code
	copy(patched[:], trampolineCode)
	if _, err := unix.PtracePokeText(pid, uintptr(saved.Rip), patched[:]); err != nil {
		return fmt.Errorf("failed to write trampoline: %w", err)
	}

	err := f(&saved)

	if _, rerr := unix.PtracePokeText(pid, uintptr(saved.Rip), code[:]); rerr != nil {
		err = errors.Join(err, fmt.Errorf("failed to restore code: %w", rerr))
	}
	if rerr := unix.PtraceSetRegs(pid, &saved); rerr != nil {
		err = errors.Join(err, fmt.Errorf("failed to restore registers: %w", rerr))
	}
	return err
}

// run resumes the target with regs until it hits the int3 and returns the
// registers at that point.
func (inj *ptraceInjector) run(ctx context.Context, regs *unix.PtraceRegs) (*unix.PtraceRegs, error) {
	pid := int(inj.pid)
	// Keep a system call the target was stopped in from being restarted
	// into the injected code.
	regs.Orig_rax = ^uint64(0)
	if err := unix.PtraceSetRegs(pid, regs); err != nil {
		return nil, fmt.Errorf("failed to set registers: %w", err)
	}
	if err := unix.PtraceCont(pid, 0); err != nil {
		return nil, fmt.Errorf("failed to resume: %w", err)
	}
	if err := inj.waitTrap(ctx); err != nil {
		return nil, err
	}
	var res unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &res); err != nil {
		return nil, fmt.Errorf("failed to read registers: %w", err)
	}
	return &res, nil
}

func (inj *ptraceInjector) waitTrap(ctx context.Context) error {
	pid := int(inj.pid)
	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG|unix.WALL, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		if wpid == 0 {
			select {
			case <-ctx.Done():
				// Stop the target so that the caller can restore it.
				if err = unix.Tgkill(pid, pid, unix.SIGSTOP); err != nil {
					return errors.Join(ctx.Err(), err)
				}
				return errors.Join(ctx.Err(), waitStopped(inj.pid))
			case <-time.After(waitInterval):
			}
			continue
		}
		switch {
		case ws.Exited() || ws.Signaled():
			return fmt.Errorf("process %d terminated during remote call", pid)
		case ws.Stopped() && ws.StopSignal() == unix.SIGTRAP:
			return nil
		case ws.Stopped():
			log.Warnf("Process %d stopped by %v during remote call", pid, ws.StopSignal())
			return fmt.Errorf("process %d stopped by %v during remote call",
				pid, ws.StopSignal())
		}
	}
}

var errThreadExited = errors.New("thread exited")

func waitStopped(tid libpf.PID) error {
	for {
		var ws unix.WaitStatus
		_, err := unix.Wait4(int(tid), &ws, unix.WALL, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		if ws.Exited() || ws.Signaled() {
			return fmt.Errorf("%w: %d terminated", errThreadExited, tid)
		}
		if ws.Stopped() {
			return nil
		}
	}
}

func (inj *ptraceInjector) Close() error {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if !inj.closed {
		inj.closed = true
		close(inj.reqs)
		<-inj.done
	}
	return inj.detachErr
}
