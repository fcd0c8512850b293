// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package modules

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"os"
	"reflect"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/orbit-tracing/apiabi"
	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/process"
	"go.opentelemetry.io/orbit-tracing/remotememory"
)

func TestHandleProvider(t *testing.T) {
	var hp HandleProvider

	a := hp.GetOrCreateHandle("/usr/lib/liba.so", "aa")
	b := hp.GetOrCreateHandle("/usr/lib/liba.so", "bb")
	c := hp.GetOrCreateHandle("/usr/lib/libc.so", "aa")
	assert.NotEqual(t, Handle(0), a)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, hp.GetOrCreateHandle("/usr/lib/liba.so", "aa"))

	k, ok := hp.Key(b)
	require.True(t, ok)
	assert.Equal(t, Key{Path: "/usr/lib/liba.so", BuildID: "bb"}, k)
	_, ok = hp.Key(0)
	assert.False(t, ok)
	_, ok = hp.Key(42)
	assert.False(t, ok)
}

func TestHandleProviderConcurrent(t *testing.T) {
	var hp HandleProvider
	var wg sync.WaitGroup
	handles := make([]Handle, 16)
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i] = hp.GetOrCreateHandle("/bin/true", "")
		}()
	}
	wg.Wait()
	for _, h := range handles {
		assert.Equal(t, handles[0], h)
	}
}

func TestAddressTranslation(t *testing.T) {
	m := ModuleInMemory{
		Handle:                  1,
		Start:                   0x7f0000001000,
		End:                     0x7f0000009000,
		LoadBias:                0x400000,
		ExecutableSegmentOffset: 0x1400,
	}

	assert.Equal(t, uint64(0x7f0000001400), m.MinAbsoluteAddress())
	assert.Equal(t, uint64(0x7f0000001500), m.VirtualToAbsolute(0x401500))
	assert.Equal(t, uint64(0x401500), m.AbsoluteToVirtual(0x7f0000001500))

	for _, abs := range []uint64{m.MinAbsoluteAddress(), 0x7f0000004321, m.End - 1} {
		assert.Equal(t, abs, m.VirtualToAbsolute(m.AbsoluteToVirtual(abs)))
	}

	assert.False(t, m.Contains(m.Start))
	assert.False(t, m.Contains(m.MinAbsoluteAddress()-1))
	assert.True(t, m.Contains(m.MinAbsoluteAddress()))
	assert.True(t, m.Contains(m.End-1))
	assert.False(t, m.Contains(m.End))

	// The page prefix before the executable segment is outside the module
	// for both directions of the translation.
	for _, abs := range []uint64{m.Start, m.MinAbsoluteAddress() - 1} {
		assert.False(t, m.Contains(abs))
		assert.Panics(t, func() { m.AbsoluteToVirtual(abs) })
	}
	assert.False(t, m.ContainsVirtual(0x401000))
	assert.False(t, m.ContainsVirtual(0x4013ff))
	assert.True(t, m.ContainsVirtual(0x401400))
	assert.Panics(t, func() { m.VirtualToAbsolute(0x401000) })

	assert.Panics(t, func() { m.AbsoluteToVirtual(m.End) })
	assert.Panics(t, func() { m.AbsoluteToVirtual(m.Start - 1) })
	assert.Panics(t, func() { m.VirtualToAbsolute(0x3fffff) })
	assert.Panics(t, func() { m.VirtualToAbsolute(0x401000 + 0x8000) })
}

func TestManager(t *testing.T) {
	mgr := NewManager(nil)
	infos := []ModuleInfo{
		{
			Path: "/usr/lib/libb.so", BuildID: "b",
			Start: 0x20000, End: 0x30000, LoadBias: 0, ExecutableSegmentOffset: 0x1010,
		},
		{
			Path: "/usr/bin/app", BuildID: "a",
			Start: 0x1000, End: 0x5000, LoadBias: 0x400000, ExecutableSegmentOffset: 0x1000,
		},
	}
	handles := mgr.AddOrUpdateModules(infos)
	require.Len(t, handles, 2)

	mi, ok := mgr.Module("/usr/bin/app", "a")
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000), mi.Start)
	_, ok = mgr.Module("/usr/bin/app", "other")
	assert.False(t, ok)

	mim, ok := mgr.ModuleInMemory(handles[0])
	require.True(t, ok)
	assert.Equal(t, uint64(0x20000), mim.Start)

	mim, ok = mgr.ModuleContaining(0x1234)
	require.True(t, ok)
	assert.Equal(t, handles[1], mim.Handle)

	// The first bytes of a mapping belong to the previous segment.
	_, ok = mgr.ModuleContaining(0x20008)
	assert.False(t, ok)
	mim, ok = mgr.ModuleContaining(0x20010)
	require.True(t, ok)
	assert.Equal(t, handles[0], mim.Handle)

	for _, abs := range []uint64{0, 0x5000, 0x10000, 0x30000} {
		_, ok = mgr.ModuleContaining(abs)
		assert.False(t, ok, "%#x", abs)
	}

	// A new memory map replaces the old one but keeps handles.
	again := mgr.AddOrUpdateModules(infos[1:])
	assert.Equal(t, handles[1], again[0])
	_, ok = mgr.ModuleInMemory(handles[0])
	assert.False(t, ok)
	_, ok = mgr.Module("/usr/lib/libb.so", "b")
	assert.True(t, ok)
}

type fakeProcess struct {
	files map[string][]byte
}

var _ process.Process = (*fakeProcess)(nil)

func (f *fakeProcess) PID() libpf.PID { return 1 }

func (f *fakeProcess) GetExe() (string, error) { return "/app", nil }

func (f *fakeProcess) GetMappings() ([]process.Mapping, uint32, error) {
	return nil, 0, errors.New("not implemented")
}

func (f *fakeProcess) GetRemoteMemory() remotememory.RemoteMemory {
	return remotememory.RemoteMemory{}
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

func (f *fakeProcess) OpenMappingFile(m *process.Mapping) (process.ReadAtCloser, error) {
	data, ok := f.files[m.Path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return nopCloser{bytes.NewReader(data)}, nil
}

func (f *fakeProcess) Close() error { return nil }

func TestReadModulesFromMappings(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	data, err := os.ReadFile(exe)
	require.NoError(t, err)
	if !bytes.HasPrefix(data, []byte(elf.ELFMAG)) {
		t.Skip("test binary is not an ELF file")
	}

	pr := &fakeProcess{files: map[string][]byte{
		"/app":     data,
		"/garbage": []byte("definitely not an object file"),
	}}
	rx := elf.PF_R | elf.PF_X
	mappings := []process.Mapping{
		{Vaddr: 0x1000, Length: 0x1000, Flags: elf.PF_R, Path: "/app"},
		{Vaddr: 0x2000, Length: 0x1000, Flags: rx, Path: "/app"},
		{Vaddr: 0x3000, Length: 0x2000, Flags: rx, Path: "/app"},
		{Vaddr: 0x8000, Length: 0x1000, Flags: rx, Path: "/dev/zero"},
		{Vaddr: 0x9000, Length: 0x1000, Flags: rx},
		{Vaddr: 0xa000, Length: 0x1000, Flags: rx, Path: process.VdsoPathName},
		{Vaddr: 0xb000, Length: 0x1000, Flags: rx, Path: "/garbage"},
		{Vaddr: 0xc000, Length: 0x1000, Flags: rx, Path: "/missing"},
	}

	infos := ReadModulesFromMappings(pr, mappings)
	require.Len(t, infos, 1)
	mi := infos[0]
	assert.Equal(t, "/app", mi.Path)
	assert.Equal(t, "app", mi.Name)
	assert.Equal(t, apiabi.ABINative, mi.ABI)
	assert.Equal(t, uint64(0x2000), mi.Start)
	assert.Equal(t, uint64(0x5000), mi.End)
}

//go:noinline
func marker() int { return 42 }

func TestReadModulesOfSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires procfs")
	}
	infos, err := ReadModules(libpf.PID(os.Getpid()))
	require.NoError(t, err)

	exe, err := os.Executable()
	require.NoError(t, err)

	mgr := NewManager(nil)
	mgr.AddOrUpdateModules(infos)

	pc := uint64(reflect.ValueOf(marker).Pointer())
	mim, ok := mgr.ModuleContaining(pc)
	require.True(t, ok, "no module contains %#x", pc)
	k, ok := mgr.Handles().Key(mim.Handle)
	require.True(t, ok)
	assert.Equal(t, exe, k.Path)

	// The virtual address must land in the executable section of the file.
	f, err := elf.Open(exe)
	require.NoError(t, err)
	defer f.Close()
	text := f.Section(".text")
	require.NotNil(t, text)
	virt := mim.AbsoluteToVirtual(pc)
	assert.GreaterOrEqual(t, virt, text.Addr)
	assert.Less(t, virt, text.Addr+text.Size)
	assert.Equal(t, pc, mim.VirtualToAbsolute(virt))
}

func TestExportedSymbolsOfSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires an ELF test binary")
	}
	exe, err := os.Executable()
	require.NoError(t, err)
	f, err := os.Open(exe)
	require.NoError(t, err)
	defer f.Close()

	obj, err := OpenObjectFile(f)
	require.NoError(t, err)
	defer obj.Close()
	assert.Equal(t, apiabi.ABINative, obj.ABI)
	assert.NotZero(t, obj.ImageSize)

	syms, err := obj.ExportedSymbols(apiabi.GetterSymbolPrefix)
	require.NoError(t, err)
	assert.Empty(t, syms)
}

func TestBuildIDFromNotes(t *testing.T) {
	note := []byte{
		4, 0, 0, 0, // namesz
		4, 0, 0, 0, // descsz
		3, 0, 0, 0, // NT_GNU_BUILD_ID
		'G', 'N', 'U', 0,
		0xde, 0xad, 0xbe, 0xef,
	}
	id, ok := buildIDFromNotes(note, binary.LittleEndian)
	require.True(t, ok)
	assert.Equal(t, "deadbeef", id)

	_, ok = buildIDFromNotes(note[:10], binary.LittleEndian)
	assert.False(t, ok)
}
