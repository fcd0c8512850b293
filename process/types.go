// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package process gives access to the memory mappings, executable and memory
// of a running process.
package process // import "go.opentelemetry.io/orbit-tracing/process"

import (
	"debug/elf"
	"io"
	"strings"

	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/remotememory"
)

// VdsoPathName is the path to use for VDSO mappings
const VdsoPathName = "linux-vdso.1.so"

// Mapping contains information about a memory mapping
type Mapping struct {
	// Vaddr is the virtual memory start for this mapping
	Vaddr uint64
	// Length is the length of the mapping
	Length uint64
	// Flags contains the mapping flags and permissions
	Flags elf.ProgFlag
	// FileOffset contains for file backed mappings the offset from the file start
	FileOffset uint64
	// Device holds the device ID where the file is located
	Device uint64
	// Inode holds the mapped file's inode number
	Inode uint64
	// Path contains the file name for file backed mappings
	Path string
}

// End returns the first address after the mapping.
func (m *Mapping) End() uint64 {
	return m.Vaddr + m.Length
}

func (m *Mapping) IsExecutable() bool {
	return m.Flags&elf.PF_X == elf.PF_X
}

func (m *Mapping) IsAnonymous() bool {
	return m.Path == "" || m.IsMemFD()
}

func (m *Mapping) IsMemFD() bool {
	return strings.HasPrefix(m.Path, "/memfd:")
}

func (m *Mapping) IsVDSO() bool {
	return m.Path == VdsoPathName
}

// ReadAtCloser interfaces implements io.ReaderAt and io.Closer
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Process is the interface to inspect a running process.
type Process interface {
	// PID returns the process identifier
	PID() libpf.PID

	// GetExe returns the path of the main executable
	GetExe() (string, error)

	// GetMappings reads and parses process memory mappings. The second
	// return value is the number of lines that failed to parse.
	GetMappings() ([]Mapping, uint32, error)

	// GetRemoteMemory returns a remote memory accessor for the process
	GetRemoteMemory() remotememory.RemoteMemory

	// OpenMappingFile returns ReadAtCloser accessing the backing file of the mapping
	OpenMappingFile(*Mapping) (ReadAtCloser, error)

	io.Closer
}
