// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// remotememory provides access to memory space of a process. The ReaderAt
// interface is used for reading. Targets whose backing also implements
// io.WriterAt can be written to, which remote activation uses to place
// parameter blocks.
package remotememory // import "go.opentelemetry.io/orbit-tracing/remotememory"

import (
	"errors"
	"io"

	"go.opentelemetry.io/orbit-tracing/libpf"
)

// ErrReadOnly is returned when writing through a RemoteMemory that cannot write.
var ErrReadOnly = errors.New("remote memory is read-only")

// RemoteMemory implements a set of convenience functions to access the remote memory
type RemoteMemory struct {
	io.ReaderAt
}

// Valid determines if this RemoteMemory instance contains a valid reference to target process
func (rm RemoteMemory) Valid() bool {
	return rm.ReaderAt != nil
}

// Read fills slice p[] with data from remote memory at address addr
func (rm RemoteMemory) Read(addr libpf.Address, p []byte) error {
	_, err := rm.ReadAt(p, int64(addr))
	return err
}

// Write copies p into remote memory at address addr.
func (rm RemoteMemory) Write(addr libpf.Address, p []byte) error {
	w, ok := rm.ReaderAt.(io.WriterAt)
	if !ok {
		return ErrReadOnly
	}
	_, err := w.WriteAt(p, int64(addr))
	return err
}

// ProcessVirtualMemory implements RemoteMemory by using process_vm_readv and
// process_vm_writev syscalls to access the remote memory.
type ProcessVirtualMemory struct {
	pid libpf.PID
}

// NewProcessVirtualMemory returns ProcessVirtualMemory implementation of RemoteMemory.
func NewProcessVirtualMemory(pid libpf.PID) RemoteMemory {
	return RemoteMemory{ReaderAt: ProcessVirtualMemory{pid}}
}
