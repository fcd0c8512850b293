// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package modules // import "go.opentelemetry.io/orbit-tracing/modules"

import (
	"fmt"

	"go.opentelemetry.io/orbit-tracing/libpf"
)

// ModuleInMemory is the executable range a module occupies in a process.
//
// Virtual addresses are the addresses of the object file. The executable
// segment is mapped at Start, rounded down to a page: the first
// ExecutableSegmentOffset%PageSize bytes of the range belong to the previous
// segment of the file.
type ModuleInMemory struct {
	Handle                  Handle
	Start                   uint64
	End                     uint64
	LoadBias                uint64
	ExecutableSegmentOffset uint64
}

func (m *ModuleInMemory) alignedSegmentOffset() uint64 {
	return uint64(libpf.Address(m.ExecutableSegmentOffset).AlignDown())
}

// MinAbsoluteAddress is the lowest absolute address inside the module.
func (m *ModuleInMemory) MinAbsoluteAddress() uint64 {
	return m.Start + uint64(libpf.Address(m.ExecutableSegmentOffset).PageOffset())
}

// Contains reports whether abs belongs to the module.
func (m *ModuleInMemory) Contains(abs uint64) bool {
	return abs >= m.MinAbsoluteAddress() && abs < m.End
}

// VirtualToAbsolute translates a virtual address of the object file. It
// panics if the result is outside [MinAbsoluteAddress, End).
func (m *ModuleInMemory) VirtualToAbsolute(virt uint64) uint64 {
	if !m.ContainsVirtual(virt) {
		panic(fmt.Sprintf("virtual address %#x outside of module [%#x, %#x) with load bias %#x",
			virt, m.Start, m.End, m.LoadBias))
	}
	return m.Start + virt - m.LoadBias - m.alignedSegmentOffset()
}

// ContainsVirtual reports whether VirtualToAbsolute accepts virt.
func (m *ModuleInMemory) ContainsVirtual(virt uint64) bool {
	base := m.LoadBias + m.alignedSegmentOffset()
	return virt >= base && virt-base < m.End-m.Start && m.Contains(m.Start+virt-base)
}

// AbsoluteToVirtual is the inverse of VirtualToAbsolute. It panics if
// Contains rejects abs.
func (m *ModuleInMemory) AbsoluteToVirtual(abs uint64) uint64 {
	if !m.Contains(abs) {
		panic(fmt.Sprintf("absolute address %#x outside of module [%#x, %#x)",
			abs, m.MinAbsoluteAddress(), m.End))
	}
	return abs - m.Start + m.LoadBias + m.alignedSegmentOffset()
}
