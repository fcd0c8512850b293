// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package codereport attributes samples to the disassembled instructions of a
// function.
package codereport // import "go.opentelemetry.io/orbit-tracing/codereport"

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Line is one disassembled instruction.
type Line struct {
	Address uint64
	Size    int
	Text    string
}

// DisassemblyReport is the listing of one function with a sample count per
// instruction. Lines are numbered from 1.
type DisassemblyReport struct {
	start   uint64
	end     uint64
	lines   []Line
	counts  []uint64
	samples uint64
}

// NewDisassemblyReport decodes the 64-bit x86 code of a function loaded at
// address and attributes samples, a count per absolute address, to the
// instructions containing them. Samples outside of the function are ignored.
func NewDisassemblyReport(code []byte, address uint64,
	samples map[uint64]uint64) *DisassemblyReport {
	r := &DisassemblyReport{
		start: address,
		end:   address + uint64(len(code)),
	}
	for off := 0; off < len(code); {
		pc := address + uint64(off)
		inst, err := x86asm.Decode(code[off:], 64)
		line := Line{Address: pc}
		if err != nil {
			line.Size = 1
			line.Text = fmt.Sprintf("(bad) %#02x", code[off])
		} else {
			line.Size = inst.Len
			line.Text = x86asm.GNUSyntax(inst, pc, nil)
		}
		r.lines = append(r.lines, line)
		off += line.Size
	}

	r.counts = make([]uint64, len(r.lines))
	for addr, n := range samples {
		line, ok := r.AddressToLine(addr)
		if !ok {
			continue
		}
		r.counts[line-1] += n
		r.samples += n
	}
	return r
}

// NumLines returns the number of instructions.
func (r *DisassemblyReport) NumLines() int {
	return len(r.lines)
}

// Line returns a line of the listing.
func (r *DisassemblyReport) Line(line int) (Line, bool) {
	if line < 1 || line > len(r.lines) {
		return Line{}, false
	}
	return r.lines[line-1], true
}

// NumSamples returns the number of samples inside the function.
func (r *DisassemblyReport) NumSamples() uint64 {
	return r.samples
}

// NumSamplesAtLine returns the samples of line. ok is false for lines outside
// of the function.
func (r *DisassemblyReport) NumSamplesAtLine(line int) (count uint64, ok bool) {
	if line < 1 || line > len(r.counts) {
		return 0, false
	}
	return r.counts[line-1], true
}

// LineToAddress returns the address of the instruction of line.
func (r *DisassemblyReport) LineToAddress(line int) (uint64, bool) {
	l, ok := r.Line(line)
	return l.Address, ok
}

// AddressToLine returns the line of the instruction containing addr.
func (r *DisassemblyReport) AddressToLine(addr uint64) (int, bool) {
	if addr < r.start || addr >= r.end {
		return 0, false
	}
	i := sort.Search(len(r.lines), func(i int) bool {
		return r.lines[i].Address > addr
	})
	return i, i > 0
}

// String renders the listing with the sample count of each line.
func (r *DisassemblyReport) String() string {
	var sb strings.Builder
	for i, l := range r.lines {
		fmt.Fprintf(&sb, "%8d  %#x:\t%s\n", r.counts[i], l.Address, l.Text)
	}
	return sb.String()
}
