// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package codereport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = 0x7f1234560000

func TestSampleAttribution(t *testing.T) {
	code := bytes.Repeat([]byte{0x90}, 0x40) // nop
	r := NewDisassemblyReport(code, base, map[uint64]uint64{
		base:        1,
		base + 0x10: 2,
		base + 0x2f: 4,
		base + 0x40: 8,
		base - 1:    16,
	})
	require.Equal(t, 0x40, r.NumLines())
	assert.Equal(t, uint64(7), r.NumSamples())

	want := map[int]uint64{1: 1, 0x11: 2, 0x30: 4}
	for line := 1; line <= r.NumLines(); line++ {
		n, ok := r.NumSamplesAtLine(line)
		require.True(t, ok)
		assert.Equal(t, want[line], n, "line %d", line)
	}

	for _, line := range []int{0, -1, r.NumLines() + 1} {
		_, ok := r.NumSamplesAtLine(line)
		assert.False(t, ok, "line %d", line)
	}
}

func TestMultiByteInstructions(t *testing.T) {
	code := []byte{
		0x55,             // push %rbp
		0x48, 0x89, 0xe5, // mov %rsp,%rbp
		0x31, 0xc0, // xor %eax,%eax
		0x5d, // pop %rbp
		0xc3, // ret
	}
	r := NewDisassemblyReport(code, base, map[uint64]uint64{
		base + 2: 3,
		base + 3: 1,
		base + 8: 5,
	})
	require.Equal(t, 5, r.NumLines())

	n, ok := r.NumSamplesAtLine(2)
	require.True(t, ok)
	assert.Equal(t, uint64(4), n)
	n, ok = r.NumSamplesAtLine(5)
	require.True(t, ok)
	assert.Equal(t, uint64(5), n)

	addr, ok := r.LineToAddress(3)
	require.True(t, ok)
	assert.Equal(t, uint64(base+4), addr)
	_, ok = r.LineToAddress(6)
	assert.False(t, ok)

	line, ok := r.AddressToLine(base + 5)
	require.True(t, ok)
	assert.Equal(t, 3, line)
	_, ok = r.AddressToLine(base + 9)
	assert.False(t, ok)

	l, ok := r.Line(5)
	require.True(t, ok)
	assert.Contains(t, l.Text, "ret")
	assert.Contains(t, r.String(), "push")
}

func TestUndecodableBytes(t *testing.T) {
	r := NewDisassemblyReport([]byte{0x06, 0xc3}, base, nil)
	require.Equal(t, 2, r.NumLines())
	l, ok := r.Line(1)
	require.True(t, ok)
	assert.Contains(t, l.Text, "(bad)")
	assert.Equal(t, uint64(0), r.NumSamples())
}
