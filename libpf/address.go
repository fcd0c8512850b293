// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/orbit-tracing/libpf"

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// Address represents an address, or offset within a process
type Address uintptr

// Hash returns a 64 bits hash of the input.
// It's main purpose is to be used as key for caching.
func (adr Address) Hash() uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(adr))
	return xxh3.Hash(buf[:])
}

// PageSize is the page granularity assumed for module mappings.
const PageSize = 0x1000

// AlignDown rounds the address down to the start of its page.
func (adr Address) AlignDown() Address {
	return adr &^ (PageSize - 1)
}

// PageOffset returns the offset of the address within its page.
func (adr Address) PageOffset() Address {
	return adr & (PageSize - 1)
}
