// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package apiabi // import "go.opentelemetry.io/orbit-tracing/apiabi"

import (
	"encoding/binary"
	"errors"

	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/remotememory"
)

// TableState is a snapshot of the flags of a function table.
type TableState struct {
	Enabled     bool
	Initialized bool
}

// Active is the predicate user code evaluates before calling into the table.
func (s TableState) Active() bool {
	return s.Initialized && s.Enabled
}

// ReadTableState reads the flags of the table at addr in another process.
func ReadTableState(rm remotememory.RemoteMemory, addr libpf.Address) (TableState, error) {
	if !rm.Valid() {
		return TableState{}, errors.New("no access to the memory of the target")
	}
	var buf [2 * flagSize]byte
	if err := rm.Read(addr, buf[:]); err != nil {
		return TableState{}, err
	}
	return TableState{
		Enabled:     binary.LittleEndian.Uint32(buf[0:]) != 0,
		Initialized: binary.LittleEndian.Uint32(buf[flagSize:]) != 0,
	}, nil
}
