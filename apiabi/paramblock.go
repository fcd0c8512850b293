// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package apiabi // import "go.opentelemetry.io/orbit-tracing/apiabi"

import (
	"encoding"
	"encoding/binary"
	"fmt"
)

// ParamBlockSize is the encoded size of a ParamBlock.
const ParamBlockSize = 16

// ParamBlock is the argument of activator_set_enabled_from_struct. It is
// copied byte for byte into the target process, matching the C layout
//
//	struct {
//	  uint64_t get_function_table_address;
//	  uint32_t version;
//	  uint32_t enabled;
//	};
type ParamBlock struct {
	// GetFunctionTableAddress is the absolute address of the table getter
	// in the target.
	GetFunctionTableAddress uint64
	Version                 Version
	Enabled                 bool
}

var (
	_ encoding.BinaryMarshaler   = ParamBlock{}
	_ encoding.BinaryUnmarshaler = (*ParamBlock)(nil)
)

// MarshalBinary encodes the block in little-endian target byte order.
func (p ParamBlock) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ParamBlockSize)
	binary.LittleEndian.PutUint64(buf[0:], p.GetFunctionTableAddress)
	binary.LittleEndian.PutUint32(buf[8:], uint32(p.Version))
	var enabled uint32
	if p.Enabled {
		enabled = 1
	}
	binary.LittleEndian.PutUint32(buf[12:], enabled)
	return buf, nil
}

// UnmarshalBinary decodes a block written by MarshalBinary or by C code.
func (p *ParamBlock) UnmarshalBinary(data []byte) error {
	if len(data) < ParamBlockSize {
		return fmt.Errorf("param block too short: %d < %d bytes", len(data), ParamBlockSize)
	}
	p.GetFunctionTableAddress = binary.LittleEndian.Uint64(data[0:])
	p.Version = Version(binary.LittleEndian.Uint32(data[8:]))
	p.Enabled = binary.LittleEndian.Uint32(data[12:]) != 0
	return nil
}
