// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package apiabi // import "go.opentelemetry.io/orbit-tracing/apiabi"

import "fmt"

// Field names one slot of the function table. The order is the layout order;
// new versions may only append.
type Field uint8

const (
	FieldEnabled Field = iota
	FieldInitialized
	FieldStart
	FieldStop
	FieldStartAsync
	FieldStopAsync
	FieldAsyncString
	FieldTrackInt
	FieldTrackInt64
	FieldTrackUint
	FieldTrackUint64
	FieldTrackFloat
	FieldTrackDouble

	numFields
)

var fieldNames = [numFields]string{
	"enabled", "initialized", "start", "stop", "start_async", "stop_async",
	"async_string", "track_int", "track_int64", "track_uint", "track_uint64",
	"track_float", "track_double",
}

func (f Field) String() string {
	if f < numFields {
		return fieldNames[f]
	}
	return fmt.Sprintf("Field(%d)", uint8(f))
}

const (
	flagSize    = 4
	pointerSize = 8
)

// TableLayout is the byte layout of one function table version on a 64-bit
// target. Both ABIs share it: two uint32 flags followed by pointers.
type TableLayout struct {
	Version Version
	Fields  []Field
}

var layouts = map[Version]TableLayout{
	// v1: start(name, color), start_async(name, id, color).
	1: {Version: 1, Fields: allFields()},
	// v2: start(name, color, group_id, caller_addr),
	// start_async(name, id, color, caller_addr).
	2: {Version: 2, Fields: allFields()},
}

func allFields() []Field {
	fields := make([]Field, 0, numFields)
	for f := FieldEnabled; f < numFields; f++ {
		fields = append(fields, f)
	}
	return fields
}

// Layout returns the table layout of a supported version.
func Layout(v Version) (TableLayout, error) {
	l, ok := layouts[v]
	if !ok {
		return TableLayout{}, fmt.Errorf("no layout for function table version %d", v)
	}
	return l, nil
}

// Offset returns the byte offset of a field.
func (l TableLayout) Offset(f Field) uint64 {
	switch f {
	case FieldEnabled:
		return 0
	case FieldInitialized:
		return flagSize
	default:
		return 2*flagSize + uint64(f-FieldStart)*pointerSize
	}
}

// Size returns the size of the table in bytes.
func (l TableLayout) Size() uint64 {
	last := l.Fields[len(l.Fields)-1]
	return l.Offset(last) + pointerSize
}

// FunctionFields returns the pointer fields that must be non-null once the
// table is initialized.
func (l TableLayout) FunctionFields() []Field {
	return l.Fields[FieldStart:]
}

// IsPrefixOf reports whether every field of l is at the same offset in other.
func (l TableLayout) IsPrefixOf(other TableLayout) bool {
	if len(l.Fields) > len(other.Fields) {
		return false
	}
	for i, f := range l.Fields {
		if other.Fields[i] != f || other.Offset(f) != l.Offset(f) {
			return false
		}
	}
	return true
}
