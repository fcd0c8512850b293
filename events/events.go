// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package events defines the intermediate trace events produced by the
// in-process function table implementation and consumed by the service.
package events // import "go.opentelemetry.io/orbit-tracing/events"

import (
	"fmt"
	"math"

	"go.opentelemetry.io/orbit-tracing/apiabi"
	"go.opentelemetry.io/orbit-tracing/libpf"
)

// Kind tags the variant of an Event.
type Kind uint8

const (
	KindNone Kind = iota
	KindScopeStart
	KindScopeStop
	KindAsyncScopeStart
	KindAsyncScopeStop
	KindAsyncString
	KindTrackInt32
	KindTrackInt64
	KindTrackUint32
	KindTrackUint64
	KindTrackFloat
	KindTrackDouble

	maxKind
)

var kindNames = [maxKind]string{
	"None", "ScopeStart", "ScopeStop", "AsyncScopeStart", "AsyncScopeStop",
	"AsyncString", "TrackInt32", "TrackInt64", "TrackUint32", "TrackUint64",
	"TrackFloat", "TrackDouble",
}

func (k Kind) String() string {
	if k < maxKind {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is one of the defined variants.
func (k Kind) Valid() bool {
	return k > KindNone && k < maxKind
}

// IsTrack reports whether k is one of the typed counter track variants.
func (k Kind) IsTrack() bool {
	return k >= KindTrackInt32 && k <= KindTrackDouble
}

// Header carries the fields common to all variants.
type Header struct {
	PID         libpf.PID
	TID         libpf.TID
	TimestampNS uint64
}

// Event is a closed tagged union over the trace event variants. It has a fixed
// size and holds no pointers, so it can be copied into pre-allocated storage.
// Fields that a variant does not use are zero.
type Event struct {
	Header
	Kind Kind
	// Name is the scope or track name, or the payload of an AsyncString.
	Name       EncodedString
	Color      apiabi.Color
	GroupID    uint64
	CallerAddr uint64
	// ID keys async scopes and async strings.
	ID    uint64
	value uint64
}

// NewScopeStart opens a synchronous scope on the calling thread.
func NewScopeStart(h Header, name string, color apiabi.Color, groupID, callerAddr uint64) Event {
	return Event{Header: h, Kind: KindScopeStart, Name: EncodeString(name), Color: color,
		GroupID: groupID, CallerAddr: callerAddr}
}

// NewScopeStop closes the innermost synchronous scope on the calling thread.
func NewScopeStop(h Header) Event {
	return Event{Header: h, Kind: KindScopeStop}
}

// NewAsyncScopeStart opens the asynchronous scope id.
func NewAsyncScopeStart(h Header, name string, id uint64, color apiabi.Color,
	callerAddr uint64) Event {
	return Event{Header: h, Kind: KindAsyncScopeStart, Name: EncodeString(name), ID: id,
		Color: color, CallerAddr: callerAddr}
}

// NewAsyncScopeStop closes the asynchronous scope id.
func NewAsyncScopeStop(h Header, id uint64) Event {
	return Event{Header: h, Kind: KindAsyncScopeStop, ID: id}
}

// NewAsyncString attaches str to the asynchronous scope id.
func NewAsyncString(h Header, str string, id uint64, color apiabi.Color) Event {
	return Event{Header: h, Kind: KindAsyncString, Name: EncodeString(str), ID: id, Color: color}
}

func newTrack(h Header, kind Kind, name string, bits uint64, color apiabi.Color) Event {
	return Event{Header: h, Kind: kind, Name: EncodeString(name), Color: color, value: bits}
}

func NewTrackInt32(h Header, name string, v int32, color apiabi.Color) Event {
	return newTrack(h, KindTrackInt32, name, uint64(uint32(v)), color)
}

func NewTrackInt64(h Header, name string, v int64, color apiabi.Color) Event {
	return newTrack(h, KindTrackInt64, name, uint64(v), color)
}

func NewTrackUint32(h Header, name string, v uint32, color apiabi.Color) Event {
	return newTrack(h, KindTrackUint32, name, uint64(v), color)
}

func NewTrackUint64(h Header, name string, v uint64, color apiabi.Color) Event {
	return newTrack(h, KindTrackUint64, name, v, color)
}

func NewTrackFloat(h Header, name string, v float32, color apiabi.Color) Event {
	return newTrack(h, KindTrackFloat, name, uint64(math.Float32bits(v)), color)
}

func NewTrackDouble(h Header, name string, v float64, color apiabi.Color) Event {
	return newTrack(h, KindTrackDouble, name, math.Float64bits(v), color)
}

// Typed accessors. Each one is only meaningful for its own track kind.

func (e *Event) Int32() int32     { return int32(uint32(e.value)) }
func (e *Event) Int64() int64     { return int64(e.value) }
func (e *Event) Uint32() uint32   { return uint32(e.value) }
func (e *Event) Uint64() uint64   { return e.value }
func (e *Event) Float() float32   { return math.Float32frombits(uint32(e.value)) }
func (e *Event) Double() float64  { return math.Float64frombits(e.value) }
func (e *Event) RawValue() uint64 { return e.value }

func (e Event) String() string {
	switch e.Kind {
	case KindScopeStop:
		return fmt.Sprintf("%v{pid=%d tid=%d ts=%d}", e.Kind, e.PID, e.TID, e.TimestampNS)
	case KindAsyncScopeStop:
		return fmt.Sprintf("%v{pid=%d tid=%d ts=%d id=%d}", e.Kind, e.PID, e.TID,
			e.TimestampNS, e.ID)
	default:
		return fmt.Sprintf("%v{pid=%d tid=%d ts=%d name=%q id=%d color=%#x}", e.Kind, e.PID,
			e.TID, e.TimestampNS, e.Name.String(), e.ID, uint32(e.Color))
	}
}
