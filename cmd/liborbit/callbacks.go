// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

/*
#include <stdint.h>
#include <string.h>
*/
import "C"

import (
	"unsafe"

	"go.opentelemetry.io/orbit-tracing/apiabi"
	"go.opentelemetry.io/orbit-tracing/events"
	"go.opentelemetry.io/orbit-tracing/orbitapi"
)

// The functions below are called by the trampolines in trampolines.c. They
// return silently when no capture is running.

// cString copies at most events.MaxStringLen bytes of s without allocating.
func cString(s *C.char) events.EncodedString {
	if s == nil {
		return events.EncodedString{}
	}
	n := C.strnlen(s, C.size_t(events.MaxStringLen))
	return events.EncodeBytes(unsafe.Slice((*byte)(unsafe.Pointer(s)), int(n)))
}

//export orbitGoStart
func orbitGoStart(name *C.char, color C.uint32_t, groupID, callerAddr C.uint64_t) {
	if !orbitapi.CapturingOrDrop() {
		return
	}
	ev := events.Event{
		Kind:       events.KindScopeStart,
		Name:       cString(name),
		Color:      apiabi.Color(color),
		GroupID:    uint64(groupID),
		CallerAddr: uint64(callerAddr),
	}
	orbitapi.Emit(&ev)
}

//export orbitGoStop
func orbitGoStop() {
	if !orbitapi.CapturingOrDrop() {
		return
	}
	ev := events.Event{Kind: events.KindScopeStop}
	orbitapi.Emit(&ev)
}

//export orbitGoStartAsync
func orbitGoStartAsync(name *C.char, id C.uint64_t, color C.uint32_t, callerAddr C.uint64_t) {
	if !orbitapi.CapturingOrDrop() {
		return
	}
	ev := events.Event{
		Kind:       events.KindAsyncScopeStart,
		Name:       cString(name),
		ID:         uint64(id),
		Color:      apiabi.Color(color),
		CallerAddr: uint64(callerAddr),
	}
	orbitapi.Emit(&ev)
}

//export orbitGoStopAsync
func orbitGoStopAsync(id C.uint64_t) {
	if !orbitapi.CapturingOrDrop() {
		return
	}
	ev := events.Event{Kind: events.KindAsyncScopeStop, ID: uint64(id)}
	orbitapi.Emit(&ev)
}

//export orbitGoAsyncString
func orbitGoAsyncString(str *C.char, id C.uint64_t, color C.uint32_t) {
	if !orbitapi.CapturingOrDrop() {
		return
	}
	ev := events.Event{
		Kind:  events.KindAsyncString,
		Name:  cString(str),
		ID:    uint64(id),
		Color: apiabi.Color(color),
	}
	orbitapi.Emit(&ev)
}

func emitTrack(ev events.Event, name *C.char) {
	ev.Name = cString(name)
	orbitapi.Emit(&ev)
}

//export orbitGoTrackInt
func orbitGoTrackInt(name *C.char, value C.int32_t, color C.uint32_t) {
	if orbitapi.CapturingOrDrop() {
		emitTrack(events.NewTrackInt32(events.Header{}, "", int32(value), apiabi.Color(color)), name)
	}
}

//export orbitGoTrackInt64
func orbitGoTrackInt64(name *C.char, value C.int64_t, color C.uint32_t) {
	if orbitapi.CapturingOrDrop() {
		emitTrack(events.NewTrackInt64(events.Header{}, "", int64(value), apiabi.Color(color)), name)
	}
}

//export orbitGoTrackUint
func orbitGoTrackUint(name *C.char, value C.uint32_t, color C.uint32_t) {
	if orbitapi.CapturingOrDrop() {
		emitTrack(events.NewTrackUint32(events.Header{}, "", uint32(value), apiabi.Color(color)), name)
	}
}

//export orbitGoTrackUint64
func orbitGoTrackUint64(name *C.char, value C.uint64_t, color C.uint32_t) {
	if orbitapi.CapturingOrDrop() {
		emitTrack(events.NewTrackUint64(events.Header{}, "", uint64(value), apiabi.Color(color)), name)
	}
}

//export orbitGoTrackFloat
func orbitGoTrackFloat(name *C.char, value C.float, color C.uint32_t) {
	if orbitapi.CapturingOrDrop() {
		emitTrack(events.NewTrackFloat(events.Header{}, "", float32(value), apiabi.Color(color)), name)
	}
}

//export orbitGoTrackDouble
func orbitGoTrackDouble(name *C.char, value C.double, color C.uint32_t) {
	if orbitapi.CapturingOrDrop() {
		emitTrack(events.NewTrackDouble(events.Header{}, "", float64(value), apiabi.Color(color)), name)
	}
}
