// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package orbitapi is the in-process side of the runtime tracing API. A Table
// holds the entry points instrumented code calls; the activator binds and
// enables it, and the bound functions hand events to the process-wide
// producer.
package orbitapi // import "go.opentelemetry.io/orbit-tracing/orbitapi"

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"go.opentelemetry.io/orbit-tracing/apiabi"
	"go.opentelemetry.io/orbit-tracing/events"
)

// Table is the Go form of the function table. The zero value is an
// uninitialized, disabled table.
//
// The function fields are written once by Bind before initialized is
// published and never change afterwards.
type Table struct {
	enabled     atomic.Uint32
	initialized atomic.Uint32

	version     apiabi.Version
	start       func(name string, color apiabi.Color, groupID, callerAddr uint64)
	stop        func()
	startAsync  func(name string, id uint64, color apiabi.Color, callerAddr uint64)
	stopAsync   func(id uint64)
	asyncString func(str string, id uint64, color apiabi.Color)
	trackInt    func(name string, v int32, color apiabi.Color)
	trackInt64  func(name string, v int64, color apiabi.Color)
	trackUint   func(name string, v uint32, color apiabi.Color)
	trackUint64 func(name string, v uint64, color apiabi.Color)
	trackFloat  func(name string, v float32, color apiabi.Color)
	trackDouble func(name string, v float64, color apiabi.Color)
}

// Default is the table of the current process used by the package level
// functions.
var Default = &Table{}

// Active is the predicate instrumented code checks before every call.
func (t *Table) Active() bool {
	return t.initialized.Load() == 1 && t.enabled.Load() == 1
}

// Initialized reports whether Bind completed.
func (t *Table) Initialized() bool {
	return t.initialized.Load() == 1
}

// Enabled reports the enabled flag.
func (t *Table) Enabled() bool {
	return t.enabled.Load() == 1
}

// Version returns the layout the table was bound for.
func (t *Table) Version() apiabi.Version {
	if !t.Initialized() {
		return 0
	}
	return t.version
}

// SetEnabled flips the enabled flag.
func (t *Table) SetEnabled(enabled bool) {
	var v uint32
	if enabled {
		v = 1
	}
	t.enabled.Store(v)
}

// Bind installs the implementation for version v and publishes the table as
// initialized. Version 1 entries forward to the same implementation with the
// arguments version 1 lacks set to their defaults.
func (t *Table) Bind(v apiabi.Version, abi apiabi.ABI) error {
	if abi != apiabi.ABINative {
		return fmt.Errorf("only the native ABI is supported by Go tables, not %v", abi)
	}
	if t.initialized.Load() == 1 {
		return nil
	}
	switch v {
	case 1:
		t.start = func(name string, color apiabi.Color, _, callerAddr uint64) {
			emitStart(name, color, apiabi.DefaultGroupID, callerAddr)
		}
	case 2:
		t.start = emitStart
	default:
		return fmt.Errorf("no implementation for table version %d", v)
	}
	t.version = v
	t.stop = emitStop
	t.startAsync = emitStartAsync
	t.stopAsync = emitStopAsync
	t.asyncString = emitAsyncString
	t.trackInt = emitTrackInt
	t.trackInt64 = emitTrackInt64
	t.trackUint = emitTrackUint
	t.trackUint64 = emitTrackUint64
	t.trackFloat = emitTrackFloat
	t.trackDouble = emitTrackDouble
	t.initialized.Store(1)
	return nil
}

// callerAddress returns the return address skip frames above its caller.
func callerAddress(skip int) uint64 {
	var pcs [1]uintptr
	if runtime.Callers(skip+2, pcs[:]) == 0 {
		return 0
	}
	return uint64(pcs[0])
}

// Start opens a scope on the calling thread. A callerAddr of
// apiabi.CallerAddressAuto records the address Start returns to.
func (t *Table) Start(name string, color apiabi.Color, groupID, callerAddr uint64) {
	if !t.Active() {
		return
	}
	if callerAddr == apiabi.CallerAddressAuto {
		callerAddr = callerAddress(1)
	}
	t.start(name, color, groupID, callerAddr)
}

// Stop closes the innermost scope of the calling thread.
func (t *Table) Stop() {
	if t.Active() {
		t.stop()
	}
}

// StartAsync opens the asynchronous scope id.
func (t *Table) StartAsync(name string, id uint64, color apiabi.Color, callerAddr uint64) {
	if !t.Active() {
		return
	}
	if callerAddr == apiabi.CallerAddressAuto {
		callerAddr = callerAddress(1)
	}
	t.startAsync(name, id, color, callerAddr)
}

// StopAsync closes the asynchronous scope id.
func (t *Table) StopAsync(id uint64) {
	if t.Active() {
		t.stopAsync(id)
	}
}

// AsyncString attaches str to the asynchronous scope id.
func (t *Table) AsyncString(str string, id uint64, color apiabi.Color) {
	if t.Active() {
		t.asyncString(str, id, color)
	}
}

func (t *Table) TrackInt(name string, v int32, color apiabi.Color) {
	if t.Active() {
		t.trackInt(name, v, color)
	}
}

func (t *Table) TrackInt64(name string, v int64, color apiabi.Color) {
	if t.Active() {
		t.trackInt64(name, v, color)
	}
}

func (t *Table) TrackUint(name string, v uint32, color apiabi.Color) {
	if t.Active() {
		t.trackUint(name, v, color)
	}
}

func (t *Table) TrackUint64(name string, v uint64, color apiabi.Color) {
	if t.Active() {
		t.trackUint64(name, v, color)
	}
}

func (t *Table) TrackFloat(name string, v float32, color apiabi.Color) {
	if t.Active() {
		t.trackFloat(name, v, color)
	}
}

func (t *Table) TrackDouble(name string, v float64, color apiabi.Color) {
	if t.Active() {
		t.trackDouble(name, v, color)
	}
}

func emitStart(name string, color apiabi.Color, groupID, callerAddr uint64) {
	if !CapturingOrDrop() {
		return
	}
	ev := events.NewScopeStart(events.Header{}, name, color, groupID, callerAddr)
	Emit(&ev)
}

func emitStop() {
	if !CapturingOrDrop() {
		return
	}
	ev := events.NewScopeStop(events.Header{})
	Emit(&ev)
}

func emitStartAsync(name string, id uint64, color apiabi.Color, callerAddr uint64) {
	if !CapturingOrDrop() {
		return
	}
	ev := events.NewAsyncScopeStart(events.Header{}, name, id, color, callerAddr)
	Emit(&ev)
}

func emitStopAsync(id uint64) {
	if !CapturingOrDrop() {
		return
	}
	ev := events.NewAsyncScopeStop(events.Header{}, id)
	Emit(&ev)
}

func emitAsyncString(str string, id uint64, color apiabi.Color) {
	if !CapturingOrDrop() {
		return
	}
	ev := events.NewAsyncString(events.Header{}, str, id, color)
	Emit(&ev)
}

func emitTrackInt(name string, v int32, color apiabi.Color) {
	if !CapturingOrDrop() {
		return
	}
	ev := events.NewTrackInt32(events.Header{}, name, v, color)
	Emit(&ev)
}

func emitTrackInt64(name string, v int64, color apiabi.Color) {
	if !CapturingOrDrop() {
		return
	}
	ev := events.NewTrackInt64(events.Header{}, name, v, color)
	Emit(&ev)
}

func emitTrackUint(name string, v uint32, color apiabi.Color) {
	if !CapturingOrDrop() {
		return
	}
	ev := events.NewTrackUint32(events.Header{}, name, v, color)
	Emit(&ev)
}

func emitTrackUint64(name string, v uint64, color apiabi.Color) {
	if !CapturingOrDrop() {
		return
	}
	ev := events.NewTrackUint64(events.Header{}, name, v, color)
	Emit(&ev)
}

func emitTrackFloat(name string, v float32, color apiabi.Color) {
	if !CapturingOrDrop() {
		return
	}
	ev := events.NewTrackFloat(events.Header{}, name, v, color)
	Emit(&ev)
}

func emitTrackDouble(name string, v float64, color apiabi.Color) {
	if !CapturingOrDrop() {
		return
	}
	ev := events.NewTrackDouble(events.Header{}, name, v, color)
	Emit(&ev)
}
