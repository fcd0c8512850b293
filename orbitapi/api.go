// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package orbitapi // import "go.opentelemetry.io/orbit-tracing/orbitapi"

import "go.opentelemetry.io/orbit-tracing/apiabi"

// Package level entry points operating on Default. Sync scopes are matched
// per OS thread; goroutines that open a scope should stay locked to their
// thread until it is closed, or use the async scopes instead.

func Start(name string, color apiabi.Color, groupID, callerAddr uint64) {
	if !Default.Active() {
		return
	}
	if callerAddr == apiabi.CallerAddressAuto {
		callerAddr = callerAddress(1)
	}
	Default.start(name, color, groupID, callerAddr)
}

func Stop() {
	Default.Stop()
}

func StartAsync(name string, id uint64, color apiabi.Color, callerAddr uint64) {
	if !Default.Active() {
		return
	}
	if callerAddr == apiabi.CallerAddressAuto {
		callerAddr = callerAddress(1)
	}
	Default.startAsync(name, id, color, callerAddr)
}

func StopAsync(id uint64) {
	Default.StopAsync(id)
}

func AsyncString(str string, id uint64, color apiabi.Color) {
	Default.AsyncString(str, id, color)
}

func TrackInt(name string, v int32, color apiabi.Color) {
	Default.TrackInt(name, v, color)
}

func TrackInt64(name string, v int64, color apiabi.Color) {
	Default.TrackInt64(name, v, color)
}

func TrackUint(name string, v uint32, color apiabi.Color) {
	Default.TrackUint(name, v, color)
}

func TrackUint64(name string, v uint64, color apiabi.Color) {
	Default.TrackUint64(name, v, color)
}

func TrackFloat(name string, v float32, color apiabi.Color) {
	Default.TrackFloat(name, v, color)
}

func TrackDouble(name string, v float64, color apiabi.Color) {
	Default.TrackDouble(name, v, color)
}
