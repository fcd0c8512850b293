// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package times provides the monotonic clock used to timestamp trace events.
package times // import "go.opentelemetry.io/orbit-tracing/times"

import (
	"time"
	_ "unsafe" // required to use //go:linkname for runtime.nanotime
)

// KTime stores a time value, retrieved from a monotonic clock, in nanoseconds
type KTime int64

// GetKTime gets the current CLOCK_MONOTONIC time in nanoseconds. This relies on
// runtime.nanotime, which reads the clock through the vDSO without a syscall
// and without allocating, so it is safe to call on the event fast path.
//
//go:noescape
//go:linkname GetKTime runtime.nanotime
func GetKTime() KTime

// Nanoseconds returns the timestamp as an unsigned nanosecond count.
func (t KTime) Nanoseconds() uint64 {
	return uint64(t)
}

// Sub returns the duration t-u.
func (t KTime) Sub(u KTime) time.Duration {
	return time.Duration(t - u)
}
