//go:build !(linux && amd64) && !windows

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package injection // import "go.opentelemetry.io/orbit-tracing/injection"

import (
	"go.opentelemetry.io/orbit-tracing/libpf"
)

// Open is not supported on this platform.
func Open(pid libpf.PID) (Injector, error) {
	return nil, ErrNotSupported
}
