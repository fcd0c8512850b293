//go:build !linux && !windows

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package orbitapi // import "go.opentelemetry.io/orbit-tracing/orbitapi"

import "go.opentelemetry.io/orbit-tracing/libpf"

// Thread ids are not exposed portably; all events share thread 0.
func currentThreadID() libpf.TID {
	return 0
}
