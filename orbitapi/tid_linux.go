// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package orbitapi // import "go.opentelemetry.io/orbit-tracing/orbitapi"

import (
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/orbit-tracing/libpf"
)

func currentThreadID() libpf.TID {
	return libpf.TID(unix.Gettid())
}
