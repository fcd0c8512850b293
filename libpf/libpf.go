// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package libpf holds small types and helpers shared by the tracing service
// and the in-process support library.
package libpf // import "go.opentelemetry.io/orbit-tracing/libpf"

// Void allows to use maps as sets without memory allocation for the values.
type Void struct{}

// Set is a convenience alias for a map with a `Void` key.
type Set[T comparable] map[T]Void
