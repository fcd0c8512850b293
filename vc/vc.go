// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vc provides buildtime information.
package vc // import "go.opentelemetry.io/orbit-tracing/vc"

import "fmt"

// Set at link time, e.g.
//
//	-ldflags "-X go.opentelemetry.io/orbit-tracing/vc.version=v1.2.0"
var (
	revision       = ""
	buildTimestamp = ""
	// vX.Y.Z{-N-abbrev} (git describe --tags)
	version = ""
)

// Revision of the service.
func Revision() string {
	return revision
}

// BuildTimestamp returns the timestamp of the build.
func BuildTimestamp() string {
	return buildTimestamp
}

// Version in vX.Y.Z{-N-abbrev} format. Development builds report "dev".
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}

// Summary is the one-line build description printed at startup.
func Summary() string {
	return fmt.Sprintf("%s (revision %s, build timestamp %s)",
		Version(), Revision(), BuildTimestamp())
}
