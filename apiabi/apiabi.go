// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package apiabi describes the binary contract between instrumented processes
// and the tracing service: the versioned function table embedded in the
// traced process, the symbols used to find and activate it, and the
// parameter block copied into the target on remote activation.
package apiabi // import "go.opentelemetry.io/orbit-tracing/apiabi"

import (
	"errors"
	"fmt"
)

// Version identifies one concrete layout of the function table.
type Version uint32

const (
	// MinSupportedVersion is the first version that ships the table getter.
	MinSupportedVersion Version = 1
	// LatestVersion is the newest layout known to this build.
	LatestVersion Version = 2
)

var (
	// ErrVersionTooOld is returned for versions older than MinSupportedVersion.
	ErrVersionTooOld = errors.New("function table version is not supported")
	// ErrNullTable is returned when activation is requested for address 0.
	ErrNullTable = errors.New("function table address is null")
)

// CheckVersion validates a version requested by the service. Newer versions
// are accepted and reported through newer=true: the caller installs
// LatestVersion, which is a prefix of any newer layout.
func CheckVersion(v Version) (effective Version, newer bool, err error) {
	switch {
	case v < MinSupportedVersion:
		return 0, false, fmt.Errorf("%w: %d < %d", ErrVersionTooOld, v, MinSupportedVersion)
	case v > LatestVersion:
		return LatestVersion, true, nil
	default:
		return v, false, nil
	}
}

// ABI is the calling convention and executable format a table was built for.
type ABI uint8

const (
	// ABINative is the platform ABI of the host (ELF on Linux).
	ABINative ABI = iota
	// ABIWindows is a Windows (PE) binary, possibly running under a
	// compatibility layer on a POSIX host.
	ABIWindows
)

func (a ABI) String() string {
	switch a {
	case ABINative:
		return "native"
	case ABIWindows:
		return "windows"
	default:
		return fmt.Sprintf("ABI(%d)", uint8(a))
	}
}

// CallerAddressAuto asks the implementation to record the return address of
// the instrumented call site.
const CallerAddressAuto uint64 = 0

// DefaultGroupID is the group of scopes that do not specify one.
const DefaultGroupID uint64 = 0
