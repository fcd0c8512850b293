// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

/*
#include <stdint.h>
#include "orbit_api.h"
*/
import "C"

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"go.opentelemetry.io/orbit-tracing/apiabi"
)

// cTable is a function table in C memory, laid out as orbit_api_v<N>.
type cTable struct {
	enabled     *uint32
	initialized *uint32
	ptr         unsafe.Pointer
}

var tableLayout, _ = apiabi.Layout(apiabi.LatestVersion)

func newCTable(ptr unsafe.Pointer) *cTable {
	return &cTable{
		enabled:     (*uint32)(unsafe.Add(ptr, tableLayout.Offset(apiabi.FieldEnabled))),
		initialized: (*uint32)(unsafe.Add(ptr, tableLayout.Offset(apiabi.FieldInitialized))),
		ptr:         ptr,
	}
}

func (t *cTable) Initialized() bool {
	return atomic.LoadUint32(t.initialized) == 1
}

func (t *cTable) Bind(version apiabi.Version, abi apiabi.ABI) error {
	if C.orbit_bind_table(t.ptr, C.uint32_t(version), C.int(abi)) != 0 {
		return fmt.Errorf("no %v entries for version %d", abi, version)
	}
	return nil
}

func (t *cTable) SetEnabled(enabled bool) {
	var v uint32
	if enabled {
		v = 1
	}
	atomic.StoreUint32(t.enabled, v)
}
