// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// liborbit is the support library the service loads into traced processes.
// Build it with
//
//	go build -buildmode=c-shared -o liborbit.so ./cmd/liborbit
//
// It exports the activator entry points that initialize and enable the
// function tables of the process.
package main

/*
#include <stdint.h>
#include "orbit_api.h"
*/
import "C"

import (
	"fmt"
	"unsafe"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/activator"
	"go.opentelemetry.io/orbit-tracing/apiabi"
)

func main() {}

// setEnabled never lets a panic cross into the calling C code.
func setEnabled(table unsafe.Pointer, version apiabi.Version, abi apiabi.ABI,
	enabled bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("activation panicked: %v", r)
		}
		if err != nil {
			log.Debugf("Activation of table %p (version %d, %v) failed: %v",
				table, version, abi, err)
		}
	}()

	var t activator.Table
	if table != nil {
		t = newCTable(table)
	}
	return activator.SetEnabled(t, version, abi, enabled)
}

func status(err error) C.uint32_t {
	if err != nil {
		return 1
	}
	return 0
}

// The entry points return 0 on success.

//export activator_set_enabled
func activator_set_enabled(table unsafe.Pointer, version, enabled C.uint32_t) C.uint32_t {
	return status(setEnabled(table, apiabi.Version(version), apiabi.ABINative, enabled != 0))
}

//export activator_set_enabled_wine
func activator_set_enabled_wine(table unsafe.Pointer, version, enabled C.uint32_t) C.uint32_t {
	return status(setEnabled(table, apiabi.Version(version), apiabi.ABIWindows, enabled != 0))
}

// activator_set_enabled_from_struct is the entry point of remote threads.
//
//export activator_set_enabled_from_struct
func activator_set_enabled_from_struct(block unsafe.Pointer) C.uint32_t {
	return status(setEnabledFromBlock(block))
}

func setEnabledFromBlock(block unsafe.Pointer) error {
	if block == nil {
		return apiabi.ErrNullTable
	}
	var pb apiabi.ParamBlock
	if err := pb.UnmarshalBinary(unsafe.Slice((*byte)(block), apiabi.ParamBlockSize)); err != nil {
		return err
	}
	table := C.orbit_call_getter(C.uint64_t(pb.GetFunctionTableAddress))
	return setEnabled(table, pb.Version, apiabi.ABINative, pb.Enabled)
}
