// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package apiabi // import "go.opentelemetry.io/orbit-tracing/apiabi"

import (
	"fmt"
	"strconv"
	"strings"
)

// GetterSymbolPrefix is shared by all function table getters. Instrumented
// binaries export one getter per table they embed:
//
//	orbit_api_get_function_table_address_v<N>      (native)
//	orbit_api_get_function_table_address_win_v<N>  (Windows)
const GetterSymbolPrefix = "orbit_api_get_function_table_address_"

const windowsGetterInfix = "win_"

// Exported entry points of the support library.
const (
	EntryPointSetEnabled           = "activator_set_enabled"
	EntryPointSetEnabledWine       = "activator_set_enabled_wine"
	EntryPointSetEnabledFromStruct = "activator_set_enabled_from_struct"
)

// GetterSymbol returns the getter name for a version and ABI.
func GetterSymbol(v Version, abi ABI) string {
	if abi == ABIWindows {
		return fmt.Sprintf("%s%sv%d", GetterSymbolPrefix, windowsGetterInfix, v)
	}
	return fmt.Sprintf("%sv%d", GetterSymbolPrefix, v)
}

// ParseGetterSymbol extracts version and ABI from a getter symbol name.
// ok is false for names that are not getters.
func ParseGetterSymbol(name string) (v Version, abi ABI, ok bool) {
	rest, found := strings.CutPrefix(name, GetterSymbolPrefix)
	if !found {
		return 0, 0, false
	}
	abi = ABINative
	if r, isWin := strings.CutPrefix(rest, windowsGetterInfix); isWin {
		abi = ABIWindows
		rest = r
	}
	digits, found := strings.CutPrefix(rest, "v")
	if !found || digits == "" {
		return 0, 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return Version(n), abi, true
}

// SetEnabledEntryPoint returns the activator entry point whose calling
// convention matches a table of the given ABI when called with three
// arguments.
func SetEnabledEntryPoint(abi ABI) string {
	if abi == ABIWindows {
		return EntryPointSetEnabledWine
	}
	return EntryPointSetEnabled
}
