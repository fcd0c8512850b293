// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package activator initializes and enables function tables inside the
// current process. It is what the activator_set_enabled entry points of the
// support library call into.
package activator // import "go.opentelemetry.io/orbit-tracing/activator"

import (
	"fmt"
	"reflect"
	"sync"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/apiabi"
	"go.opentelemetry.io/orbit-tracing/metrics"
	"go.opentelemetry.io/orbit-tracing/orbitapi"
	"go.opentelemetry.io/orbit-tracing/successfailurecounter"
)

// Table is a function table of the current process.
type Table interface {
	Initialized() bool
	// Bind writes every entry of the version and ABI, then publishes the
	// table as initialized with release semantics.
	Bind(version apiabi.Version, abi apiabi.ABI) error
	SetEnabled(enabled bool)
}

var _ Table = &orbitapi.Table{}

// RuntimeInit establishes the producer and the capture channel. It runs
// before the first table is enabled.
var RuntimeInit = orbitapi.EnsureRuntime

func isNil(t Table) bool {
	if t == nil {
		return true
	}
	v := reflect.ValueOf(t)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// mu serializes activations. Instrumented threads never take it.
var mu sync.Mutex

// SetEnabled activates or deactivates t. A nil table, including a nil pointer
// wrapped in the interface, and versions older than
// apiabi.MinSupportedVersion are rejected without touching the table.
// Versions newer than apiabi.LatestVersion get the latest known layout, which
// is a prefix of theirs. Only the first successful call binds the entries;
// later calls only flip the enabled flag.
func SetEnabled(t Table, version apiabi.Version, abi apiabi.ABI, enabled bool) (err error) {
	sfc := successfailurecounter.NewForMetrics(metrics.IDActivationSuccess,
		metrics.IDActivationFailure)
	defer func() { sfc.Report(err) }()

	if isNil(t) {
		return apiabi.ErrNullTable
	}
	effective, newer, err := apiabi.CheckVersion(version)
	if err != nil {
		return err
	}
	if newer {
		log.Warnf("Function table version %d is newer than %d, installing version %d",
			version, apiabi.LatestVersion, effective)
	}

	mu.Lock()
	defer mu.Unlock()

	if enabled {
		if err = RuntimeInit(); err != nil {
			return fmt.Errorf("failed to initialize the tracing runtime: %w", err)
		}
	}
	if !t.Initialized() {
		if err = t.Bind(effective, abi); err != nil {
			return fmt.Errorf("failed to bind version %d table: %w", effective, err)
		}
	}
	t.SetEnabled(enabled)
	return nil
}
