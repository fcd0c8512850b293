// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package periodiccaller allows periodic calls of functions.
package periodiccaller // import "go.opentelemetry.io/orbit-tracing/periodiccaller"

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Start starts a timer that calls <callback> every <interval> until the <ctx> is canceled.
func Start(ctx context.Context, interval time.Duration, callback func()) func() {
	return StartWithClock(ctx, clock.New(), interval, callback)
}

// StartWithClock is Start driven by the given clock.
func StartWithClock(ctx context.Context, clk clock.Clock, interval time.Duration,
	callback func()) func() {
	ticker := clk.Ticker(interval)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				callback()
			case <-ctx.Done():
				return
			}
		}
	}()

	return ticker.Stop
}
