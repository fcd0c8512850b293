// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package periodiccaller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartWithClock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := clock.NewMock()
	calls := make(chan struct{}, 8)
	stop := StartWithClock(ctx, mock, time.Second, func() {
		calls <- struct{}{}
	})
	defer stop()

	for i := range 3 {
		mock.Add(time.Second)
		select {
		case <-calls:
		case <-time.After(time.Second):
			require.Failf(t, "timeout", "callback %d not called", i)
		}
	}
}

func TestCancellationStopsCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mock := clock.NewMock()

	var counter atomic.Int32
	stop := StartWithClock(ctx, mock, time.Second, func() { counter.Add(1) })
	cancel()
	stop()
	// Give the goroutine a chance to observe the cancellation.
	time.Sleep(10 * time.Millisecond)

	mock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), counter.Load())
}
