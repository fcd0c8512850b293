// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/orbit-tracing/libpf/xsync"
)

func TestLazyRetriesAfterError(t *testing.T) {
	var lazy xsync.Lazy[int]
	someError := errors.New("oh no")

	assert.Nil(t, lazy.Get())

	_, err := lazy.GetOrInit(func() (*int, error) { return nil, someError })
	require.ErrorIs(t, err, someError)
	assert.Nil(t, lazy.Get())

	v, err := lazy.GetOrInit(func() (*int, error) {
		n := 42
		return &n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, *v)
	assert.Same(t, v, lazy.Get())
}

func TestLazyConcurrentInit(t *testing.T) {
	var lazy xsync.Lazy[string]
	var calls atomic.Int32
	var wg sync.WaitGroup

	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := lazy.GetOrInit(func() (*string, error) {
				calls.Add(1)
				s := "value"
				return &s, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "value", *v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())

	prev := lazy.Reset()
	require.NotNil(t, prev)
	assert.Nil(t, lazy.Get())
}
