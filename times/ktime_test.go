// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package times

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetKTimeIsMonotonic(t *testing.T) {
	first := GetKTime()
	time.Sleep(time.Millisecond)
	second := GetKTime()

	assert.Greater(t, second, first)
	assert.GreaterOrEqual(t, second.Sub(first), time.Millisecond)
	assert.Equal(t, uint64(second), second.Nanoseconds())
}
