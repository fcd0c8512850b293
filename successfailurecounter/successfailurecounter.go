// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// successfailurecounter records the outcome of an operation exactly once, either
// into a pair of local counters or into a pair of metrics.
//
// A SuccessFailureCounter is meant to be created per operation and is **not**
// thread safe.
package successfailurecounter // import "go.opentelemetry.io/orbit-tracing/successfailurecounter"

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/metrics"
)

// SuccessFailureCounter implements a wrapper to increment success or failure counters exactly once.
type SuccessFailureCounter struct {
	success, fail     *atomic.Uint64
	successID, failID metrics.MetricID
	sealed            bool
}

// New returns a SuccessFailureCounter that can be incremented exactly once.
func New(success, fail *atomic.Uint64) SuccessFailureCounter {
	return SuccessFailureCounter{success: success, fail: fail}
}

// NewForMetrics returns a SuccessFailureCounter reporting to the given metric IDs.
func NewForMetrics(successID, failID metrics.MetricID) SuccessFailureCounter {
	return SuccessFailureCounter{successID: successID, failID: failID}
}

func (sfc *SuccessFailureCounter) incSuccess() {
	if sfc.success != nil {
		sfc.success.Add(1)
	}
	if sfc.successID != metrics.IDInvalid {
		metrics.Add(sfc.successID, 1)
	}
	sfc.sealed = true
}

func (sfc *SuccessFailureCounter) incFailure() {
	if sfc.fail != nil {
		sfc.fail.Add(1)
	}
	if sfc.failID != metrics.IDInvalid {
		metrics.Add(sfc.failID, 1)
	}
	sfc.sealed = true
}

// ReportSuccess increments the success counter or logs an error otherwise.
func (sfc *SuccessFailureCounter) ReportSuccess() {
	if sfc.sealed {
		log.Errorf("Attempted to report success/failure status more than once.")
		return
	}
	sfc.incSuccess()
}

// ReportFailure increments the failure counter or logs an error otherwise.
func (sfc *SuccessFailureCounter) ReportFailure() {
	if sfc.sealed {
		log.Errorf("Attempted to report failure/success status more than once.")
		return
	}
	sfc.incFailure()
}

// Report records success for a nil error and failure otherwise.
func (sfc *SuccessFailureCounter) Report(err error) {
	if err != nil {
		sfc.ReportFailure()
		return
	}
	sfc.ReportSuccess()
}

// DefaultToSuccess increments the success counter if no counter was updated before.
func (sfc *SuccessFailureCounter) DefaultToSuccess() {
	if !sfc.sealed {
		sfc.incSuccess()
	}
}

// DefaultToFailure increments the failure counter if no counter was updated before.
func (sfc *SuccessFailureCounter) DefaultToFailure() {
	if !sfc.sealed {
		sfc.incFailure()
	}
}
