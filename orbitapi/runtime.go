// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package orbitapi // import "go.opentelemetry.io/orbit-tracing/orbitapi"

import (
	"context"
	"errors"
	"os"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/capturechannel"
	"go.opentelemetry.io/orbit-tracing/events"
	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/libpf/xsync"
	"go.opentelemetry.io/orbit-tracing/producer"
	"go.opentelemetry.io/orbit-tracing/times"
)

// RuntimeConfig configures the process-wide producer and its channel.
type RuntimeConfig struct {
	Channel  capturechannel.ClientConfig
	Producer producer.Config
}

type tracingRuntime struct {
	pid      libpf.PID
	client   *capturechannel.Client
	producer *producer.Producer
}

var rt xsync.Lazy[tracingRuntime]

// InitRuntime creates the producer and connects the capture channel unless
// that already happened. It runs at activation time so that the event path
// never has to allocate or connect.
func InitRuntime(cfg RuntimeConfig) error {
	_, err := rt.GetOrInit(func() (*tracingRuntime, error) {
		client := capturechannel.NewClient(cfg.Channel)
		p := producer.New(cfg.Producer, client)
		client.Start(context.Background(), p)
		log.Debugf("Tracing runtime started")
		return &tracingRuntime{
			pid:      libpf.PID(os.Getpid()),
			client:   client,
			producer: p,
		}, nil
	})
	return err
}

// EnsureRuntime is InitRuntime with the default configuration, which takes
// the service endpoint from the environment.
func EnsureRuntime() error {
	return InitRuntime(RuntimeConfig{})
}

// ShutdownRuntime flushes and stops the runtime. A later activation starts a
// new one.
func ShutdownRuntime(ctx context.Context) error {
	r := rt.Reset()
	if r == nil {
		return nil
	}
	err := r.producer.Shutdown(ctx)
	r.client.ShutdownAndWait()
	return err
}

// Stats returns the producer counters of the runtime.
func Stats() (producer.Stats, error) {
	r := rt.Get()
	if r == nil {
		return producer.Stats{}, errors.New("tracing runtime not initialized")
	}
	return r.producer.Stats(), nil
}

// Capturing reports whether events emitted now would be recorded.
func Capturing() bool {
	r := rt.Get()
	return r != nil && r.producer.IsCapturing()
}

// CapturingOrDrop is the check entry points make before building an event.
// It reports whether a capture is running. While the runtime exists without
// a running capture, which includes the window before the channel is
// connected, each call counts one dropped event.
func CapturingOrDrop() bool {
	r := rt.Get()
	if r == nil {
		return false
	}
	if r.producer.IsCapturing() {
		return true
	}
	r.producer.CountDrop()
	return false
}

// Emit stamps ev with the calling process, thread and time and hands it to
// the producer. It drops the event silently if no capture is running. Emit
// does not allocate.
func Emit(ev *events.Event) {
	r := rt.Get()
	if r == nil || !r.producer.IsCapturing() {
		return
	}
	ev.Header = events.Header{
		PID:         r.pid,
		TID:         currentThreadID(),
		TimestampNS: times.GetKTime().Nanoseconds(),
	}
	r.producer.Enqueue(ev)
}
