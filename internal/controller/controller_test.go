//go:build !windows

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"go.opentelemetry.io/orbit-tracing/apiabi"
	"go.opentelemetry.io/orbit-tracing/capturechannel"
	"go.opentelemetry.io/orbit-tracing/events"
	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/remoteactivator"
)

type activation struct {
	pid     libpf.PID
	tables  int
	enabled bool
}

type fakeActivator struct {
	mu     sync.Mutex
	calls  []activation
	tables []remoteactivator.Table
	err    error
}

func (f *fakeActivator) FindTables(libpf.PID) ([]remoteactivator.Table, error) {
	return f.tables, nil
}

func (f *fakeActivator) SetAPIEnabledInTarget(_ context.Context, pid libpf.PID,
	tables []remoteactivator.Table, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, activation{pid: pid, tables: len(tables), enabled: enabled})
	if enabled {
		return f.err
	}
	return nil
}

func (f *fakeActivator) activations() []activation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]activation(nil), f.calls...)
}

type fakeTarget struct {
	mu        sync.Mutex
	capturing bool
	client    *capturechannel.Client
}

func (f *fakeTarget) SetCapturing(capturing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capturing = capturing
}

func (f *fakeTarget) Flush(context.Context) error {
	return f.client.SendAllEventsSent()
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	// unix socket paths are short, t.TempDir() may exceed the limit
	dir, err := os.MkdirTemp("", "cc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return &Config{
		ProducerSocket: filepath.Join(dir, "orbit.sock"),
		ProducerPort:   44767,
		StopTimeout:    2 * time.Second,
	}
}

func startController(t *testing.T, cfg *Config, act TargetActivator) (*Controller,
	*grpc.ClientConn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ctlr := New(cfg, WithActivator(act))
	require.NoError(t, ctlr.Start(ctx))
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, ctlr.Wait())
	})

	conn, err := grpc.NewClient(ctlr.GRPCAddr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return ctlr, conn
}

func startCapture(t *testing.T, conn *grpc.ClientConn, fields map[string]any) *structpb.Struct {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	resp := &structpb.Struct{}
	require.NoError(t, conn.Invoke(context.Background(), StartCaptureMethod, req, resp))
	return resp
}

func stopCapture(conn *grpc.ClientConn) (*structpb.Struct, error) {
	resp := &structpb.Struct{}
	err := conn.Invoke(context.Background(), StopCaptureMethod, &emptypb.Empty{}, resp)
	return resp, err
}

func TestControllerStartFailures(t *testing.T) {
	t.Run("with a nil config", func(t *testing.T) {
		require.Error(t, New(nil).Start(context.Background()))
	})

	t.Run("with an unusable socket path", func(t *testing.T) {
		cfg := testConfig(t)
		file := filepath.Join(filepath.Dir(cfg.ProducerSocket), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o600))
		cfg.ProducerSocket = filepath.Join(file, "orbit.sock")

		err := New(cfg, WithActivator(&fakeActivator{})).Start(context.Background())
		var codedErr ErrorWithExitCode
		require.ErrorAs(t, err, &codedErr)
		assert.Equal(t, ExitProducerSide, codedErr.Code())
	})
}

func TestHealth(t *testing.T) {
	_, conn := startController(t, testConfig(t), &fakeActivator{})

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: CaptureServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestCapture(t *testing.T) {
	cfg := testConfig(t)
	act := &fakeActivator{tables: []remoteactivator.Table{{Version: 2}, {Version: 3}}}
	ctlr, conn := startController(t, cfg, act)

	client := capturechannel.NewClient(capturechannel.ClientConfig{
		Endpoint: cfg.ProducerEndpoint(),
	})
	target := &fakeTarget{client: client}
	client.Start(context.Background(), target)
	t.Cleanup(client.ShutdownAndWait)
	require.Eventually(t, func() bool {
		return ctlr.producers.NumProducers() == 1
	}, 5*time.Second, 10*time.Millisecond)

	resp := startCapture(t, conn, map[string]any{"pid": 42})
	assert.NotEmpty(t, resp.GetFields()["capture_id"].GetStringValue())
	assert.InDelta(t, 2, resp.GetFields()["tables"].GetNumberValue(), 0)
	assert.Empty(t, resp.GetFields()["activation_errors"].GetListValue().GetValues())

	req, err := structpb.NewStruct(map[string]any{})
	require.NoError(t, err)
	err = conn.Invoke(context.Background(), StartCaptureMethod, req, &structpb.Struct{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	require.Eventually(t, client.IsCapturing, 5*time.Second, 10*time.Millisecond)
	h := events.Header{PID: 42, TID: 7, TimestampNS: 100}
	start := events.NewScopeStart(h, "work", apiabi.Color(0), 0, 0)
	h.TimestampNS = 200
	stop := events.NewScopeStop(h)
	require.NoError(t, client.SendBatch([]events.Event{start, stop}))

	// The events are handled asynchronously, the stop drains them.
	summary, err := stopCapture(conn)
	require.NoError(t, err)
	assert.Equal(t, resp.GetFields()["capture_id"].GetStringValue(),
		summary.GetFields()["capture_id"].GetStringValue())
	assert.InDelta(t, 1, summary.GetFields()["timers"].GetNumberValue(), 0)
	assert.InDelta(t, 0, summary.GetFields()["unmatched_stops"].GetNumberValue(), 0)
	assert.False(t, client.IsCapturing())

	assert.Equal(t, []activation{
		{pid: 42, tables: 2, enabled: true},
		{pid: 42, tables: 2, enabled: false},
	}, act.activations())

	_, err = stopCapture(conn)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestCaptureActivationErrors(t *testing.T) {
	act := &fakeActivator{
		tables: []remoteactivator.Table{{Version: 2}, {Version: 3}},
		err: errors.Join(errors.New("module a: activator returned 1"),
			errors.New("module b: activator returned 2")),
	}
	_, conn := startController(t, testConfig(t), act)

	resp := startCapture(t, conn, map[string]any{"pid": 42})
	errs := resp.GetFields()["activation_errors"].GetListValue().GetValues()
	require.Len(t, errs, 2)
	assert.Equal(t, "module a: activator returned 1", errs[0].GetStringValue())

	_, err := stopCapture(conn)
	require.NoError(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			GRPCPort:       44765,
			ProducerSocket: "/tmp/orbit.sock",
			ProducerPort:   44767,
			StopTimeout:    time.Second,
		}
	}
	require.NoError(t, valid().Validate())

	for name, mutate := range map[string]func(*Config){
		"grpc port":      func(c *Config) { c.GRPCPort = 70000 },
		"producer port":  func(c *Config) { c.ProducerPort = 0 },
		"empty socket":   func(c *Config) { c.ProducerSocket = "" },
		"stop timeout":   func(c *Config) { c.StopTimeout = 0 },
		"negative value": func(c *Config) { c.StopTimeout = -time.Second },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGRPCAddress(t *testing.T) {
	cfg := &Config{GRPCPort: 44765}
	assert.Equal(t, "127.0.0.1:44765", cfg.GRPCAddress())
	cfg.DevMode = true
	assert.Equal(t, ":44765", cfg.GRPCAddress())
}
