// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package controller runs the tracing service: the producer side accepting
// instrumented processes and the gRPC endpoint controlling captures.
package controller // import "go.opentelemetry.io/orbit-tracing/internal/controller"

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"go.opentelemetry.io/orbit-tracing/apievents"
	"go.opentelemetry.io/orbit-tracing/libpf"
	"go.opentelemetry.io/orbit-tracing/metrics"
	"go.opentelemetry.io/orbit-tracing/periodiccaller"
	"go.opentelemetry.io/orbit-tracing/producerside"
	"go.opentelemetry.io/orbit-tracing/remoteactivator"
)

const (
	defaultStatusInterval = time.Minute
	// recordLimit bounds the events kept per category of a capture.
	recordLimit = 1 << 16
)

// Exit codes of Start failures.
const (
	ExitProducerSide = 3
	ExitGRPC         = 4
)

// TargetActivator enables and disables the function tables of other
// processes.
type TargetActivator interface {
	FindTables(pid libpf.PID) ([]remoteactivator.Table, error)
	SetAPIEnabledInTarget(ctx context.Context, pid libpf.PID,
		tables []remoteactivator.Table, enabled bool) error
}

type capture struct {
	id      uuid.UUID
	pid     libpf.PID
	tables  []remoteactivator.Table
	started time.Time
}

// Controller is an instance that runs, manages and stops the service.
type Controller struct {
	config    *Config
	activator TargetActivator

	recorder  *apievents.Recorder
	processor *apievents.Processor
	producers *producerside.Server

	grpcServer *grpc.Server
	grpcLn     net.Listener
	health     *health.Server
	group      *errgroup.Group

	mu      sync.Mutex
	capture *capture
}

var _ captureServer = &Controller{}

// New creates a new controller
func New(cfg *Config, opts ...Option) *Controller {
	c := &Controller{config: cfg}
	for _, opt := range opts {
		c = opt.applyOption(c)
	}
	return c
}

// Start opens the producer socket and the gRPC port and starts serving. It
// fails if either cannot be opened. The controller should only be started
// once.
func (c *Controller) Start(ctx context.Context) error {
	if c.config == nil {
		return errors.New("missing configuration")
	}
	if c.activator == nil {
		act, err := remoteactivator.New(remoteactivator.Config{
			LibraryDir: c.config.LibraryDir,
		})
		if err != nil {
			return fmt.Errorf("failed to create the remote activator: %w", err)
		}
		c.activator = act
	}

	c.recorder = apievents.NewRecorder(recordLimit)
	var listener apievents.Listener = c.recorder
	if c.config.DevMode {
		listener = &eventLogger{next: c.recorder}
	}
	c.processor = apievents.NewProcessor(listener)

	c.producers = producerside.New(producerside.Config{
		Endpoint:    c.config.ProducerEndpoint(),
		StopTimeout: c.config.StopTimeout,
		Processor:   c.processor,
	})
	if err := c.producers.Start(); err != nil {
		return WithExitCode(fmt.Errorf("failed to start the producer side: %w", err),
			ExitProducerSide)
	}

	ln, err := net.Listen("tcp", c.config.GRPCAddress())
	if err != nil {
		_ = c.producers.Close()
		return WithExitCode(fmt.Errorf("failed to listen on %s: %w", c.config.GRPCAddress(), err),
			ExitGRPC)
	}
	c.grpcLn = ln
	c.grpcServer = grpc.NewServer()
	c.grpcServer.RegisterService(&captureServiceDesc, c)
	c.health = health.NewServer()
	healthpb.RegisterHealthServer(c.grpcServer, c.health)
	c.health.SetServingStatus(CaptureServiceName, healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	c.group = g
	g.Go(func() error {
		return c.producers.Serve(gctx)
	})
	g.Go(func() error {
		if err := c.grpcServer.Serve(ln); err != nil {
			return fmt.Errorf("serving gRPC: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		c.health.Shutdown()
		c.grpcServer.GracefulStop()
		log.Info("Stopped gRPC server")
		return nil
	})

	interval := c.config.StatusInterval
	if interval <= 0 {
		interval = defaultStatusInterval
	}
	periodiccaller.Start(gctx, interval, c.logStatus)

	log.Infof("Serving gRPC at %v", ln.Addr())
	return nil
}

// GRPCAddr returns the address of the gRPC server. Only valid after Start.
func (c *Controller) GRPCAddr() net.Addr {
	return c.grpcLn.Addr()
}

// Wait blocks until the servers stopped, which happens once the context
// passed to Start is done or a server failed.
func (c *Controller) Wait() error {
	if c.group == nil {
		return nil
	}
	return c.group.Wait()
}

// Shutdown stops a running capture.
func (c *Controller) Shutdown() {
	log.Info("Stop processing ...")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.StopTimeout)
		defer cancel()
		c.stopCaptureLocked(ctx)
	}
}

func (c *Controller) logStatus() {
	log.Debugf("Metrics: %v", metrics.Snapshot())
	c.mu.Lock()
	cp := c.capture
	c.mu.Unlock()
	if cp == nil {
		log.Infof("%d producers connected, no capture running", c.producers.NumProducers())
		return
	}
	s := c.recorder.Summary()
	log.Infof("%d producers connected, capture %v running for %v: %d timers, "+
		"%d async timers, %d track values", c.producers.NumProducers(), cp.id,
		time.Since(cp.started).Truncate(time.Second), s.Timers, s.AsyncTimers, s.TrackValues)
}

// StartCapture starts a capture. If a pid is given, the function tables of
// the process are enabled. Activation failures do not fail the capture and
// are returned in activation_errors.
func (c *Controller) StartCapture(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture != nil {
		return nil, status.Errorf(codes.FailedPrecondition,
			"capture %v is already running", c.capture.id)
	}

	cp := &capture{id: uuid.New(), started: time.Now()}
	c.recorder.Reset()
	c.processor.Reset()
	c.producers.OnCaptureStart(cp.id)
	c.capture = cp

	var activationErrors []any
	if v, ok := req.GetFields()["pid"]; ok && v.GetNumberValue() > 0 {
		cp.pid = libpf.PID(v.GetNumberValue())
		var err error
		cp.tables, err = c.activator.FindTables(cp.pid)
		if err == nil {
			err = c.activator.SetAPIEnabledInTarget(ctx, cp.pid, cp.tables, true)
		}
		for _, e := range splitErrors(err) {
			activationErrors = append(activationErrors, e.Error())
		}
		if err != nil {
			log.Warnf("Activation in %d failed: %v", cp.pid, err)
		}
	}

	return structpb.NewStruct(map[string]any{
		"capture_id":        cp.id.String(),
		"tables":            float64(len(cp.tables)),
		"activation_errors": activationErrors,
	})
}

// StopCapture disables the function tables enabled by StartCapture, waits
// for the producers to send their remaining events and returns a summary.
func (c *Controller) StopCapture(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capture == nil {
		return nil, status.Error(codes.FailedPrecondition, "no capture is running")
	}
	cp := c.stopCaptureLocked(ctx)

	s := c.recorder.Summary()
	return structpb.NewStruct(map[string]any{
		"capture_id":      cp.id.String(),
		"timers":          float64(s.Timers),
		"async_timers":    float64(s.AsyncTimers),
		"track_values":    float64(s.TrackValues),
		"async_strings":   float64(s.AsyncStrings),
		"unmatched_stops": float64(c.processor.UnmatchedStops()),
		"duration_ms":     float64(time.Since(cp.started).Milliseconds()),
	})
}

func (c *Controller) stopCaptureLocked(ctx context.Context) *capture {
	cp := c.capture
	c.capture = nil
	if cp.pid != 0 && len(cp.tables) > 0 {
		if err := c.activator.SetAPIEnabledInTarget(ctx, cp.pid, cp.tables, false); err != nil {
			log.Warnf("Deactivation in %d failed: %v", cp.pid, err)
		}
	}
	if err := c.producers.OnCaptureStop(ctx); err != nil {
		log.Warnf("Capture %v: %v", cp.id, err)
	}
	c.producers.OnCaptureFinished()
	syncScopes, asyncScopes := c.processor.OpenScopes()
	log.Infof("Capture %v finished, %d sync and %d async scopes left open",
		cp.id, syncScopes, asyncScopes)
	return cp
}

// splitErrors returns the errors joined in err.
func splitErrors(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// eventLogger logs every processed event.
type eventLogger struct {
	next apievents.Listener
}

func (l *eventLogger) OnTimer(t apievents.Timer) {
	log.Debugf("Timer %v", t)
	l.next.OnTimer(t)
}

func (l *eventLogger) OnTrackValue(v apievents.TrackValue) {
	log.Debugf("Track %s [%d/%d] %g", v.Name, v.PID, v.TID, v.Float64())
	l.next.OnTrackValue(v)
}

func (l *eventLogger) OnAsyncString(s apievents.AsyncString) {
	log.Debugf("Async string %d [%d] %q", s.ID, s.PID, s.Value)
	l.next.OnAsyncString(s)
}
