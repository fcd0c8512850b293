// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/orbit-tracing/internal/controller"

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// CaptureServiceName is the gRPC service controlling captures.
const CaptureServiceName = "orbit.CaptureService"

// Full method names of the capture service.
const (
	StartCaptureMethod = "/" + CaptureServiceName + "/StartCapture"
	StopCaptureMethod  = "/" + CaptureServiceName + "/StopCapture"
)

// captureServer is the server API of the capture service. Requests and
// responses are free-form structs:
//
//	StartCapture {pid} -> {capture_id, tables, activation_errors}
//	StopCapture  {}    -> {capture_id, timers, async_timers, track_values,
//	                       async_strings, unmatched_stops, duration_ms}
type captureServer interface {
	StartCapture(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopCapture(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var captureServiceDesc = grpc.ServiceDesc{
	ServiceName: CaptureServiceName,
	HandlerType: (*captureServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartCapture", Handler: startCaptureHandler},
		{MethodName: "StopCapture", Handler: stopCaptureHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orbit/capture_service.proto",
}

func startCaptureHandler(srv any, ctx context.Context, dec func(any) error,
	interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(captureServer).StartCapture(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StartCaptureMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(captureServer).StartCapture(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func stopCaptureHandler(srv any, ctx context.Context, dec func(any) error,
	interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(captureServer).StopCapture(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StopCaptureMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(captureServer).StopCapture(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
