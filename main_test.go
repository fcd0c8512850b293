// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/orbit-tracing/capturechannel"
	"go.opentelemetry.io/orbit-tracing/internal/controller"
)

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := parseArgs(nil)
	require.NoError(t, err)

	assert.Equal(t, uint(defaultArgGRPCPort), cfg.GRPCPort)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, capturechannel.DefaultSocketPath, cfg.ProducerSocket)
	assert.Equal(t, uint(capturechannel.DefaultPort), cfg.ProducerPort)
	assert.Equal(t, defaultArgStopTimeout, cfg.StopTimeout)
	require.NoError(t, cfg.Validate())
}

func TestParseArgs(t *testing.T) {
	cfg, err := parseArgs([]string{"-grpc_port", "50051", "-devmode", "-v",
		"-stop_timeout", "1s"})
	require.NoError(t, err)

	assert.Equal(t, uint(50051), cfg.GRPCPort)
	assert.True(t, cfg.DevMode)
	assert.True(t, cfg.VerboseMode)
	assert.Equal(t, time.Second, cfg.StopTimeout)
}

func TestParseArgsFromEnvironment(t *testing.T) {
	t.Setenv("ORBIT_SERVICE_GRPC_PORT", "50052")

	cfg, err := parseArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, uint(50052), cfg.GRPCPort)
}

func TestParseArgsFromConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "orbit.conf")
	require.NoError(t, os.WriteFile(file,
		[]byte("producer_socket /run/orbit.sock\nunknown_option 1\n"), 0o600))

	cfg, err := parseArgs([]string{"-config", file})
	require.NoError(t, err)
	assert.Equal(t, "/run/orbit.sock", cfg.ProducerSocket)
}

func TestMainWithExitCode(t *testing.T) {
	assert.Equal(t, exitSuccess, mainWithExitCode([]string{"-version"}))
	assert.Equal(t, exitParseError, mainWithExitCode([]string{"-no_such_flag"}))
	assert.Equal(t, exitParseError, mainWithExitCode([]string{"-grpc_port", "70000"}))
}

func TestFailureExitCode(t *testing.T) {
	assert.Equal(t, exitFailure, failure(errors.New("boom")))
	assert.Equal(t, exitCode(controller.ExitGRPC),
		failure(controller.WithExitCode(errors.New("boom"), controller.ExitGRPC)))
}
