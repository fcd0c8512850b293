// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"time"

	"github.com/peterbourgon/ff/v3"

	"go.opentelemetry.io/orbit-tracing/capturechannel"
	"go.opentelemetry.io/orbit-tracing/internal/controller"
)

const (
	// Default values for CLI flags
	defaultArgGRPCPort       = 44765
	defaultArgStopTimeout    = 5 * time.Second
	defaultArgStatusInterval = time.Minute
)

// Help strings for command line arguments
var (
	grpcPortHelp = "The port of the gRPC server controlling captures."
	devModeHelp  = "Enable developer mode: serve gRPC on all interfaces and " +
		"log every received event."
	producerSocketHelp = "Path of the unix socket instrumented processes connect to."
	producerPortHelp   = "Loopback TCP port instrumented processes connect to " +
		"where unix sockets are not available."
	stopTimeoutHelp    = "How long to wait for producers to send their events when a capture stops."
	statusIntervalHelp = "Interval of the status log line."
	libraryDirHelp     = "Directory holding the support library injected into targets. " +
		"Defaults to the directory of the executable."
	configFileHelp  = "Path of a plain configuration file (one 'flag value' per line)."
	copyrightHelp   = "Show copyright and short license text."
	verboseModeHelp = "Enable verbose logging and debugging capabilities."
	versionHelp     = "Show version."
)

func parseArgs(args []string) (*controller.Config, error) {
	var cfg controller.Config

	fs := flag.NewFlagSet("orbit-service", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.StringVar(&cfg.ConfigFile, "config", "", configFileHelp)
	fs.BoolVar(&cfg.Copyright, "copyright", false, copyrightHelp)

	fs.BoolVar(&cfg.DevMode, "devmode", false, devModeHelp)

	fs.UintVar(&cfg.GRPCPort, "grpc_port", defaultArgGRPCPort, grpcPortHelp)

	fs.StringVar(&cfg.LibraryDir, "library_dir", "", libraryDirHelp)

	fs.UintVar(&cfg.ProducerPort, "producer_port", capturechannel.DefaultPort,
		producerPortHelp)
	fs.StringVar(&cfg.ProducerSocket, "producer_socket", capturechannel.DefaultSocketPath,
		producerSocketHelp)

	fs.DurationVar(&cfg.StatusInterval, "status_interval", defaultArgStatusInterval,
		statusIntervalHelp)
	fs.DurationVar(&cfg.StopTimeout, "stop_timeout", defaultArgStopTimeout, stopTimeoutHelp)

	fs.BoolVar(&cfg.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&cfg.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&cfg.Version, "version", false, versionHelp)

	fs.Usage = func() {
		fs.PrintDefaults()
	}

	cfg.Fs = fs

	return &cfg, ff.Parse(fs, args,
		ff.WithEnvVarPrefix("ORBIT_SERVICE"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// This will ignore configuration file (only) options that the current
		// service does not recognize.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	)
}
