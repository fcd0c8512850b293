// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/orbit-tracing/internal/controller"

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/capturechannel"
)

// Config is the configuration of the service.
type Config struct {
	GRPCPort       uint
	DevMode        bool
	ProducerSocket string
	ProducerPort   uint
	StopTimeout    time.Duration
	StatusInterval time.Duration
	// LibraryDir overrides where the support library is looked up.
	LibraryDir string

	ConfigFile  string
	Copyright   bool
	Version     bool
	VerboseMode bool

	Fs *flag.FlagSet
}

// Dump visits all flag sets, and dumps them all to debug
// Used for verbose mode logging.
func (cfg *Config) Dump() {
	log.Debug("Config:")
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debugf("%s: %v", f.Name, f.Value)
	})
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	if cfg.GRPCPort > math.MaxUint16 {
		return fmt.Errorf("invalid gRPC port %d", cfg.GRPCPort)
	}
	if cfg.ProducerPort == 0 || cfg.ProducerPort > math.MaxUint16 {
		return fmt.Errorf("invalid producer port %d", cfg.ProducerPort)
	}
	if cfg.ProducerSocket == "" && runtime.GOOS != "windows" {
		return errors.New("the producer socket path must not be empty")
	}
	if cfg.StopTimeout <= 0 {
		return fmt.Errorf("invalid stop timeout %v", cfg.StopTimeout)
	}
	return nil
}

// ProducerEndpoint is where instrumented processes connect to.
func (cfg *Config) ProducerEndpoint() capturechannel.Endpoint {
	if runtime.GOOS == "windows" {
		return capturechannel.TCPEndpoint(int(cfg.ProducerPort))
	}
	return capturechannel.UnixEndpoint(cfg.ProducerSocket)
}

// GRPCAddress is the listening address of the gRPC server. Outside of
// developer mode only the loopback interface is used.
func (cfg *Config) GRPCAddress() string {
	if cfg.DevMode {
		return fmt.Sprintf(":%d", cfg.GRPCPort)
	}
	return fmt.Sprintf("127.0.0.1:%d", cfg.GRPCPort)
}
