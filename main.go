// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// orbit-service accepts connections of instrumented processes and lets a
// client start and stop captures over gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/orbit-tracing/internal/controller"
	"go.opentelemetry.io/orbit-tracing/vc"
)

// Short copyright / license text
var copyright = `Copyright The OpenTelemetry Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
`

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = 1

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = 2
)

func main() {
	os.Exit(int(mainWithExitCode(os.Args[1:])))
}

func mainWithExitCode(args []string) exitCode {
	cfg, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return parseError("Failure to parse arguments: %v", err)
	}

	if cfg.Copyright {
		fmt.Print(copyright)
		return exitSuccess
	}

	if cfg.Version {
		fmt.Printf("%s\n", vc.Version())
		return exitSuccess
	}

	if cfg.VerboseMode {
		log.SetLevel(log.DebugLevel)
		// Dump the arguments in debug mode.
		cfg.Dump()
	}

	if err = cfg.Validate(); err != nil {
		return parseError("%v", err)
	}

	// Context to drive main goroutine and the servers.
	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer mainCancel()

	log.Infof("Starting orbit service %s", vc.Summary())

	ctlr := controller.New(cfg)
	if err = ctlr.Start(mainCtx); err != nil {
		return failure(err)
	}

	err = ctlr.Wait()
	ctlr.Shutdown()
	if err != nil {
		return failure(err)
	}

	log.Info("Exiting ...")
	return exitSuccess
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

func failure(err error) exitCode {
	log.Error(err)
	var codedErr controller.ErrorWithExitCode
	if errors.As(err, &codedErr) {
		return exitCode(codedErr.Code())
	}
	return exitFailure
}
