// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package capturechannel // import "go.opentelemetry.io/orbit-tracing/capturechannel"

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
)

const (
	// DefaultSocketPath is where the service listens for producers on unix
	// systems.
	DefaultSocketPath = "/tmp/orbit-producer/producer-side.sock"
	// DefaultPort is the loopback TCP port used where unix sockets are not
	// available.
	DefaultPort = 44767

	// EnvSocket overrides the unix socket path of the service.
	EnvSocket = "ORBIT_PRODUCER_SOCKET"
	// EnvAddr selects a TCP address for the service instead of a socket.
	EnvAddr = "ORBIT_PRODUCER_ADDR"
)

// Endpoint is the address of the producer side of the service.
type Endpoint struct {
	Network string
	Address string
}

func (e Endpoint) String() string {
	return e.Network + "://" + e.Address
}

// Listen opens a listener on the endpoint.
func (e Endpoint) Listen() (net.Listener, error) {
	if e.Network == "unix" {
		// A stale socket of a previous run would make Listen fail.
		if err := os.Remove(e.Address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale socket %s: %w", e.Address, err)
		}
	}
	return net.Listen(e.Network, e.Address)
}

// UnixEndpoint returns the endpoint of a unix socket.
func UnixEndpoint(path string) Endpoint {
	return Endpoint{Network: "unix", Address: path}
}

// TCPEndpoint returns the loopback endpoint for port.
func TCPEndpoint(port int) Endpoint {
	return Endpoint{Network: "tcp", Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(port))}
}

// DefaultEndpoint is the platform default endpoint.
func DefaultEndpoint() Endpoint {
	if runtime.GOOS == "windows" {
		return TCPEndpoint(DefaultPort)
	}
	return UnixEndpoint(DefaultSocketPath)
}

// EndpointFromEnv applies the environment overrides to DefaultEndpoint.
func EndpointFromEnv() Endpoint {
	if addr := os.Getenv(EnvAddr); addr != "" {
		return Endpoint{Network: "tcp", Address: addr}
	}
	if path := os.Getenv(EnvSocket); path != "" {
		return UnixEndpoint(path)
	}
	return DefaultEndpoint()
}
