// Package tprl creates Temporal clients configured from the environment.
package tprl

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/casualjim/flock/pkg/slogx"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
)

// Address returns TEMPORAL_ADDRESS, or the Temporal default host port when it is unset.
func Address() string {
	if s := os.Getenv("TEMPORAL_ADDRESS"); s != "" {
		return s
	}
	return client.DefaultHostPort
}

// Options returns client options for hostPort that log through slog.
func Options(hostPort string) client.Options {
	if hostPort == "" {
		hostPort = Address()
	}
	lg := slog.Default().With(slogx.LoggerName("flock.temporal"))
	return client.Options{
		HostPort: hostPort,
		Logger:   log.NewStructuredLogger(lg),
	}
}

// NewClient creates a lazy client for the server at TEMPORAL_ADDRESS. No connection is
// made until the first call.
func NewClient() (client.Client, error) {
	return Dial(Address())
}

// Dial creates a lazy client for hostPort.
func Dial(hostPort string) (client.Client, error) {
	cl, err := client.NewLazyClient(Options(hostPort))
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}
	return cl, nil
}
