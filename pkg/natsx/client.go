// Package natsx connects to NATS with the options flock uses everywhere.
package natsx

import (
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultOptions names the connection "flock" and enables compression.
func DefaultOptions() []nats.Option {
	return []nats.Option{nats.Name("flock"), nats.Compression(true), nats.Timeout(2 * time.Second)}
}

// URL returns NATS_URL, or the NATS default url when it is unset.
func URL() string {
	if u := os.Getenv("NATS_URL"); u != "" {
		return u
	}
	return nats.DefaultURL
}

// Connect dials url. Without options DefaultOptions apply.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	if len(opts) == 0 {
		opts = DefaultOptions()
	}
	return nats.Connect(url, opts...)
}

// NewClient connects to the server named by NATS_URL.
func NewClient(opts ...nats.Option) (*nats.Conn, error) {
	return Connect(URL(), opts...)
}
