package waitlist

import (
	"fmt"
	"time"
)

const (
	// DefaultListen is the default TCP endpoint waitlistd binds to.
	DefaultListen = ":9441"
	// DefaultListenProto controls the network used when none is configured.
	DefaultListenProto = "tcp"
	// DefaultMetricsListen is the default Prometheus scrape endpoint.
	// Empty disables metrics.
	DefaultMetricsListen = ""
	// DefaultStore selects the in-memory backend when no store is given.
	DefaultStore = "mem://"
	// DefaultSweepInterval is T_sweep, the director's fixed sweep cadence.
	DefaultSweepInterval = time.Second
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Config governs a waitlistd server instance.
type Config struct {
	// Listen is the network address the HTTP server binds to.
	Listen string
	// ListenProto is the network passed to net.Listen ("tcp", "tcp4", "tcp6", "unix").
	ListenProto string
	// MetricsListen is the Prometheus scrape endpoint; empty disables it.
	MetricsListen string
	// Store selects the storage backend ("mem://" is the only built-in scheme).
	Store string
	// SweepInterval overrides the director's fixed sweep cadence.
	SweepInterval time.Duration
	// MaxTransitionsPerSweep caps expire/promote writes per sweep; 0 is unbounded.
	MaxTransitionsPerSweep int
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// Validate fills in defaults and rejects structurally invalid configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ListenProto == "" {
		c.ListenProto = DefaultListenProto
	}
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if c.Store != "mem://" {
		return fmt.Errorf("config: unsupported store %q (only mem:// is built in)", c.Store)
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.MaxTransitionsPerSweep < 0 {
		return fmt.Errorf("config: max transitions per sweep must be >= 0")
	}
	return nil
}
