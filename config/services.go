package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeReconciler runs the consistency reconciler loop.
	ServiceModeReconciler ServiceMode = "reconciler"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeReconciler}
}

// ParseServices parses a comma-delimited string of service names and returns
// the enabled services. It validates that all service names are valid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeReconciler:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, reconciler)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// PollingConfig contains polling engine configuration.
type PollingConfig struct {
	// Interval is the fixed delay between status queries for one job.
	Interval time.Duration `env:"POLL_INTERVAL" envDefault:"10s"`

	// MaxAttempts is the attempt budget before a job times out
	// (60 attempts at a 10s interval is roughly ten minutes).
	MaxAttempts int `env:"POLL_MAX_ATTEMPTS" envDefault:"60"`

	// MaxConsecutiveFailures is how many transient query errors in a row are
	// tolerated before the job is failed with a network reason.
	MaxConsecutiveFailures int `env:"POLL_MAX_CONSECUTIVE_FAILURES" envDefault:"3"`
}

// Sanitize applies guardrails to polling configuration values.
func (p *PollingConfig) Sanitize() {
	if p.Interval < time.Second {
		p.Interval = time.Second
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.MaxConsecutiveFailures < 1 {
		p.MaxConsecutiveFailures = 1
	}
}

// TrackerConfig contains progress tracker configuration.
type TrackerConfig struct {
	// DebounceWindow coalesces non-terminal remote writes. Terminal
	// transitions bypass the window and are written synchronously.
	DebounceWindow time.Duration `env:"TRACKER_DEBOUNCE_WINDOW" envDefault:"5s"`

	// SnapshotExpiry is how old a snapshot may be before it is treated as
	// stale and discarded instead of delivered to new subscribers.
	SnapshotExpiry time.Duration `env:"TRACKER_SNAPSHOT_EXPIRY" envDefault:"30m"`

	// TerminalGrace is how long a terminal snapshot stays in memory so
	// subscribers can observe the final update before eviction.
	TerminalGrace time.Duration `env:"TRACKER_TERMINAL_GRACE" envDefault:"2m"`
}

// Sanitize applies guardrails to tracker configuration values.
func (t *TrackerConfig) Sanitize() {
	if t.DebounceWindow <= 0 {
		t.DebounceWindow = 5 * time.Second
	}
	if t.SnapshotExpiry <= 0 {
		t.SnapshotExpiry = 30 * time.Minute
	}
	if t.TerminalGrace <= 0 {
		t.TerminalGrace = 2 * time.Minute
	}
}

// ReconcilerConfig contains consistency reconciler configuration.
type ReconcilerConfig struct {
	// Interval is the reconciliation period.
	Interval time.Duration `env:"RECONCILER_INTERVAL" envDefault:"30s"`

	// ResumeScope optionally restricts startup resumption to one user scope.
	// Empty resumes every non-terminal persisted job.
	ResumeScope string `env:"RECONCILER_RESUME_SCOPE" envDefault:""`
}

// Sanitize applies guardrails to reconciler configuration values.
func (r *ReconcilerConfig) Sanitize() {
	if r.Interval < time.Second {
		r.Interval = time.Second
	}
}
