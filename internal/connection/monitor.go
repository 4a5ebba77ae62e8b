package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status is the state of a monitored link.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
	StatusStopped      Status = "stopped"
)

// Endpoint is a link the Monitor can dial and probe.
// *modbus.Client implements it.
type Endpoint interface {
	Connect(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Policy        Policy
	CheckInterval time.Duration

	// OnStatus is called on every status change.
	OnStatus func(Status)
}

// Stats is a snapshot of a monitored link.
type Stats struct {
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	Reconnects     int       `json:"reconnects"`
	LastError      string    `json:"last_error,omitempty"`
	ConnectedSince time.Time `json:"connected_since,omitempty"`
}

// Monitor dials an endpoint and keeps it healthy.
type Monitor struct {
	endpoint Endpoint
	cfg      MonitorConfig
	logger   Logger

	mu             sync.RWMutex
	status         Status
	reconnects     int
	lastErr        error
	connectedSince time.Time
}

// NewMonitor creates a Monitor for endpoint.
func NewMonitor(endpoint Endpoint, cfg MonitorConfig, logger Logger) (*Monitor, error) {
	if endpoint == nil {
		return nil, errors.New("connection: endpoint is required")
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("connection: check interval must be positive, got %s", cfg.CheckInterval)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Monitor{endpoint: endpoint, cfg: cfg, logger: logger, status: StatusStopped}, nil
}

// Connect makes the initial connection under the retry policy.
func (m *Monitor) Connect(ctx context.Context) error {
	m.setStatus(StatusConnecting, nil)
	if err := Retry(ctx, m.cfg.Policy, m.logger, m.endpoint.Connect); err != nil {
		m.setStatus(StatusFailed, err)
		return err
	}
	m.setStatus(StatusConnected, nil)
	m.logger.Info("link connected", "link", m.cfg.Policy.Name)
	return nil
}

// Run probes the link every CheckInterval until ctx ends. A failed probe
// triggers reconnection; exhausted reconnection is returned as an error.
// Call Connect first.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.setStatus(StatusStopped, nil)
			return nil
		case <-ticker.C:
		}

		err := m.endpoint.HealthCheck(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			m.setStatus(StatusStopped, nil)
			return nil
		}

		m.logger.Warn("link health check failed", "link", m.cfg.Policy.Name, "error", err)
		m.setStatus(StatusReconnecting, err)

		if err := Retry(ctx, m.cfg.Policy, m.logger, m.endpoint.Connect); err != nil {
			if ctx.Err() != nil {
				m.setStatus(StatusStopped, nil)
				return nil
			}
			m.setStatus(StatusFailed, err)
			return err
		}

		m.mu.Lock()
		m.reconnects++
		m.mu.Unlock()
		m.setStatus(StatusConnected, nil)
		m.logger.Info("link reconnected", "link", m.cfg.Policy.Name)
	}
}

func (m *Monitor) setStatus(s Status, err error) {
	m.mu.Lock()
	changed := m.status != s
	m.status = s
	if err != nil {
		m.lastErr = err
	}
	if s == StatusConnected && changed {
		m.connectedSince = time.Now()
	}
	m.mu.Unlock()

	if changed && m.cfg.OnStatus != nil {
		m.cfg.OnStatus(s)
	}
}

// Status returns the current status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Stats returns a snapshot for health reporting.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Name:       m.cfg.Policy.Name,
		Status:     m.status,
		Reconnects: m.reconnects,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	if m.status == StatusConnected {
		s.ConnectedSince = m.connectedSince
	}
	return s
}
