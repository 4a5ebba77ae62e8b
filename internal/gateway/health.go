package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-cell/internal/connection"
)

// HealthStatus is the overall state reported on the health topic.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained payload on cell/{cell_id}/health.
type HealthMessage struct {
	CellID    string             `json:"cell_id"`
	Status    HealthStatus       `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	Version   string             `json:"version,omitempty"`
	UptimeS   int64              `json:"uptime_s"`
	Links     []connection.Stats `json:"links"`
	Timestamp time.Time          `json:"timestamp"`
}

// LinkSource reports the state of one monitored link.
type LinkSource interface {
	Stats() connection.Stats
}

// healthReporter builds health messages from the monitored links.
type healthReporter struct {
	cellID  string
	version string
	started time.Time
	links   []LinkSource
	now     func() time.Time
}

func newHealthReporter(cellID, version string, links []LinkSource) *healthReporter {
	return &healthReporter{
		cellID:  cellID,
		version: version,
		started: time.Now(),
		links:   links,
		now:     time.Now,
	}
}

// current evaluates the links. Any link that is not connected degrades
// the cell.
func (h *healthReporter) current() HealthMessage {
	msg := h.message(HealthHealthy, "")
	for _, s := range msg.Links {
		if s.Status != connection.StatusConnected {
			msg.Status = HealthDegraded
			msg.Reason = fmt.Sprintf("%s %s", s.Name, s.Status)
			break
		}
	}
	return msg
}

func (h *healthReporter) message(status HealthStatus, reason string) HealthMessage {
	now := h.now()
	links := make([]connection.Stats, 0, len(h.links))
	for _, l := range h.links {
		links = append(links, l.Stats())
	}
	return HealthMessage{
		CellID:    h.cellID,
		Status:    status,
		Reason:    reason,
		Version:   h.version,
		UptimeS:   int64(now.Sub(h.started) / time.Second),
		Links:     links,
		Timestamp: now.UTC(),
	}
}

func encodeHealth(msg HealthMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding health: %w", err)
	}
	return data, nil
}
