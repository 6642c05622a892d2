package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ArbDiscovered is emitted once when the sweep registers a new relationship.
type ArbDiscovered struct {
	ArbID          string    `json:"arb_id"`
	Type           string    `json:"type"`
	ConversionType string    `json:"conversion_type"`
	Asset          string    `json:"asset"`
	Origin         string    `json:"origin"`
	Destination    string    `json:"destination"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}

// SweepCompleted summarizes one discovery pass.
type SweepCompleted struct {
	Assets     int           `json:"assets"`
	Candidates int           `json:"candidates"`
	Registered int           `json:"registered"`
	TotalArbs  int           `json:"total_arbs"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Envelope is the canonical event envelope.
// All messages published to NATS follow this format.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// CatalogRefreshed reports one reload of the reference catalog.
type CatalogRefreshed struct {
	Seeded     int           `json:"seeded"`
	Blocked    int           `json:"blocked"`
	Invalid    int           `json:"invalid"`
	Duration   time.Duration `json:"duration"`
	FinishedAt time.Time     `json:"finished_at"`
}
