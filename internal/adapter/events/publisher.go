// internal/adapter/events/publisher.go

// Package events publishes tracking events to NATS.
package events

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"marketfinder/internal/domain/geo"
	"marketfinder/internal/logging"
	"marketfinder/internal/metrics"
)

// PositionEvent is published on <topic>.updated
type PositionEvent struct {
	SessionID  string    `json:"sessionId"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// ErrorEvent is published on <topic>.error
type ErrorEvent struct {
	SessionID string    `json:"sessionId"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// Publisher writes position events to the event bus
type Publisher struct {
	eventBus *nats.Conn
	topic    string
	logger   zerolog.Logger
}

// NewPublisher creates a publisher rooted at topic, e.g. "marketfinder.position"
func NewPublisher(eventBus *nats.Conn, topic string) *Publisher {
	return &Publisher{
		eventBus: eventBus,
		topic:    topic,
		logger:   logging.WithComponent("event-publisher"),
	}
}

// PublishPosition publishes a position update event
func (p *Publisher) PublishPosition(sessionID string, pos geo.Position) error {
	return p.publish(fmt.Sprintf("%s.updated", p.topic), PositionEvent{
		SessionID:  sessionID,
		Latitude:   pos.Latitude,
		Longitude:  pos.Longitude,
		Accuracy:   pos.Accuracy,
		CapturedAt: pos.CapturedAt,
	})
}

// PublishError publishes a tracking failure event
func (p *Publisher) PublishError(sessionID string, err error) error {
	return p.publish(fmt.Sprintf("%s.error", p.topic), ErrorEvent{
		SessionID: sessionID,
		Error:     err.Error(),
		At:        time.Now(),
	})
}

func (p *Publisher) publish(subject string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.eventBus.Publish(subject, data); err != nil {
		metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		p.logger.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	metrics.EventsPublished.WithLabelValues(subject, "ok").Inc()
	return nil
}
