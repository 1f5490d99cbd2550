package events

import (
	"context"
	"log/slog"
)

// Ensure LogPublisher implements Publisher.
var _ Publisher = (*LogPublisher)(nil)

// LogPublisher writes events to the structured log. Used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "ride event",
		"event_id", event.ID,
		"type", event.Type,
		"ride_key", event.RideKey,
		"recipient", event.Recipient,
		"title", event.Title,
		"message", event.Message,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
