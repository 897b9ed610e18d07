package detect

import (
	"context"
	"log/slog"

	"github.com/lightnvr/lightnvr/internal/models"
)

// EventPublisher is the external telemetry/MQTT collaborator detections
// are handed to; publication is best-effort and must never block the
// packet bus or the trigger controller.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// LoggingPublisher is the core's default EventPublisher: it logs at
// debug and never returns an error, satisfying "fire-and-forget, errors
// logged" without requiring a real MQTT/telemetry client to be wired
// for the core to function. A Supervisor that wants MQTT delivery
// injects its own EventPublisher instead.
type LoggingPublisher struct {
	logger *slog.Logger
}

// NewLoggingPublisher creates a LoggingPublisher. logger may be nil.
func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingPublisher{logger: logger}
}

// Publish logs event at debug level and always succeeds.
func (p *LoggingPublisher) Publish(_ context.Context, event models.Event) error {
	p.logger.Debug("detection event",
		slog.String("stream", event.Stream),
		slog.Int("count", len(event.Detections)),
	)
	return nil
}
