package events

import (
	"context"
	"log/slog"
)

// AuditLogger returns a handler that writes security events to the log.
func AuditLogger(logger *slog.Logger) Handler {
	return func(ctx context.Context, event Event) error {
		logger.WarnContext(ctx, "security event",
			"event_type", event.EventType(),
			"event_id", event.EventID(),
			"occurred_at", event.OccurredAt(),
			"data", event.Payload())
		return nil
	}
}

// SubscribeAudit routes every security event type to the audit logger.
func SubscribeAudit(bus *EventBus, logger *slog.Logger) {
	h := AuditLogger(logger)
	for _, t := range []string{
		EventTypeRefreshReplay,
		EventTypeTokenRevoked,
		EventTypeSessionsRevoked,
		EventTypeLoginFailed,
	} {
		bus.Subscribe(t, h)
	}
}
