package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/smallbiznis/luc/internal/account/domain"
)

// publish hands events to every handler. Handlers are advisory: a panic
// in one is logged and does not affect the others or the caller.
func (m *Manager) publish(ctx context.Context, events []domain.Event) {
	for _, event := range events {
		m.metrics.RecordEvent(ctx, string(event.Type))
		for _, h := range m.handlers {
			m.dispatch(ctx, h, event)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, h domain.EventHandler, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("event handler panicked",
				zap.String("event_type", string(event.Type)),
				zap.String("user_id", event.UserID),
				zap.Any("panic", r),
			)
		}
	}()
	h.HandleEvent(ctx, event)
}

// NewLogEventHandler writes every event to the log.
func NewLogEventHandler(log *zap.Logger) domain.EventHandler {
	log = log.Named("account.events")
	return domain.EventHandlerFunc(func(_ context.Context, event domain.Event) {
		fields := []zap.Field{
			zap.String("event_type", string(event.Type)),
			zap.String("user_id", event.UserID),
			zap.String("message", event.Message),
			zap.Time("timestamp", event.Timestamp),
		}
		if event.Service != "" {
			fields = append(fields, zap.String("service", string(event.Service)))
		}
		switch event.Type {
		case domain.EventQuotaCritical, domain.EventQuotaBlocked:
			log.Warn("account event", fields...)
		default:
			log.Info("account event", fields...)
		}
	})
}
