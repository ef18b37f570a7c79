package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/garyjia/docledger/internal/application/dispatcher"
	"github.com/garyjia/docledger/internal/domain/event"
)

// EventPublisher receives document lifecycle events
type EventPublisher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// AutoBookHandler books every accepted document as a draft journal entry
func AutoBookHandler(docs DocumentService) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		_, err := docs.CreateJournalEntry(ctx, evt.DocumentID)
		if errors.Is(err, ErrDocumentBooked) {
			return nil
		}
		return err
	}
}

// AuditHandler writes every event to the log
func AuditHandler(logger *zap.Logger) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		fields := []zap.Field{
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type.String()),
			zap.String("document_id", evt.DocumentID),
			zap.String("correlation_id", evt.CorrelationID),
		}
		for k, v := range evt.Payload {
			fields = append(fields, zap.Any(k, v))
		}
		logger.Info("Document event", fields...)
		return nil
	}
}

func (s *documentServiceImpl) publish(ctx context.Context, evt *event.Event) {
	if s.events == nil {
		return
	}
	s.events.DispatchAsync(context.WithoutCancel(ctx), evt)
}
