package notify

import (
	"context"
	"log/slog"

	"github.com/citidesk/pkg/models"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(ctx context.Context, ev models.Event) error {
	attrs := []any{"event_id", ev.ID, "kind", ev.Kind}
	if ev.Ticket != nil {
		attrs = append(attrs, "ticket_id", ev.Ticket.ID, "status", ev.Ticket.Status)
	}
	if ev.Agent != nil {
		attrs = append(attrs, "agent_id", ev.Agent.ID)
	}
	s.logger.InfoContext(ctx, "ticket event", attrs...)
	return nil
}
