package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/citidesk/internal/kafka"
	"github.com/citidesk/pkg/models"
)

// KafkaSink publishes every event as JSON, keyed by ticket.
type KafkaSink struct {
	producer kafka.Producer
	topic    string
}

func NewKafkaSink(p kafka.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Notify(ctx context.Context, ev models.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.producer.Send(ctx, s.topic, []byte(ev.Key()), value)
}
