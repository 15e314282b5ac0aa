package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/citidesk/internal/config"
)

func TestNewProducerValidatesConfig(t *testing.T) {
	_, err := NewProducer(config.KafkaConfig{Topic: DefaultTopic})
	assert.ErrorIs(t, err, ErrInvalidBrokers)

	_, err = NewProducer(config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestProducerClose(t *testing.T) {
	p, err := NewProducer(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: DefaultTopic})
	assert.NoError(t, err)
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	assert.ErrorIs(t, p.Send(context.Background(), "", []byte("k"), []byte("v")), ErrProducerClosed)
}

func TestTopicFor(t *testing.T) {
	cfg := TopicFor(DefaultTopic)
	assert.Equal(t, 6, cfg.Partitions)

	custom := TopicFor("citidesk.staging.events")
	assert.Equal(t, "citidesk.staging.events", custom.Name)
	assert.Equal(t, cfg.Partitions, custom.Partitions)

	spec := topicSpec(cfg)
	assert.Equal(t, DefaultTopic, spec.Topic)
	assert.Equal(t, "604800000", spec.ConfigEntries[0].ConfigValue)
}

func TestTopicManagerRequiresBrokers(t *testing.T) {
	tm := NewTopicManager(nil, nil)
	assert.ErrorIs(t, tm.CreateTopics(DefaultTopic), ErrInvalidBrokers)
	assert.ErrorIs(t, tm.Ping(), ErrInvalidBrokers)
}
