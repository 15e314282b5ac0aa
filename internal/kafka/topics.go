package kafka

import (
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// TopicConfig defines Kafka topic configuration
type TopicConfig struct {
	Name              string
	Partitions        int
	ReplicationFactor int
	RetentionMs       int64
	CleanupPolicy     string
	KeyField          string
}

// DefaultTopic carries every ticket lifecycle event.
const DefaultTopic = "ticket.events"

// Topics defines the topics citidesk publishes to
var Topics = map[string]TopicConfig{
	DefaultTopic: {
		Name:              DefaultTopic,
		Partitions:        6,
		ReplicationFactor: 3,
		RetentionMs:       604800000, // 7 days
		CleanupPolicy:     "delete",
		KeyField:          "ticket_id",
	},
}

// TopicFor returns the configuration for name, deriving one from the
// default topic when name is not predeclared.
func TopicFor(name string) TopicConfig {
	if cfg, ok := Topics[name]; ok {
		return cfg
	}
	cfg := Topics[DefaultTopic]
	cfg.Name = name
	return cfg
}

// TopicManager handles Kafka topic creation
type TopicManager struct {
	brokers []string
	logger  *slog.Logger
}

func NewTopicManager(brokers []string, logger *slog.Logger) *TopicManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TopicManager{
		brokers: brokers,
		logger:  logger,
	}
}

// CreateTopics creates the named topics through the cluster controller.
// Topics that already exist are logged and skipped.
func (tm *TopicManager) CreateTopics(names ...string) error {
	if len(tm.brokers) == 0 {
		return ErrInvalidBrokers
	}

	conn, err := kafka.Dial("tcp", tm.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to connect to controller: %w", err)
	}
	defer controllerConn.Close()

	sort.Strings(names)
	for _, name := range names {
		if err := controllerConn.CreateTopics(topicSpec(TopicFor(name))); err != nil {
			tm.logger.Warn("failed to create topic", "topic", name, "error", err)
			continue
		}
		tm.logger.Info("created topic", "topic", name)
	}

	return nil
}

func topicSpec(cfg TopicConfig) kafka.TopicConfig {
	return kafka.TopicConfig{
		Topic:             cfg.Name,
		NumPartitions:     cfg.Partitions,
		ReplicationFactor: cfg.ReplicationFactor,
		ConfigEntries: []kafka.ConfigEntry{
			{
				ConfigName:  "retention.ms",
				ConfigValue: strconv.FormatInt(cfg.RetentionMs, 10),
			},
			{
				ConfigName:  "cleanup.policy",
				ConfigValue: cfg.CleanupPolicy,
			},
		},
	}
}

// Ping checks that the first broker accepts connections.
func (tm *TopicManager) Ping() error {
	if len(tm.brokers) == 0 {
		return ErrInvalidBrokers
	}
	conn, err := kafka.Dial("tcp", tm.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to Kafka broker: %w", err)
	}
	return conn.Close()
}
