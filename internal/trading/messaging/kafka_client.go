package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaClient publishes order events to a single topic.
type KafkaClient struct {
	brokers []string
	topic   string
	group   string
	writer  messageWriter
	logger  *zap.Logger
	mu      sync.RWMutex
	closed  bool
}

// KafkaClientConfig contains configuration options for KafkaClient
type KafkaClientConfig struct {
	BatchSize       int
	BatchTimeout    time.Duration
	WriteTimeout    time.Duration
	RequiredAcks    int
	Compression     string
	MaxMessageBytes int
	RetryMax        int
}

// DefaultKafkaClientConfig returns low-latency settings for order events
func DefaultKafkaClientConfig() *KafkaClientConfig {
	return &KafkaClientConfig{
		BatchSize:       100,
		BatchTimeout:    5 * time.Millisecond,
		WriteTimeout:    time.Second,
		RequiredAcks:    1,
		Compression:     "snappy",
		MaxMessageBytes: 1048576,
		RetryMax:        3,
	}
}

// NewKafkaClient creates a Kafka client for topic.
func NewKafkaClient(brokers []string, topic, group string, config *KafkaClientConfig, logger *zap.Logger) *KafkaClient {
	if config == nil {
		config = DefaultKafkaClientConfig()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.CRC32Balancer{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(config.RequiredAcks),
		MaxAttempts:  config.RetryMax,
		BatchBytes:   int64(config.MaxMessageBytes),
		Async:        false,
	}

	switch config.Compression {
	case "gzip":
		writer.Compression = kafka.Gzip
	case "lz4":
		writer.Compression = kafka.Lz4
	case "zstd":
		writer.Compression = kafka.Zstd
	default:
		writer.Compression = kafka.Snappy
	}

	return newKafkaClientWithWriter(brokers, topic, group, writer, logger)
}

func newKafkaClientWithWriter(brokers []string, topic, group string, writer messageWriter, logger *zap.Logger) *KafkaClient {
	return &KafkaClient{
		brokers: brokers,
		topic:   topic,
		group:   group,
		writer:  writer,
		logger:  logger,
	}
}

// PublishEvent publishes data under key with the standard headers plus any
// extra headers.
func (c *KafkaClient) PublishEvent(ctx context.Context, key string, data []byte, headers map[string]string) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("kafka client is closed")
	}
	writer := c.writer
	c.mu.RUnlock()

	now := time.Now()
	kafkaHeaders := []kafka.Header{
		{Key: "source", Value: []byte("orderexec")},
		{Key: "timestamp", Value: []byte(now.UTC().Format(time.RFC3339Nano))},
		{Key: "group", Value: []byte(c.group)},
	}
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	message := kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: kafkaHeaders,
		Time:    now,
	}

	if err := writer.WriteMessages(ctx, message); err != nil {
		c.logger.Error("Failed to publish event to Kafka",
			zap.String("topic", c.topic),
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish event to kafka topic %s: %w", c.topic, err)
	}

	c.logger.Debug("Published event",
		zap.String("topic", c.topic),
		zap.String("key", key),
		zap.Int("data_size", len(data)),
	)
	return nil
}

// Close closes the Kafka client and releases resources.
func (c *KafkaClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.writer.Close(); err != nil {
		c.logger.Error("Error closing Kafka writer", zap.Error(err))
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	return nil
}

// IsHealthy dials the first broker and reads the topic's partitions.
func (c *KafkaClient) IsHealthy(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("kafka client is closed")
	}
	if len(c.brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", c.brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ReadPartitions(c.topic); err != nil {
		return fmt.Errorf("failed to read topic partitions: %w", err)
	}
	return nil
}
