// Package kafka wraps segmentio/kafka-go for the two topics the service
// uses: index build requests (consumed by the indexer) and search events
// (produced by searchd). Values are JSON.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/code-usage-search/pkg/resilience"
)

// MessageHandler is a callback invoked for each Kafka message. Returning an
// error leaves the message uncommitted.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader  *kafka.Reader
	topic   string
	retry   resilience.RetryConfig
	logger  *slog.Logger
	handler MessageHandler

	closeOnce sync.Once
	closeErr  error
}

// NewConsumer creates a Consumer for the given topic and handler. Build
// requests must not be lost, so the group starts at the first uncommitted
// offset.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})

	return &Consumer{
		reader:  r,
		topic:   topic,
		retry:   resilience.RetryConfig{MaxAttempts: 3},
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler: handler,
	}
}

// SetRetry replaces the backoff used when the handler fails.
func (c *Consumer) SetRetry(cfg resilience.RetryConfig) {
	c.retry = cfg
}

// Topic returns the topic this consumer reads.
func (c *Consumer) Topic() string {
	return c.topic
}

// Start fetches and processes messages until ctx is cancelled, then closes
// the reader. A message whose handler still fails after the retry budget is
// logged and left uncommitted.
func (c *Consumer) Start(ctx context.Context) error {
	defer c.Close()
	c.logger.Info("consumer started", "group", c.reader.Config().GroupID)
	for ctx.Err() == nil {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("failed to fetch message", "error", err)
			}
			continue
		}
		if !c.process(ctx, msg) {
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
	c.logger.Info("consumer stopping", "reason", ctx.Err())
	return nil
}

// process runs the handler under the retry policy and reports whether the
// message may be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)
	log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

	retry := c.retry
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn("handler failed, retrying", "attempt", attempt, "next_delay", delay, "error", err)
	}
	err := resilience.Retry(ctx, "handle "+c.topic, retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
	if err != nil {
		log.Error("failed to process message", "error", err)
		return false
	}
	return true
}

// Close closes the underlying reader. Calling it more than once is safe.
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.reader.Close() })
	return c.closeErr
}

// DecodeJSON unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
