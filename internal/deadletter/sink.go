package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/nerrad567/loggergw/internal/infrastructure/config"
	"github.com/nerrad567/loggergw/internal/infrastructure/mqtt"
)

// ErrSinkUnavailable is returned when a sink cannot accept entries.
var ErrSinkUnavailable = errors.New("deadletter: sink unavailable")

const (
	// kafkaBatchTimeout caps how long the writer holds a message while it
	// waits for a batch to fill. Dead letters are rare, so batches stay small.
	kafkaBatchTimeout = 50 * time.Millisecond

	kafkaWriteTimeout = 10 * time.Second
)

// JSONPublisher is the part of the MQTT client the MQTT sink needs.
type JSONPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// MQTTSink publishes entries to <prefix>/deadletter/<vendor>.
type MQTTSink struct {
	publisher JSONPublisher
	topics    mqtt.Topics
}

// NewMQTTSink creates a sink publishing through p.
func NewMQTTSink(p JSONPublisher, topics mqtt.Topics) *MQTTSink {
	return &MQTTSink{publisher: p, topics: topics}
}

// Send publishes e. Dead letters are not retained.
func (s *MQTTSink) Send(_ context.Context, e Entry) error {
	if s.publisher == nil {
		return ErrSinkUnavailable
	}
	if err := s.publisher.PublishJSON(s.topics.DeadLetter(string(e.Vendor)), e, false); err != nil {
		return fmt.Errorf("publishing dead letter: %w", err)
	}
	return nil
}

// messageWriter is satisfied by *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes entries to a Kafka topic keyed by device UID, so every
// dead letter of one device lands on the same partition.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates a sink for the configured brokers and topic.
func NewKafkaSink(cfg config.KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka brokers and topic are required", ErrSinkUnavailable)
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: kafkaBatchTimeout,
			WriteTimeout: kafkaWriteTimeout,
		},
	}, nil
}

// Send writes e as one JSON message. ctx bounds the write.
func (s *KafkaSink) Send(ctx context.Context, e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding dead letter: %w", err)
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.DeviceUID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "vendor", Value: []byte(e.Vendor)},
		},
		Time: e.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("writing dead letter to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
