// Package kafkatransport publishes step messages to a Kafka topic.
package kafkatransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/dukex/callchain/pkg/transport"
)

var (
	ErrNoBrokers = errors.New("kafka transport requires at least one broker")
	ErrNoTopic   = errors.New("kafka transport requires a topic")
)

type Config struct {
	Name    string   `json:"name"    validate:"required"`
	Brokers []string `json:"brokers" validate:"required,min=1"`
	Topic   string   `json:"topic"   validate:"required"`
}

// Transport is fire-and-forget: the reply only reports where the message landed.
// A "key" message property becomes the record key.
type Transport struct {
	name     string
	topic    string
	producer sarama.SyncProducer
	logger   *slog.Logger
}

func New(config Config, logger *slog.Logger) (*Transport, error) {
	if len(config.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewWithProducer(config.Name, config.Topic, producer, logger)
}

func NewWithProducer(name, topic string, producer sarama.SyncProducer, logger *slog.Logger) (*Transport, error) {
	if topic == "" {
		return nil, ErrNoTopic
	}

	return &Transport{
		name:     name,
		topic:    topic,
		producer: producer,
		logger:   logger.With("module", "kafka_transport", "transport", name),
	}, nil
}

func (t *Transport) Name() string {
	return t.name
}

func (t *Transport) Send(ctx context.Context, msg transport.Message) (*transport.Reply, error) {
	record := &sarama.ProducerMessage{
		Topic: t.topic,
		Value: sarama.StringEncoder(msg.Body),
	}

	if key, ok := msg.Properties["key"].(string); ok && key != "" {
		record.Key = sarama.StringEncoder(key)
	}

	for key, value := range msg.Headers {
		record.Headers = append(record.Headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
	}

	partition, offset, err := t.producer.SendMessage(record)
	if err != nil {
		return nil, fmt.Errorf("failed to publish to %s: %w", t.topic, err)
	}

	t.logger.DebugContext(ctx, "Published step message", "topic", t.topic, "partition", partition, "offset", offset)

	return &transport.Reply{
		Headers: map[string]string{
			"topic":     t.topic,
			"partition": strconv.FormatInt(int64(partition), 10),
			"offset":    strconv.FormatInt(offset, 10),
		},
	}, nil
}

func (t *Transport) Close() error {
	return t.producer.Close()
}
