package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig selects the brokers and topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one message per record, keyed by satellite/station pair so
// a pair's passes stay ordered within a partition.
type Kafka struct {
	topic  string
	writer kafkaMessageWriter
}

// NewKafka builds a hash-balanced writer that waits for all in-sync replicas.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka sink: topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: at least one broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
		BatchTimeout:           50 * time.Millisecond,
	}
	return newKafkaWithWriter(cfg.Topic, w), nil
}

func newKafkaWithWriter(topic string, w kafkaMessageWriter) *Kafka {
	return &Kafka{topic: topic, writer: w}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Publish(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		b, err := r.encode()
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.Key()),
			Value: b,
			Headers: []kafka.Header{
				{Key: "content-type", Value: []byte("application/json")},
			},
		})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write %s: %w", k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.writer.Close() }
