package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"vitals-service/internal/logger"
	"vitals-service/internal/models"
)

const sampleIDHeader = "sample-id"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards every ingested sample to a topic, keyed by page URL
// so readings for one page stay on one partition. Writes are asynchronous;
// delivery failures are reported through the logger.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka publisher requires a topic")
	}
	if log == nil {
		log = logger.Discard()
	}
	p := &KafkaPublisher{topic: topic, log: log.With("component", "kafka_publisher", "topic", topic)}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion:             p.completion,
	}
	return p, nil
}

// completion runs once per delivered or failed batch.
func (p *KafkaPublisher) completion(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		for _, h := range m.Headers {
			if h.Key == sampleIDHeader {
				ids = append(ids, string(h.Value))
			}
		}
	}
	p.log.Error("kafka delivery failed", "samples", ids, "error", err)
}

func (p *KafkaPublisher) Publish(ctx context.Context, sample models.Sample) error {
	msg, err := encode(sample)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish sample %s to %s: %w", sample.ID, p.topic, err)
	}
	return nil
}

func encode(sample models.Sample) (kafka.Message, error) {
	value, err := json.Marshal(sample)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal sample: %w", err)
	}
	return kafka.Message{
		Key:   []byte(sample.URL),
		Value: value,
		Time:  time.UnixMilli(sample.Timestamp),
		Headers: []kafka.Header{
			{Key: sampleIDHeader, Value: []byte(sample.ID)},
		},
	}, nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
