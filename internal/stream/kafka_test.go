package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/segmentio/kafka-go"

	"vitals-service/internal/logger"
	"vitals-service/internal/models"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "web-vitals", nil); err == nil {
		t.Fatal("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, "", nil); err == nil {
		t.Fatal("expected error without topic")
	}
	p, err := NewKafkaPublisher([]string{"localhost:9092"}, "web-vitals", nil)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	defer p.Close()
	w, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("unexpected writer %T", p.writer)
	}
	if !w.Async || w.Completion == nil {
		t.Fatal("expected an async writer with a completion callback")
	}
}

func TestPublishEncodesSample(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, topic: "web-vitals"}
	sample := models.Sample{ID: "s-1", URL: "https://example.com/a", Timestamp: 1700000000000, Score: 90}

	if err := p.Publish(context.Background(), sample); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(w.messages))
	}
	msg := w.messages[0]
	if string(msg.Key) != sample.URL {
		t.Fatalf("unexpected key %s", msg.Key)
	}
	if msg.Time.UnixMilli() != sample.Timestamp {
		t.Fatalf("unexpected time %v", msg.Time)
	}
	var decoded models.Sample
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded != sample {
		t.Fatalf("decoded %+v, want %+v", decoded, sample)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "s-1" {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatal("expected writer to be closed")
	}
}

func TestPublishWrapsError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &recordingWriter{err: boom}, topic: "web-vitals"}
	err := p.Publish(context.Background(), models.Sample{ID: "s-2"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestCompletionLogsFailedSamples(t *testing.T) {
	var buf bytes.Buffer
	p := &KafkaPublisher{topic: "web-vitals", log: logger.NewWithWriter(&buf, "test", slog.LevelInfo)}

	ok, _ := encode(models.Sample{ID: "delivered"})
	p.completion([]kafka.Message{ok}, nil)
	if buf.Len() != 0 {
		t.Fatalf("expected no log for a delivered batch, got %s", buf.String())
	}

	failed, _ := encode(models.Sample{ID: "s-9"})
	p.completion([]kafka.Message{failed}, errors.New("leader not available"))
	out := buf.String()
	if !strings.Contains(out, "kafka delivery failed") || !strings.Contains(out, "s-9") {
		t.Fatalf("unexpected log output %s", out)
	}
}
