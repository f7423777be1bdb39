// Package events fans ingest reports out to Kafka and live websocket clients.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// IngestEvent is emitted after every ingest that reached the store.
type IngestEvent struct {
	BatchID    string    `json:"batch_id"`
	Source     string    `json:"source,omitempty"`
	Total      int       `json:"total"`
	Inserted   int       `json:"inserted"`
	Duplicates int       `json:"duplicates"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev IngestEvent) error
}

// Multi publishes to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev IngestEvent) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Kafka struct {
	writer kafkaMessageWriter
}

// NewKafka creates a synchronous writer. brokers is a comma-separated host:port list.
func NewKafka(brokers, topic string) *Kafka {
	var addrs []string
	for _, a := range strings.Split(brokers, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

// NewKafkaWith is only for tests to inject a fake writer.
func NewKafkaWith(w kafkaMessageWriter) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) Publish(ctx context.Context, ev IngestEvent) error {
	b, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("marshal ingest event: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.BatchID), Value: b}); err != nil {
		return fmt.Errorf("publish ingest event %s: %w", ev.BatchID, err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.writer.Close() }
