// Package alerts fans stored emergency reports out to a message broker so
// on-call responders can react without watching the dashboard.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/nicktill/campuspulse/pkg/logging"
	"github.com/nicktill/campuspulse/pkg/metrics"
	"github.com/nicktill/campuspulse/pkg/records"
)

// Publisher delivers emergency reports.
type Publisher interface {
	Publish(ctx context.Context, r records.EmergencyReport) error
	Close() error
}

// Nop drops every report.
type Nop struct{}

func (Nop) Publish(context.Context, records.EmergencyReport) error { return nil }
func (Nop) Close() error                                           { return nil }

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes reports as JSON, keyed by report id so every update to
// one report lands on the same partition.
type Kafka struct {
	w messageWriter
}

// NewKafka creates a synchronous writer for topic.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
		Async:        false,
	}}
}

// Message is the published payload.
type Message struct {
	Type   string                  `json:"type"`
	Report records.EmergencyReport `json:"report"`
}

// Publish writes one message.
func (k *Kafka) Publish(ctx context.Context, r records.EmergencyReport) error {
	payload, err := json.Marshal(Message{Type: "emergency", Report: r})
	if err != nil {
		return err
	}
	err = k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.ID),
		Value: payload,
		Time:  r.Timestamp,
	})
	if err != nil {
		metrics.AlertsPublished.WithLabelValues("error").Inc()
		logging.Warn().Err(err).Str("report_id", r.ID).Msg("failed to publish emergency alert")
		return fmt.Errorf("failed to publish alert %s: %w", r.ID, err)
	}
	metrics.AlertsPublished.WithLabelValues("ok").Inc()
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}
