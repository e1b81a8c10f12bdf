package audit

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes audit and workflow events to a Kafka topic in addition
// to, or instead of, database storage. Messages are keyed by entity id so
// per-referral ordering is preserved within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (s *KafkaSink) AppendEvent(ctx context.Context, e *Event) error {
	payload, err := json.Marshal(struct {
		Kind string `json:"kind"`
		*Event
	}{Kind: "audit", Event: e})
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.EntityID.String()),
		Value: payload,
	})
}

func (s *KafkaSink) AppendWorkflowEvent(ctx context.Context, e *WorkflowEvent) error {
	payload, err := json.Marshal(struct {
		Kind string `json:"kind"`
		*WorkflowEvent
	}{Kind: "workflow", WorkflowEvent: e})
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ReferralID.String()),
		Value: payload,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// MultiSink fans events out to several sinks, returning the first error.
type MultiSink []Sink

func (m MultiSink) AppendEvent(ctx context.Context, e *Event) error {
	for _, s := range m {
		if err := s.AppendEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) AppendWorkflowEvent(ctx context.Context, e *WorkflowEvent) error {
	for _, s := range m {
		if err := s.AppendWorkflowEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
