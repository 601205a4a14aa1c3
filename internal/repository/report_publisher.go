package repository

import (
	"context"
	"fmt"

	"MacroPulse/internal/domain/models"
	domrepo "MacroPulse/internal/domain/repository"
)

// Producer is the subset of the Kafka producer the publisher needs.
type Producer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaReportPublisher publishes cycle reports as JSON, keyed by cycle id.
type KafkaReportPublisher struct {
	producer Producer
	topic    string
}

var _ domrepo.ReportPublisher = (*KafkaReportPublisher)(nil)

// NewKafkaReportPublisher creates a publisher writing to topic.
func NewKafkaReportPublisher(producer Producer, topic string) *KafkaReportPublisher {
	return &KafkaReportPublisher{producer: producer, topic: topic}
}

func (p *KafkaReportPublisher) PublishReport(ctx context.Context, r *models.CycleReport) error {
	if r == nil {
		return fmt.Errorf("report nil")
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(r.ID), r); err != nil {
		return fmt.Errorf("publish report %s: %w", r.ID, err)
	}
	return nil
}

// Close closes the underlying producer.
func (p *KafkaReportPublisher) Close() error {
	return p.producer.Close()
}
