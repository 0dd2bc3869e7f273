package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	kafka_infra "ledger/internal/infrastructure/kafka"
)

// KafkaReporter publishes run reports as JSON keyed by run id.
type KafkaReporter struct {
	producer kafka_infra.Producer
	topic    string
}

func NewKafkaReporter(producer kafka_infra.Producer, topic string) *KafkaReporter {
	return &KafkaReporter{producer: producer, topic: topic}
}

func (r *KafkaReporter) Report(ctx context.Context, report *Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal reconciliation report: %w", err)
	}
	if err := r.producer.Produce(ctx, report.RunID, r.topic, payload); err != nil {
		return fmt.Errorf("failed to publish reconciliation report %s: %w", report.RunID, err)
	}
	return nil
}
