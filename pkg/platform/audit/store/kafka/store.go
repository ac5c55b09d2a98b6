// Package kafka publishes compliance audit events to a Kafka topic.
//
// Produce is synchronous: Append returns only after the broker acknowledged
// the record, which keeps the compliance publisher fail-closed without a
// background outbox worker.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "consentvault/pkg/platform/audit"
)

// payload is the JSON value written to the topic.
type payload struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Subject   string            `json:"subject"`
	Timestamp string            `json:"timestamp"`
	RequestID string            `json:"request_id,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Store implements audit.Store over a franz-go client.
type Store struct {
	client *kgo.Client
	topic  string
}

// New wraps an existing client. The client lifecycle stays with the caller.
func New(client *kgo.Client, topic string) *Store {
	return &Store{client: client, topic: topic}
}

// Append produces one record keyed by action so events of a kind stay ordered
// within a partition.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(payload{
		ID:        event.ID.String(),
		Action:    string(event.Action),
		Subject:   event.Subject,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		RequestID: event.RequestID,
		Detail:    event.Detail,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.Action),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// EnsureTopic creates the audit topic when it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}
