// Package sink mirrors audit entries to external systems.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	audit "gatehouse/pkg/platform/audit"
)

// Producer publishes one keyed record.
type Producer interface {
	Publish(ctx context.Context, key, value []byte) error
}

// KafkaSink writes entries as JSON records keyed by the entity id, so every
// change to one record lands on the same partition.
type KafkaSink struct {
	producer Producer
}

func NewKafkaSink(producer Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

type record struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  string          `json:"entityId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	ActorID   string          `json:"actorId,omitempty"`
	IP        string          `json:"ip,omitempty"`
	UserAgent string          `json:"userAgent,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

func (s *KafkaSink) Write(ctx context.Context, e audit.Entry) error {
	rec := record{
		ID:        e.ID.String(),
		Action:    string(e.Action),
		Entity:    e.Entity,
		EntityID:  e.EntityID,
		Data:      e.Data,
		IP:        e.IP,
		UserAgent: e.UserAgent,
		RequestID: e.RequestID,
		CreatedAt: e.CreatedAt.UTC(),
	}
	if e.ActorID != nil {
		rec.ActorID = e.ActorID.String()
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	key := e.EntityID
	if key == "" {
		key = rec.ID
	}
	if err := s.producer.Publish(ctx, []byte(key), value); err != nil {
		return fmt.Errorf("publish audit record: %w", err)
	}
	return nil
}
