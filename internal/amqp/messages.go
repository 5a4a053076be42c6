package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"fintrack/internal/core"
)

// ChangeMessage carries a transaction change event to the budget worker.
// Both snapshots travel in the message so the consumer never reads the
// transaction back from storage.
type ChangeMessage struct {
	EventID    string            `json:"eventId"`
	UserID     string            `json:"userId"`
	Before     *core.Transaction `json:"before,omitempty"`
	After      *core.Transaction `json:"after,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewChangeMessage wraps a change event for publishing
func NewChangeMessage(ev core.ChangeEvent) *ChangeMessage {
	return &ChangeMessage{
		EventID:    ev.ID,
		UserID:     ev.UserID,
		Before:     ev.Before,
		After:      ev.After,
		OccurredAt: ev.OccurredAt,
		Timestamp:  time.Now(),
	}
}

// Event converts the message back into a change event
func (m *ChangeMessage) Event() core.ChangeEvent {
	return core.ChangeEvent{
		ID:         m.EventID,
		UserID:     m.UserID,
		Before:     m.Before,
		After:      m.After,
		OccurredAt: m.OccurredAt,
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON decodes a message and rejects ones without snapshots
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Before == nil && msg.After == nil {
		return nil, errors.New("change message has neither before nor after snapshot")
	}
	return &msg, nil
}
