package core

import "time"

// ChangeKind classifies a ChangeEvent by which snapshots are present.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
	ChangeNone   ChangeKind = "none"
)

// ChangeEvent is the before/after pair emitted for every transaction write.
type ChangeEvent struct {
	ID         string       `json:"id"`
	UserID     string       `json:"userId"`
	Before     *Transaction `json:"before,omitempty"`
	After      *Transaction `json:"after,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}

func (e ChangeEvent) Kind() ChangeKind {
	switch {
	case e.Before == nil && e.After != nil:
		return ChangeCreate
	case e.Before != nil && e.After != nil:
		return ChangeUpdate
	case e.Before != nil && e.After == nil:
		return ChangeDelete
	default:
		return ChangeNone
	}
}

// TransactionID returns the id of whichever snapshot is present.
func (e ChangeEvent) TransactionID() string {
	if e.After != nil {
		return e.After.ID
	}
	if e.Before != nil {
		return e.Before.ID
	}
	return ""
}

// OutboxEntry is a ChangeEvent waiting to be relayed to the aggregator.
type OutboxEntry struct {
	ID        string
	Event     ChangeEvent
	Attempts  int
	LastError string
	CreatedAt time.Time
}
