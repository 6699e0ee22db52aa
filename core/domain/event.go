package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventIngest       EventType = "ingest"
	EventClassify     EventType = "classify"
	EventDraftCreated EventType = "draft_created"
	EventNotify       EventType = "notify"
	EventDraftSent    EventType = "draft_sent"
)

// PipelineEvent is one row in the append-only audit trail. The pipeline only
// ever writes events; it never updates or deletes them.
type PipelineEvent struct {
	ID        int64          `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Type      EventType      `json:"type"`
	RefID     string         `json:"ref_id"` // external message id, lead id, or draft id
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
