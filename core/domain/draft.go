package domain

import (
	"time"

	"github.com/google/uuid"
)

type DraftStatus string

const (
	DraftStatusQueued    DraftStatus = "queued"
	DraftStatusSnoozed   DraftStatus = "snoozed"
	DraftStatusApproved  DraftStatus = "approved"
	DraftStatusSent      DraftStatus = "sent"
	DraftStatusDismissed DraftStatus = "dismissed"
)

// Draft is a proposed outbound reply tied to a lead and thread. At most one
// open draft is kept per lead/thread; re-preparation overwrites the open draft
// instead of creating a second one.
type Draft struct {
	ID       int64       `json:"id"`
	UserID   uuid.UUID   `json:"user_id"`
	LeadID   int64       `json:"lead_id"`
	ThreadID string      `json:"thread_id"`
	ToEmail  string      `json:"to_email"`
	Subject  string      `json:"subject"`
	Body     string      `json:"body"`
	Status   DraftStatus `json:"status"`

	SnoozedUntil *time.Time `json:"snoozed_until,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOpen reports whether the draft still accepts content updates.
func (d *Draft) IsOpen() bool {
	return d.Status == DraftStatusQueued || d.Status == DraftStatusSnoozed
}
