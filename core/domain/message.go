package domain

import (
	"time"

	"github.com/google/uuid"
)

// RawMessage is an ingested mail record. Created once per external id per
// user; re-syncs upsert into the same row instead of duplicating it.
type RawMessage struct {
	ID           int64     `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	ConnectionID int64     `json:"connection_id"`
	ExternalID   string    `json:"external_id"` // provider message id, immutable
	ThreadID     string    `json:"thread_id"`

	Subject   string  `json:"subject"`
	FromEmail string  `json:"from_email"`
	FromName  *string `json:"from_name,omitempty"`
	Snippet   string  `json:"snippet"`

	InternalDateMs int64 `json:"internal_date_ms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizedMessage is the fetch-and-parse output handed to classification.
// Body may be empty when the two-phase fetch decided a metadata-only fetch
// was sufficient (obvious bulk mail with no lead vocabulary).
type NormalizedMessage struct {
	ExternalID     string            `json:"external_id"`
	ThreadID       string            `json:"thread_id"`
	Subject        string            `json:"subject"`
	Body           string            `json:"body"`
	Headers        map[string]string `json:"headers"`
	FromEmail      string            `json:"from_email"`
	FromName       string            `json:"from_name,omitempty"`
	Snippet        string            `json:"snippet"`
	InternalDateMs int64             `json:"internal_date_ms"`
}

// ReceivedAt converts the provider's internal date to a time.Time.
func (m *NormalizedMessage) ReceivedAt() time.Time {
	return time.UnixMilli(m.InternalDateMs)
}
