package domain

import (
	"time"

	"github.com/google/uuid"
)

type Provider string

const (
	MailProviderGmail Provider = "google" // DB enum: google
)

// MailboxConnection represents one user's linked mailbox. The sync cursor is
// the only mutable shared state per connection: it is advanced by history sync
// after message IDs have been handed off to the queue, and never rewound
// except on explicit resync.
type MailboxConnection struct {
	ID           int64     `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	Provider     Provider  `json:"provider"`
	AccountEmail string    `json:"account_email"` // OAuth account email

	// Sync state
	HistoryCursor string   `json:"history_cursor"`
	LabelFilters  []string `json:"label_filters,omitempty"` // defaults to INBOX

	// OAuth tokens
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenExpiry  *time.Time `json:"token_expiry,omitempty"`

	// Push watch state
	WatchExpiresAt *time.Time `json:"watch_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Labels returns the configured label filters, defaulting to INBOX.
func (c *MailboxConnection) Labels() []string {
	if len(c.LabelFilters) == 0 {
		return []string{"INBOX"}
	}
	return c.LabelFilters
}
