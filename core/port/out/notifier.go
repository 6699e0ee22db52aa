package out

import (
	"context"

	"github.com/google/uuid"
)

// LeadAlert is the payload delivered to the user's notification channel.
type LeadAlert struct {
	UserID    uuid.UUID `json:"user_id"`
	LeadID    int64     `json:"lead_id"`
	Subject   string    `json:"subject"`
	FromEmail string    `json:"from_email"`
	FromName  string    `json:"from_name,omitempty"`
	Score     int       `json:"score"`
	Status    string    `json:"status"`
	Reasons   []string  `json:"reasons,omitempty"`
	Snippet   string    `json:"snippet,omitempty"`
}

// NotifierPort sends fire-and-forget lead alerts.
type NotifierPort interface {
	SendAlert(ctx context.Context, alert *LeadAlert) error
}
