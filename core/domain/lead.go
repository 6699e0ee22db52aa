package domain

import (
	"time"

	"github.com/google/uuid"
)

type LeadStatus string

const (
	LeadStatusLead      LeadStatus = "lead"
	LeadStatusPotential LeadStatus = "potential"
	LeadStatusNoLead    LeadStatus = "no_lead"
	LeadStatusFollowUp  LeadStatus = "follow_up"
)

type SourceType string

const (
	SourceTypeBuyer   SourceType = "buyer"
	SourceTypeSeller  SourceType = "seller"
	SourceTypeRenter  SourceType = "renter"
	SourceTypeVendor  SourceType = "vendor"
	SourceTypeUnknown SourceType = "unknown"
)

// ParseSourceType maps free-text model output onto the source-type enum.
func ParseSourceType(s string) SourceType {
	switch SourceType(s) {
	case SourceTypeBuyer, SourceTypeSeller, SourceTypeRenter, SourceTypeVendor:
		return SourceType(s)
	default:
		return SourceTypeUnknown
	}
}

// LeadFields holds entities extracted from the message, plus the proposed
// meeting slots attached later by schedule preparation.
type LeadFields struct {
	Name       string     `json:"name,omitempty"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Address    string     `json:"address,omitempty"`
	MLSID      string     `json:"mlsId,omitempty"`
	Price      string     `json:"price,omitempty"`
	Bedrooms   string     `json:"bedrooms,omitempty"`
	Baths      string     `json:"baths,omitempty"`
	Timeline   string     `json:"timeline,omitempty"`
	SourceType SourceType `json:"sourceType,omitempty"`

	ProposedSlots []ProposedSlot `json:"proposedSlots,omitempty"`
}

// ProposedSlot is a suggested meeting window derived from calendar free/busy.
type ProposedSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// MaxLeadReasons caps the stored classification justifications.
const MaxLeadReasons = 3

// Lead is the central pipeline entity: one per classified inbound message,
// unique per (user, external message id). Reclassification updates the row in
// place; the pipeline never deletes leads.
type Lead struct {
	ID                int64      `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	ExternalMessageID string     `json:"external_message_id"`
	ThreadID          string     `json:"thread_id"`
	Subject           string     `json:"subject"`
	Snippet           string     `json:"snippet"`
	FromEmail         string     `json:"from_email"`
	FromName          *string    `json:"from_name,omitempty"`
	Fields            LeadFields `json:"fields"`
	Reasons           []string   `json:"reasons"`
	Score             int        `json:"score"`
	Status            LeadStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CapReasons trims the reason list to MaxLeadReasons, keeping insertion order.
func CapReasons(reasons []string) []string {
	out := make([]string, 0, MaxLeadReasons)
	for _, r := range reasons {
		if r == "" {
			continue
		}
		out = append(out, r)
		if len(out) == MaxLeadReasons {
			break
		}
	}
	return out
}
