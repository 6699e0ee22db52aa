package out

import (
	"context"

	"github.com/google/uuid"

	"github.com/creamytech/Castra-site-sub000/core/domain"
)

// =============================================================================
// Repository Ports
// =============================================================================

// ConnectionRepository persists mailbox connections and their sync cursors.
type ConnectionRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.MailboxConnection, error)
	GetByAccountEmail(ctx context.Context, accountEmail string) (*domain.MailboxConnection, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.MailboxConnection, error)
	// UpdateCursor advances the sync cursor. Called only after new message IDs
	// have been handed off to the queue.
	UpdateCursor(ctx context.Context, id int64, cursor string) error
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string) error
}

// MessageRepository persists ingested mail metadata, keyed by
// (user, external id).
type MessageRepository interface {
	Upsert(ctx context.Context, msg *domain.RawMessage) (*domain.RawMessage, error)
	GetByExternalID(ctx context.Context, userID uuid.UUID, externalID string) (*domain.RawMessage, error)
}

// LeadRepository persists leads with upsert-by-external-id semantics. The
// (user_id, external_message_id) pair is unique at the storage layer so
// concurrent classifications of the same message converge on one row.
type LeadRepository interface {
	Upsert(ctx context.Context, lead *domain.Lead) (*domain.Lead, error)
	GetByID(ctx context.Context, id int64) (*domain.Lead, error)
	GetByExternalMessageID(ctx context.Context, userID uuid.UUID, externalMessageID string) (*domain.Lead, error)
	UpdateFields(ctx context.Context, id int64, fields domain.LeadFields) error
	UpdateStatus(ctx context.Context, id int64, status domain.LeadStatus) error
}

// DraftRepository persists reply drafts with the one-open-draft-per-lead
// invariant.
type DraftRepository interface {
	// UpsertOpen updates the open (queued/snoozed) draft for the lead/thread
	// when one exists, otherwise inserts a new queued draft.
	UpsertOpen(ctx context.Context, draft *domain.Draft) (*domain.Draft, error)
	GetByID(ctx context.Context, id int64) (*domain.Draft, error)
	GetOpenByLead(ctx context.Context, leadID int64, threadID string) (*domain.Draft, error)
	MarkSent(ctx context.Context, id int64) error
}

// SettingsRepository reads per-user pipeline policy.
type SettingsRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSettings, error)
}

// EventRepository appends to the audit trail. Write-only from the pipeline's
// perspective.
type EventRepository interface {
	Append(ctx context.Context, event *domain.PipelineEvent) error
}

// BodyRepository stores full message bodies out of the relational store.
type BodyRepository interface {
	Save(ctx context.Context, userID uuid.UUID, externalID, body string) error
	Get(ctx context.Context, userID uuid.UUID, externalID string) (string, error)
}
