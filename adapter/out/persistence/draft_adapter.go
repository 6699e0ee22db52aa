package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

// draftEntity is the drafts row.
type draftEntity struct {
	ID           int64      `db:"id"`
	UserID       uuid.UUID  `db:"user_id"`
	LeadID       int64      `db:"lead_id"`
	ThreadID     string     `db:"thread_id"`
	ToEmail      string     `db:"to_email"`
	Subject      string     `db:"subject"`
	Body         string     `db:"body"`
	Status       string     `db:"status"`
	SnoozedUntil *time.Time `db:"snoozed_until"`
	SentAt       *time.Time `db:"sent_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func (e *draftEntity) toDomain() *domain.Draft {
	return &domain.Draft{
		ID:           e.ID,
		UserID:       e.UserID,
		LeadID:       e.LeadID,
		ThreadID:     e.ThreadID,
		ToEmail:      e.ToEmail,
		Subject:      e.Subject,
		Body:         e.Body,
		Status:       domain.DraftStatus(e.Status),
		SnoozedUntil: e.SnoozedUntil,
		SentAt:       e.SentAt,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

const draftColumns = `
	id, user_id, lead_id, thread_id, to_email, subject, body, status,
	snoozed_until, sent_at, created_at, updated_at`

// DraftAdapter implements out.DraftRepository using PostgreSQL.
type DraftAdapter struct {
	db *sqlx.DB
}

// NewDraftAdapter creates a new DraftAdapter.
func NewDraftAdapter(db *sqlx.DB) *DraftAdapter {
	return &DraftAdapter{db: db}
}

// UpsertOpen updates the open (queued/snoozed) draft for the lead/thread when
// one exists, otherwise inserts a new queued draft. Sent and dismissed drafts
// are never overwritten.
func (a *DraftAdapter) UpsertOpen(ctx context.Context, draft *domain.Draft) (*domain.Draft, error) {
	var entity draftEntity

	update := `
		UPDATE drafts
		SET to_email = $1, subject = $2, body = $3, updated_at = now()
		WHERE lead_id = $4 AND thread_id = $5 AND status IN ('queued', 'snoozed')
		RETURNING` + draftColumns

	err := a.db.GetContext(ctx, &entity, update,
		draft.ToEmail, draft.Subject, draft.Body, draft.LeadID, draft.ThreadID,
	)
	if err == nil {
		return entity.toDomain(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	insert := `
		INSERT INTO drafts (user_id, lead_id, thread_id, to_email, subject,
		                    body, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'queued', now(), now())
		RETURNING` + draftColumns

	if err := a.db.GetContext(ctx, &entity, insert,
		draft.UserID, draft.LeadID, draft.ThreadID, draft.ToEmail,
		draft.Subject, draft.Body,
	); err != nil {
		return nil, err
	}
	return entity.toDomain(), nil
}

// GetByID returns a draft by ID, nil when absent.
func (a *DraftAdapter) GetByID(ctx context.Context, id int64) (*domain.Draft, error) {
	var entity draftEntity
	query := `SELECT` + draftColumns + ` FROM drafts WHERE id = $1`

	if err := a.db.GetContext(ctx, &entity, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// GetOpenByLead returns the open draft for a lead/thread, nil when absent.
func (a *DraftAdapter) GetOpenByLead(ctx context.Context, leadID int64, threadID string) (*domain.Draft, error) {
	var entity draftEntity
	query := `
		SELECT` + draftColumns + `
		FROM drafts
		WHERE lead_id = $1 AND thread_id = $2 AND status IN ('queued', 'snoozed')
		LIMIT 1`

	if err := a.db.GetContext(ctx, &entity, query, leadID, threadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// MarkSent closes the draft and stamps the send time.
func (a *DraftAdapter) MarkSent(ctx context.Context, id int64) error {
	query := `UPDATE drafts SET status = 'sent', sent_at = now(), updated_at = now() WHERE id = $1`
	_, err := a.db.ExecContext(ctx, query, id)
	return err
}

// Ensure DraftAdapter implements out.DraftRepository
var _ out.DraftRepository = (*DraftAdapter)(nil)
