package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

// leadEntity is the leads row. Fields is a JSONB column.
type leadEntity struct {
	ID                int64          `db:"id"`
	UserID            uuid.UUID      `db:"user_id"`
	ExternalMessageID string         `db:"external_message_id"`
	ThreadID          string         `db:"thread_id"`
	Subject           string         `db:"subject"`
	Snippet           string         `db:"snippet"`
	FromEmail         string         `db:"from_email"`
	FromName          *string        `db:"from_name"`
	Fields            []byte         `db:"fields"`
	Reasons           pq.StringArray `db:"reasons"`
	Score             int            `db:"score"`
	Status            string         `db:"status"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (e *leadEntity) toDomain() (*domain.Lead, error) {
	lead := &domain.Lead{
		ID:                e.ID,
		UserID:            e.UserID,
		ExternalMessageID: e.ExternalMessageID,
		ThreadID:          e.ThreadID,
		Subject:           e.Subject,
		Snippet:           e.Snippet,
		FromEmail:         e.FromEmail,
		FromName:          e.FromName,
		Reasons:           e.Reasons,
		Score:             e.Score,
		Status:            domain.LeadStatus(e.Status),
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
	if len(e.Fields) > 0 {
		if err := json.Unmarshal(e.Fields, &lead.Fields); err != nil {
			return nil, err
		}
	}
	return lead, nil
}

const leadColumns = `
	id, user_id, external_message_id, thread_id, subject, snippet,
	from_email, from_name, fields, reasons, score, status,
	created_at, updated_at`

// LeadAdapter implements out.LeadRepository using PostgreSQL.
type LeadAdapter struct {
	db *sqlx.DB
}

// NewLeadAdapter creates a new LeadAdapter.
func NewLeadAdapter(db *sqlx.DB) *LeadAdapter {
	return &LeadAdapter{db: db}
}

// Upsert inserts the lead or reclassifies the existing
// (user_id, external_message_id) row in place. The unique constraint makes
// concurrent classifications of the same message converge on one row.
func (a *LeadAdapter) Upsert(ctx context.Context, lead *domain.Lead) (*domain.Lead, error) {
	fields, err := json.Marshal(lead.Fields)
	if err != nil {
		return nil, err
	}

	var entity leadEntity
	query := `
		INSERT INTO leads (user_id, external_message_id, thread_id, subject,
		                   snippet, from_email, from_name, fields, reasons,
		                   score, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (user_id, external_message_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			subject = EXCLUDED.subject,
			snippet = EXCLUDED.snippet,
			from_email = EXCLUDED.from_email,
			from_name = EXCLUDED.from_name,
			fields = EXCLUDED.fields,
			reasons = EXCLUDED.reasons,
			score = EXCLUDED.score,
			status = EXCLUDED.status,
			updated_at = now()
		RETURNING` + leadColumns

	if err := a.db.GetContext(ctx, &entity, query,
		lead.UserID,
		lead.ExternalMessageID,
		lead.ThreadID,
		lead.Subject,
		lead.Snippet,
		lead.FromEmail,
		lead.FromName,
		fields,
		pq.StringArray(domain.CapReasons(lead.Reasons)),
		lead.Score,
		string(lead.Status),
	); err != nil {
		return nil, err
	}
	return entity.toDomain()
}

// GetByID returns a lead by ID, nil when absent.
func (a *LeadAdapter) GetByID(ctx context.Context, id int64) (*domain.Lead, error) {
	var entity leadEntity
	query := `SELECT` + leadColumns + ` FROM leads WHERE id = $1`

	if err := a.db.GetContext(ctx, &entity, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain()
}

// GetByExternalMessageID returns the lead for a message, nil when absent.
func (a *LeadAdapter) GetByExternalMessageID(ctx context.Context, userID uuid.UUID, externalMessageID string) (*domain.Lead, error) {
	var entity leadEntity
	query := `SELECT` + leadColumns + ` FROM leads WHERE user_id = $1 AND external_message_id = $2`

	if err := a.db.GetContext(ctx, &entity, query, userID, externalMessageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain()
}

// UpdateFields replaces the extracted fields blob (used when schedule
// preparation attaches proposed slots).
func (a *LeadAdapter) UpdateFields(ctx context.Context, id int64, fields domain.LeadFields) error {
	blob, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	query := `UPDATE leads SET fields = $1, updated_at = now() WHERE id = $2`
	_, err = a.db.ExecContext(ctx, query, blob, id)
	return err
}

// UpdateStatus moves a lead between pipeline statuses.
func (a *LeadAdapter) UpdateStatus(ctx context.Context, id int64, status domain.LeadStatus) error {
	query := `UPDATE leads SET status = $1, updated_at = now() WHERE id = $2`
	_, err := a.db.ExecContext(ctx, query, string(status), id)
	return err
}

// Ensure LeadAdapter implements out.LeadRepository
var _ out.LeadRepository = (*LeadAdapter)(nil)
