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

// messageEntity is the messages row.
type messageEntity struct {
	ID             int64     `db:"id"`
	UserID         uuid.UUID `db:"user_id"`
	ConnectionID   int64     `db:"connection_id"`
	ExternalID     string    `db:"external_id"`
	ThreadID       string    `db:"thread_id"`
	Subject        string    `db:"subject"`
	FromEmail      string    `db:"from_email"`
	FromName       *string   `db:"from_name"`
	Snippet        string    `db:"snippet"`
	InternalDateMs int64     `db:"internal_date_ms"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (e *messageEntity) toDomain() *domain.RawMessage {
	return &domain.RawMessage{
		ID:             e.ID,
		UserID:         e.UserID,
		ConnectionID:   e.ConnectionID,
		ExternalID:     e.ExternalID,
		ThreadID:       e.ThreadID,
		Subject:        e.Subject,
		FromEmail:      e.FromEmail,
		FromName:       e.FromName,
		Snippet:        e.Snippet,
		InternalDateMs: e.InternalDateMs,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

// MessageAdapter implements out.MessageRepository using PostgreSQL.
type MessageAdapter struct {
	db *sqlx.DB
}

// NewMessageAdapter creates a new MessageAdapter.
func NewMessageAdapter(db *sqlx.DB) *MessageAdapter {
	return &MessageAdapter{db: db}
}

// Upsert inserts the message or refreshes the existing (user_id, external_id)
// row. Re-syncs of the same message converge on one row.
func (a *MessageAdapter) Upsert(ctx context.Context, msg *domain.RawMessage) (*domain.RawMessage, error) {
	var entity messageEntity
	query := `
		INSERT INTO messages (user_id, connection_id, external_id, thread_id,
		                      subject, from_email, from_name, snippet,
		                      internal_date_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (user_id, external_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			subject = EXCLUDED.subject,
			from_email = EXCLUDED.from_email,
			from_name = EXCLUDED.from_name,
			snippet = EXCLUDED.snippet,
			internal_date_ms = EXCLUDED.internal_date_ms,
			updated_at = now()
		RETURNING id, user_id, connection_id, external_id, thread_id,
		          subject, from_email, from_name, snippet, internal_date_ms,
		          created_at, updated_at`

	if err := a.db.GetContext(ctx, &entity, query,
		msg.UserID,
		msg.ConnectionID,
		msg.ExternalID,
		msg.ThreadID,
		msg.Subject,
		msg.FromEmail,
		msg.FromName,
		msg.Snippet,
		msg.InternalDateMs,
	); err != nil {
		return nil, err
	}
	return entity.toDomain(), nil
}

// GetByExternalID returns a message by provider id, nil when absent.
func (a *MessageAdapter) GetByExternalID(ctx context.Context, userID uuid.UUID, externalID string) (*domain.RawMessage, error) {
	var entity messageEntity
	query := `
		SELECT id, user_id, connection_id, external_id, thread_id,
		       subject, from_email, from_name, snippet, internal_date_ms,
		       created_at, updated_at
		FROM messages
		WHERE user_id = $1 AND external_id = $2`

	if err := a.db.GetContext(ctx, &entity, query, userID, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// Ensure MessageAdapter implements out.MessageRepository
var _ out.MessageRepository = (*MessageAdapter)(nil)
