// Package persistence provides PostgreSQL adapters.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

// connectionEntity is the mailbox_connections row.
type connectionEntity struct {
	ID             int64          `db:"id"`
	UserID         uuid.UUID      `db:"user_id"`
	Provider       string         `db:"provider"`
	AccountEmail   string         `db:"account_email"`
	HistoryCursor  string         `db:"history_cursor"`
	LabelFilters   pq.StringArray `db:"label_filters"`
	AccessToken    string         `db:"access_token"`
	RefreshToken   string         `db:"refresh_token"`
	TokenExpiry    *time.Time     `db:"token_expiry"`
	WatchExpiresAt *time.Time     `db:"watch_expires_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (e *connectionEntity) toDomain() *domain.MailboxConnection {
	return &domain.MailboxConnection{
		ID:             e.ID,
		UserID:         e.UserID,
		Provider:       domain.Provider(e.Provider),
		AccountEmail:   e.AccountEmail,
		HistoryCursor:  e.HistoryCursor,
		LabelFilters:   e.LabelFilters,
		AccessToken:    e.AccessToken,
		RefreshToken:   e.RefreshToken,
		TokenExpiry:    e.TokenExpiry,
		WatchExpiresAt: e.WatchExpiresAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

const connectionColumns = `
	id, user_id, provider, account_email, history_cursor, label_filters,
	access_token, refresh_token, token_expiry, watch_expires_at,
	created_at, updated_at`

// ConnectionAdapter implements out.ConnectionRepository using PostgreSQL.
type ConnectionAdapter struct {
	db *sqlx.DB
}

// NewConnectionAdapter creates a new ConnectionAdapter.
func NewConnectionAdapter(db *sqlx.DB) *ConnectionAdapter {
	return &ConnectionAdapter{db: db}
}

// GetByID returns a connection by ID, nil when absent.
func (a *ConnectionAdapter) GetByID(ctx context.Context, id int64) (*domain.MailboxConnection, error) {
	var entity connectionEntity
	query := `SELECT` + connectionColumns + ` FROM mailbox_connections WHERE id = $1`

	if err := a.db.GetContext(ctx, &entity, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// GetByAccountEmail returns the connection for an OAuth account email, nil
// when absent.
func (a *ConnectionAdapter) GetByAccountEmail(ctx context.Context, accountEmail string) (*domain.MailboxConnection, error) {
	var entity connectionEntity
	query := `SELECT` + connectionColumns + ` FROM mailbox_connections WHERE account_email = $1 LIMIT 1`

	if err := a.db.GetContext(ctx, &entity, query, accountEmail); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// GetByUserID returns the user's connection, nil when absent.
func (a *ConnectionAdapter) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.MailboxConnection, error) {
	var entity connectionEntity
	query := `SELECT` + connectionColumns + ` FROM mailbox_connections WHERE user_id = $1 ORDER BY created_at LIMIT 1`

	if err := a.db.GetContext(ctx, &entity, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// UpdateCursor advances the sync cursor.
func (a *ConnectionAdapter) UpdateCursor(ctx context.Context, id int64, cursor string) error {
	query := `UPDATE mailbox_connections SET history_cursor = $1, updated_at = $2 WHERE id = $3`
	_, err := a.db.ExecContext(ctx, query, cursor, time.Now(), id)
	return err
}

// UpdateTokens replaces the OAuth token pair after a refresh.
func (a *ConnectionAdapter) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string) error {
	query := `UPDATE mailbox_connections SET access_token = $1, refresh_token = $2, updated_at = $3 WHERE id = $4`
	_, err := a.db.ExecContext(ctx, query, accessToken, refreshToken, time.Now(), id)
	return err
}

// Ensure ConnectionAdapter implements out.ConnectionRepository
var _ out.ConnectionRepository = (*ConnectionAdapter)(nil)
