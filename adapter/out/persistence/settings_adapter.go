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

// settingsEntity is the user_settings row.
type settingsEntity struct {
	ID                int64          `db:"id"`
	UserID            uuid.UUID      `db:"user_id"`
	NotifyThreshold   int            `db:"notify_threshold"`
	QuietHoursStart   int            `db:"quiet_hours_start"`
	QuietHoursEnd     int            `db:"quiet_hours_end"`
	Timezone          string         `db:"timezone"`
	AllowDomains      pq.StringArray `db:"allow_domains"`
	DenyDomains       pq.StringArray `db:"deny_domains"`
	DraftsEnabled     bool           `db:"drafts_enabled"`
	SchedulingEnabled bool           `db:"scheduling_enabled"`
	WorkdayStartHour  int            `db:"workday_start_hour"`
	WorkdayEndHour    int            `db:"workday_end_hour"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (e *settingsEntity) toDomain() *domain.UserSettings {
	return &domain.UserSettings{
		ID:                e.ID,
		UserID:            e.UserID,
		NotifyThreshold:   e.NotifyThreshold,
		QuietHoursStart:   e.QuietHoursStart,
		QuietHoursEnd:     e.QuietHoursEnd,
		Timezone:          e.Timezone,
		AllowDomains:      e.AllowDomains,
		DenyDomains:       e.DenyDomains,
		DraftsEnabled:     e.DraftsEnabled,
		SchedulingEnabled: e.SchedulingEnabled,
		WorkdayStartHour:  e.WorkdayStartHour,
		WorkdayEndHour:    e.WorkdayEndHour,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

// SettingsAdapter implements out.SettingsRepository using PostgreSQL.
type SettingsAdapter struct {
	db *sqlx.DB
}

// NewSettingsAdapter creates a new SettingsAdapter.
func NewSettingsAdapter(db *sqlx.DB) *SettingsAdapter {
	return &SettingsAdapter{db: db}
}

// GetByUserID returns the user's pipeline policy, nil when the user has no
// row. Callers fall back to domain.DefaultUserSettings.
func (a *SettingsAdapter) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSettings, error) {
	var entity settingsEntity
	query := `
		SELECT id, user_id, notify_threshold, quiet_hours_start, quiet_hours_end,
		       timezone, allow_domains, deny_domains, drafts_enabled,
		       scheduling_enabled, workday_start_hour, workday_end_hour,
		       created_at, updated_at
		FROM user_settings
		WHERE user_id = $1`

	if err := a.db.GetContext(ctx, &entity, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entity.toDomain(), nil
}

// Ensure SettingsAdapter implements out.SettingsRepository
var _ out.SettingsRepository = (*SettingsAdapter)(nil)
