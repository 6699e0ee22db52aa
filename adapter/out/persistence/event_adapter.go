package persistence

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

// EventAdapter implements out.EventRepository using PostgreSQL. The pipeline
// only ever appends; there are no read or update paths here.
type EventAdapter struct {
	db *sqlx.DB
}

// NewEventAdapter creates a new EventAdapter.
func NewEventAdapter(db *sqlx.DB) *EventAdapter {
	return &EventAdapter{db: db}
}

// Append writes one audit trail row.
func (a *EventAdapter) Append(ctx context.Context, event *domain.PipelineEvent) error {
	var detail []byte
	if event.Detail != nil {
		var err error
		detail, err = json.Marshal(event.Detail)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO pipeline_events (user_id, type, ref_id, detail, created_at)
		VALUES ($1, $2, $3, $4, now())`

	_, err := a.db.ExecContext(ctx, query,
		event.UserID,
		string(event.Type),
		event.RefID,
		detail,
	)
	return err
}

// Ensure EventAdapter implements out.EventRepository
var _ out.EventRepository = (*EventAdapter)(nil)
