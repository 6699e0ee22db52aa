package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/core/port/out"
	"github.com/creamytech/Castra-site-sub000/core/service/followup"
	"github.com/creamytech/Castra-site-sub000/core/service/ingest"
	"github.com/creamytech/Castra-site-sub000/pkg/apperr"
)

// =============================================================================
// prepare-draft / prepare-schedule Processors
// =============================================================================

// FollowUpProcessor prepares reply drafts and meeting proposals for classified
// leads.
type FollowUpProcessor struct {
	connections out.ConnectionRepository
	settings    out.SettingsRepository
	leads       out.LeadRepository
	drafts      *followup.DraftService
	schedule    *followup.ScheduleService
	now         func() time.Time
	log         zerolog.Logger
}

// NewFollowUpProcessor creates a follow-up processor. now is injectable for
// tests; nil means time.Now.
func NewFollowUpProcessor(
	connections out.ConnectionRepository,
	settings out.SettingsRepository,
	leads out.LeadRepository,
	drafts *followup.DraftService,
	schedule *followup.ScheduleService,
	now func() time.Time,
	log zerolog.Logger,
) *FollowUpProcessor {
	if now == nil {
		now = time.Now
	}
	return &FollowUpProcessor{
		connections: connections,
		settings:    settings,
		leads:       leads,
		drafts:      drafts,
		schedule:    schedule,
		now:         now,
		log:         log.With().Str("processor", "followup").Logger(),
	}
}

// ProcessPrepareDraft handles one prepare-draft job.
func (p *FollowUpProcessor) ProcessPrepareDraft(ctx context.Context, payload *LeadPayload) error {
	lead, err := p.leads.GetByID(ctx, payload.LeadID)
	if err != nil {
		return fmt.Errorf("load lead %d: %w", payload.LeadID, err)
	}
	if lead == nil {
		return apperr.Permanent(fmt.Errorf("lead %d not found", payload.LeadID))
	}

	if _, err := p.drafts.PrepareDraft(ctx, lead); err != nil {
		return fmt.Errorf("prepare draft for lead %d: %w", lead.ID, err)
	}
	return nil
}

// ProcessPrepareSchedule handles one prepare-schedule job.
func (p *FollowUpProcessor) ProcessPrepareSchedule(ctx context.Context, payload *LeadPayload) error {
	lead, err := p.leads.GetByID(ctx, payload.LeadID)
	if err != nil {
		return fmt.Errorf("load lead %d: %w", payload.LeadID, err)
	}
	if lead == nil {
		return apperr.Permanent(fmt.Errorf("lead %d not found", payload.LeadID))
	}

	conn, err := p.connections.GetByUserID(ctx, lead.UserID)
	if err != nil {
		return fmt.Errorf("load connection for user %s: %w", lead.UserID, err)
	}
	if conn == nil {
		return apperr.Permanent(fmt.Errorf("no mailbox connection for user %s", lead.UserID))
	}

	settings := loadSettings(ctx, p.settings, lead.UserID, p.log)

	if _, err := p.schedule.ProposeSlots(ctx, ingest.OAuthToken(conn), lead, settings, p.now()); err != nil {
		return fmt.Errorf("propose slots for lead %d: %w", lead.ID, err)
	}
	return nil
}
