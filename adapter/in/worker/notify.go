package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
	"github.com/creamytech/Castra-site-sub000/internal/queue"
	"github.com/creamytech/Castra-site-sub000/pkg/apperr"
)

// =============================================================================
// notify Processor
// =============================================================================

// NotifyProcessor delivers a lead alert, deferring delivery to the end of the
// user's quiet-hours window instead of dropping it. Deferral re-enqueues the
// same notify job with a future run time; the idempotency key collapses any
// duplicate alert queued for the lead in the meantime.
type NotifyProcessor struct {
	leads    out.LeadRepository
	settings out.SettingsRepository
	notifier out.NotifierPort
	events   out.EventRepository
	queue    queue.Queue
	now      func() time.Time
	log      zerolog.Logger
}

// NewNotifyProcessor creates a notify processor. now is injectable for tests;
// nil means time.Now.
func NewNotifyProcessor(
	leads out.LeadRepository,
	settings out.SettingsRepository,
	notifier out.NotifierPort,
	events out.EventRepository,
	q queue.Queue,
	now func() time.Time,
	log zerolog.Logger,
) *NotifyProcessor {
	if now == nil {
		now = time.Now
	}
	return &NotifyProcessor{
		leads:    leads,
		settings: settings,
		notifier: notifier,
		events:   events,
		queue:    q,
		now:      now,
		log:      log.With().Str("processor", "notify").Logger(),
	}
}

// Process handles one notify job.
func (p *NotifyProcessor) Process(ctx context.Context, payload *LeadPayload) error {
	lead, err := p.leads.GetByID(ctx, payload.LeadID)
	if err != nil {
		return fmt.Errorf("load lead %d: %w", payload.LeadID, err)
	}
	if lead == nil {
		return apperr.Permanent(fmt.Errorf("lead %d not found", payload.LeadID))
	}

	settings := loadSettings(ctx, p.settings, lead.UserID, p.log)

	now := p.now()
	if settings.InQuietHours(now) {
		runAt := settings.QuietHoursEndTime(now)
		job, err := NewJob(JobNotify, payload, runAt, NotifyKey(lead.ID))
		if err != nil {
			return apperr.Permanent(fmt.Errorf("build deferred notify job: %w", err))
		}
		if err := p.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("defer notify for lead %d: %w", lead.ID, err)
		}
		p.log.Info().
			Int64("lead_id", lead.ID).
			Time("run_at", runAt).
			Msg("alert deferred past quiet hours")
		return nil
	}

	alert := &out.LeadAlert{
		UserID:    lead.UserID,
		LeadID:    lead.ID,
		Subject:   lead.Subject,
		FromEmail: lead.FromEmail,
		Score:     lead.Score,
		Status:    string(lead.Status),
		Reasons:   lead.Reasons,
		Snippet:   lead.Snippet,
	}
	if lead.FromName != nil {
		alert.FromName = *lead.FromName
	}
	if err := p.notifier.SendAlert(ctx, alert); err != nil {
		return fmt.Errorf("send alert for lead %d: %w", lead.ID, err)
	}

	if err := p.events.Append(ctx, &domain.PipelineEvent{
		UserID: lead.UserID,
		Type:   domain.EventNotify,
		RefID:  fmt.Sprintf("%d", lead.ID),
		Detail: map[string]any{"score": lead.Score, "status": string(lead.Status)},
	}); err != nil {
		p.log.Warn().Err(err).Int64("lead_id", lead.ID).Msg("event append failed")
	}

	p.log.Info().Int64("lead_id", lead.ID).Int("score", lead.Score).Msg("alert sent")
	return nil
}
