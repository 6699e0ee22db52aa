package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
	"github.com/creamytech/Castra-site-sub000/core/service/classify"
	"github.com/creamytech/Castra-site-sub000/internal/queue"
	"github.com/creamytech/Castra-site-sub000/pkg/apperr"
)

// =============================================================================
// classify-lead Processor
// =============================================================================

// ClassifyProcessor scores one normalized message, upserts the lead row, and
// enqueues the follow-on jobs: notify is threshold-gated, prepare-draft and
// prepare-schedule run for every classified message regardless of score.
// Suppressed outcomes persist the lead as no_lead and stop there.
type ClassifyProcessor struct {
	connections out.ConnectionRepository
	settings    out.SettingsRepository
	classifier  *classify.Service
	leads       out.LeadRepository
	events      out.EventRepository
	queue       queue.Queue
	log         zerolog.Logger
}

// NewClassifyProcessor creates a classify-lead processor.
func NewClassifyProcessor(
	connections out.ConnectionRepository,
	settings out.SettingsRepository,
	classifier *classify.Service,
	leads out.LeadRepository,
	events out.EventRepository,
	q queue.Queue,
	log zerolog.Logger,
) *ClassifyProcessor {
	return &ClassifyProcessor{
		connections: connections,
		settings:    settings,
		classifier:  classifier,
		leads:       leads,
		events:      events,
		queue:       q,
		log:         log.With().Str("processor", "classify").Logger(),
	}
}

// Process handles one classify-lead job.
func (p *ClassifyProcessor) Process(ctx context.Context, payload *ClassifyLeadPayload) error {
	if payload.Normalized == nil {
		return apperr.Permanent(fmt.Errorf("classify payload for %s has no normalized message", payload.MessageID))
	}

	conn, err := p.connections.GetByID(ctx, payload.ConnectionID)
	if err != nil {
		return fmt.Errorf("load connection %d: %w", payload.ConnectionID, err)
	}
	if conn == nil {
		return apperr.Permanent(fmt.Errorf("connection %d not found", payload.ConnectionID))
	}

	settings := loadSettings(ctx, p.settings, conn.UserID, p.log)

	outcome, err := p.classifier.Classify(ctx, payload.Normalized, settings)
	if err != nil {
		return fmt.Errorf("classify message %s: %w", payload.MessageID, err)
	}

	msg := payload.Normalized
	lead := &domain.Lead{
		UserID:            conn.UserID,
		ExternalMessageID: msg.ExternalID,
		ThreadID:          msg.ThreadID,
		Subject:           msg.Subject,
		Snippet:           msg.Snippet,
		FromEmail:         msg.FromEmail,
		Fields:            outcome.LLM.Fields.ToLeadFields(),
		Reasons:           outcome.Reasons,
		Score:             outcome.Score,
		Status:            outcome.Status,
	}
	if msg.FromName != "" {
		name := msg.FromName
		lead.FromName = &name
	}

	lead, err = p.leads.Upsert(ctx, lead)
	if err != nil {
		return fmt.Errorf("upsert lead for %s: %w", msg.ExternalID, err)
	}

	if err := p.events.Append(ctx, &domain.PipelineEvent{
		UserID: conn.UserID,
		Type:   domain.EventClassify,
		RefID:  msg.ExternalID,
		Detail: map[string]any{
			"lead_id":    lead.ID,
			"score":      outcome.Score,
			"rule_score": outcome.RuleScore,
			"status":     string(outcome.Status),
			"suppressed": outcome.Suppressed,
		},
	}); err != nil {
		p.log.Warn().Err(err).Int64("lead_id", lead.ID).Msg("event append failed")
	}

	// Deny-list suppression is the only outcome that stops here. A naturally
	// low-scoring message still gets its draft and schedule prepared, so the
	// agent has a suggestion ready if they reclassify it later.
	if outcome.Suppressed {
		return nil
	}

	if lead.Score >= settings.NotifyThreshold {
		if err := p.enqueue(ctx, JobNotify, lead.ID, NotifyKey(lead.ID)); err != nil {
			return err
		}
	}
	if settings.DraftsEnabled {
		if err := p.enqueue(ctx, JobPrepareDraft, lead.ID, fmt.Sprintf("draft:%d", lead.ID)); err != nil {
			return err
		}
	}
	if settings.SchedulingEnabled {
		if err := p.enqueue(ctx, JobPrepareSchedule, lead.ID, fmt.Sprintf("schedule:%d", lead.ID)); err != nil {
			return err
		}
	}

	p.log.Info().
		Int64("lead_id", lead.ID).
		Int("score", lead.Score).
		Str("status", string(lead.Status)).
		Msg("lead classified")
	return nil
}

func (p *ClassifyProcessor) enqueue(ctx context.Context, jobType JobType, leadID int64, key string) error {
	job, err := NewJob(jobType, &LeadPayload{LeadID: leadID}, zeroTime, key)
	if err != nil {
		return apperr.Permanent(fmt.Errorf("build %s job: %w", jobType, err))
	}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s for lead %d: %w", jobType, leadID, err)
	}
	return nil
}

// loadSettings reads the user's pipeline policy, falling back to defaults when
// the user has never saved one.
func loadSettings(ctx context.Context, repo out.SettingsRepository, userID uuid.UUID, log zerolog.Logger) *domain.UserSettings {
	settings, err := repo.GetByUserID(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("settings load failed, using defaults")
		return domain.DefaultUserSettings(userID)
	}
	if settings == nil {
		return domain.DefaultUserSettings(userID)
	}
	return settings
}
