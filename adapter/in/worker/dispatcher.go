package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/internal/queue"
	"github.com/creamytech/Castra-site-sub000/pkg/apperr"
)

// =============================================================================
// Job Dispatcher
// =============================================================================

// Handler routes pulled jobs to their processors.
type Handler struct {
	Sync     *SyncProcessor
	Ingest   *IngestProcessor
	Classify *ClassifyProcessor
	Notify   *NotifyProcessor
	FollowUp *FollowUpProcessor
	Send     *SendProcessor

	log zerolog.Logger
}

// NewHandler creates a job dispatcher.
func NewHandler(
	sync *SyncProcessor,
	ingest *IngestProcessor,
	classify *ClassifyProcessor,
	notify *NotifyProcessor,
	followUp *FollowUpProcessor,
	send *SendProcessor,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		Sync:     sync,
		Ingest:   ingest,
		Classify: classify,
		Notify:   notify,
		FollowUp: followUp,
		Send:     send,
		log:      log.With().Str("component", "dispatcher").Logger(),
	}
}

// Process dispatches one job to its processor. An unknown job type fails the
// job permanently; it never poisons the worker.
func (h *Handler) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case JobFetchUpdates:
		payload, err := ParsePayload[FetchUpdatesPayload](job)
		if err != nil {
			return apperr.Permanent(fmt.Errorf("parse %s payload: %w", job.Type, err))
		}
		return h.Sync.Process(ctx, payload)

	case JobIngestMessage:
		payload, err := ParsePayload[IngestMessagePayload](job)
		if err != nil {
			return apperr.Permanent(fmt.Errorf("parse %s payload: %w", job.Type, err))
		}
		return h.Ingest.Process(ctx, payload)

	case JobClassifyLead:
		payload, err := ParsePayload[ClassifyLeadPayload](job)
		if err != nil {
			return apperr.Permanent(fmt.Errorf("parse %s payload: %w", job.Type, err))
		}
		return h.Classify.Process(ctx, payload)

	case JobNotify:
		payload, err := ParsePayload[LeadPayload](job)
		if err != nil {
			return apperr.Permanent(fmt.Errorf("parse %s payload: %w", job.Type, err))
		}
		return h.Notify.Process(ctx, payload)

	case JobPrepareDraft:
		payload, err := ParsePayload[LeadPayload](job)
		if err != nil {
			return apperr.Permanent(fmt.Errorf("parse %s payload: %w", job.Type, err))
		}
		return h.FollowUp.ProcessPrepareDraft(ctx, payload)

	case JobPrepareSchedule:
		payload, err := ParsePayload[LeadPayload](job)
		if err != nil {
			return apperr.Permanent(fmt.Errorf("parse %s payload: %w", job.Type, err))
		}
		return h.FollowUp.ProcessPrepareSchedule(ctx, payload)

	case JobSendDraft:
		payload, err := ParsePayload[SendDraftPayload](job)
		if err != nil {
			return apperr.Permanent(fmt.Errorf("parse %s payload: %w", job.Type, err))
		}
		return h.Send.Process(ctx, payload)

	default:
		h.log.Error().Str("type", job.Type).Str("job_id", job.ID).Msg("unknown job type")
		return apperr.Permanent(fmt.Errorf("unknown job type: %s", job.Type))
	}
}
