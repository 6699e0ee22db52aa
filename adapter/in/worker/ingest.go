package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
	"github.com/creamytech/Castra-site-sub000/core/service/ingest"
	"github.com/creamytech/Castra-site-sub000/internal/queue"
	"github.com/creamytech/Castra-site-sub000/pkg/apperr"
)

// =============================================================================
// ingest-message Processor
// =============================================================================

// IngestProcessor normalizes one message, upserts its metadata row, stores the
// full body out of band, and enqueues classification. Every write is an upsert
// keyed by (user, external id) so a replayed job converges on the same rows.
type IngestProcessor struct {
	connections out.ConnectionRepository
	normalizer  *ingest.Normalizer
	messages    out.MessageRepository
	bodies      out.BodyRepository
	events      out.EventRepository
	queue       queue.Queue
	log         zerolog.Logger
}

// NewIngestProcessor creates an ingest-message processor.
func NewIngestProcessor(
	connections out.ConnectionRepository,
	normalizer *ingest.Normalizer,
	messages out.MessageRepository,
	bodies out.BodyRepository,
	events out.EventRepository,
	q queue.Queue,
	log zerolog.Logger,
) *IngestProcessor {
	return &IngestProcessor{
		connections: connections,
		normalizer:  normalizer,
		messages:    messages,
		bodies:      bodies,
		events:      events,
		queue:       q,
		log:         log.With().Str("processor", "ingest").Logger(),
	}
}

// Process handles one ingest-message job.
func (p *IngestProcessor) Process(ctx context.Context, payload *IngestMessagePayload) error {
	conn, err := p.connections.GetByID(ctx, payload.ConnectionID)
	if err != nil {
		return fmt.Errorf("load connection %d: %w", payload.ConnectionID, err)
	}
	if conn == nil {
		return apperr.Permanent(fmt.Errorf("connection %d not found", payload.ConnectionID))
	}

	normalized, err := p.normalizer.Normalize(ctx, ingest.OAuthToken(conn), payload.MessageID)
	if err != nil {
		return fmt.Errorf("normalize message %s: %w", payload.MessageID, err)
	}

	msg := &domain.RawMessage{
		UserID:         conn.UserID,
		ConnectionID:   conn.ID,
		ExternalID:     normalized.ExternalID,
		ThreadID:       normalized.ThreadID,
		Subject:        normalized.Subject,
		FromEmail:      normalized.FromEmail,
		Snippet:        normalized.Snippet,
		InternalDateMs: normalized.InternalDateMs,
	}
	if normalized.FromName != "" {
		name := normalized.FromName
		msg.FromName = &name
	}
	if _, err := p.messages.Upsert(ctx, msg); err != nil {
		return fmt.Errorf("upsert message %s: %w", normalized.ExternalID, err)
	}

	// Bodies live in the document store; losing one degrades classification
	// input, not correctness, so a failed save is logged and the job proceeds.
	if normalized.Body != "" {
		if err := p.bodies.Save(ctx, conn.UserID, normalized.ExternalID, normalized.Body); err != nil {
			p.log.Warn().Err(err).Str("message_id", normalized.ExternalID).Msg("body save failed")
		}
	}

	if err := p.events.Append(ctx, &domain.PipelineEvent{
		UserID: conn.UserID,
		Type:   domain.EventIngest,
		RefID:  normalized.ExternalID,
		Detail: map[string]any{"connection_id": conn.ID, "thread_id": normalized.ThreadID},
	}); err != nil {
		p.log.Warn().Err(err).Str("message_id", normalized.ExternalID).Msg("event append failed")
	}

	job, err := NewJob(JobClassifyLead, &ClassifyLeadPayload{
		ConnectionID: conn.ID,
		MessageID:    normalized.ExternalID,
		Normalized:   normalized,
	}, zeroTime, ClassifyKey(conn.ID, normalized.ExternalID))
	if err != nil {
		return apperr.Permanent(fmt.Errorf("build classify job: %w", err))
	}
	if err := p.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue classify for %s: %w", normalized.ExternalID, err)
	}

	p.log.Debug().
		Str("message_id", normalized.ExternalID).
		Int64("connection_id", conn.ID).
		Msg("message ingested")
	return nil
}
