package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
	"github.com/creamytech/Castra-site-sub000/core/service/followup"
	"github.com/creamytech/Castra-site-sub000/core/service/ingest"
	"github.com/creamytech/Castra-site-sub000/pkg/apperr"
)

// =============================================================================
// send-draft Processor
// =============================================================================

// SendProcessor sends an approved draft as a threaded reply. A draft already
// marked sent is a no-op so a replayed job never double-sends.
type SendProcessor struct {
	drafts      out.DraftRepository
	connections out.ConnectionRepository
	service     *followup.DraftService
	provider    out.MailProviderPort
	log         zerolog.Logger
}

// NewSendProcessor creates a send-draft processor.
func NewSendProcessor(
	drafts out.DraftRepository,
	connections out.ConnectionRepository,
	service *followup.DraftService,
	provider out.MailProviderPort,
	log zerolog.Logger,
) *SendProcessor {
	return &SendProcessor{
		drafts:      drafts,
		connections: connections,
		service:     service,
		provider:    provider,
		log:         log.With().Str("processor", "send").Logger(),
	}
}

// Process handles one send-draft job.
func (p *SendProcessor) Process(ctx context.Context, payload *SendDraftPayload) error {
	draft, err := p.drafts.GetByID(ctx, payload.DraftID)
	if err != nil {
		return fmt.Errorf("load draft %d: %w", payload.DraftID, err)
	}
	if draft == nil {
		return apperr.Permanent(fmt.Errorf("draft %d not found", payload.DraftID))
	}
	if draft.Status == domain.DraftStatusSent {
		p.log.Debug().Int64("draft_id", draft.ID).Msg("draft already sent, skipping")
		return nil
	}
	if draft.Status == domain.DraftStatusDismissed {
		return apperr.Permanent(fmt.Errorf("draft %d was dismissed", draft.ID))
	}

	conn, err := p.connections.GetByUserID(ctx, draft.UserID)
	if err != nil {
		return fmt.Errorf("load connection for user %s: %w", draft.UserID, err)
	}
	if conn == nil {
		return apperr.Permanent(fmt.Errorf("no mailbox connection for user %s", draft.UserID))
	}

	if err := p.service.SendDraft(ctx, ingest.OAuthToken(conn), p.provider, draft); err != nil {
		return fmt.Errorf("send draft %d: %w", draft.ID, err)
	}
	return nil
}
