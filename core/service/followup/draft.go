package followup

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

// =============================================================================
// Draft Preparer
// =============================================================================

// DraftService composes follow-up replies for leads. At most one open draft
// exists per lead/thread: re-preparation overwrites the open draft's content.
type DraftService struct {
	drafts   out.DraftRepository
	leads    out.LeadRepository
	events   out.EventRepository
	composer out.DraftComposer // optional; nil falls back to the template
	log      zerolog.Logger
}

// NewDraftService creates a draft preparer.
func NewDraftService(
	drafts out.DraftRepository,
	leads out.LeadRepository,
	events out.EventRepository,
	composer out.DraftComposer,
	log zerolog.Logger,
) *DraftService {
	return &DraftService{
		drafts:   drafts,
		leads:    leads,
		events:   events,
		composer: composer,
		log:      log.With().Str("component", "draft").Logger(),
	}
}

// PrepareDraft composes a follow-up for the lead and upserts the open draft.
func (s *DraftService) PrepareDraft(ctx context.Context, lead *domain.Lead) (*domain.Draft, error) {
	subject, body := s.compose(ctx, lead)

	draft, err := s.drafts.UpsertOpen(ctx, &domain.Draft{
		UserID:   lead.UserID,
		LeadID:   lead.ID,
		ThreadID: lead.ThreadID,
		ToEmail:  lead.FromEmail,
		Subject:  subject,
		Body:     body,
		Status:   domain.DraftStatusQueued,
	})
	if err != nil {
		return nil, err
	}

	if err := s.events.Append(ctx, &domain.PipelineEvent{
		UserID: lead.UserID,
		Type:   domain.EventDraftCreated,
		RefID:  fmt.Sprintf("%d", draft.ID),
		Detail: map[string]any{"lead_id": lead.ID},
	}); err != nil {
		s.log.Warn().Err(err).Int64("draft_id", draft.ID).Msg("event append failed")
	}

	s.log.Info().
		Int64("lead_id", lead.ID).
		Int64("draft_id", draft.ID).
		Msg("follow-up draft prepared")
	return draft, nil
}

// SendDraft sends an approved draft as a threaded reply, marks it sent, and
// advances the lead to follow_up.
func (s *DraftService) SendDraft(ctx context.Context, token *oauth2.Token, provider out.MailProviderPort, draft *domain.Draft) error {
	_, err := provider.SendReply(ctx, token, &out.OutgoingReply{
		ToEmail:  draft.ToEmail,
		Subject:  draft.Subject,
		Body:     draft.Body,
		ThreadID: draft.ThreadID,
	})
	if err != nil {
		return err
	}

	if err := s.drafts.MarkSent(ctx, draft.ID); err != nil {
		return err
	}
	if err := s.leads.UpdateStatus(ctx, draft.LeadID, domain.LeadStatusFollowUp); err != nil {
		return err
	}

	if err := s.events.Append(ctx, &domain.PipelineEvent{
		UserID: draft.UserID,
		Type:   domain.EventDraftSent,
		RefID:  fmt.Sprintf("%d", draft.ID),
		Detail: map[string]any{"lead_id": draft.LeadID},
	}); err != nil {
		s.log.Warn().Err(err).Int64("draft_id", draft.ID).Msg("event append failed")
	}

	s.log.Info().Int64("draft_id", draft.ID).Int64("lead_id", draft.LeadID).Msg("draft sent")
	return nil
}

func (s *DraftService) compose(ctx context.Context, lead *domain.Lead) (string, string) {
	if s.composer != nil {
		subject, body, err := s.composer.ComposeFollowUp(ctx, lead)
		if err == nil && body != "" {
			return subject, body
		}
		if err != nil {
			s.log.Warn().Err(err).Int64("lead_id", lead.ID).Msg("composer failed, using template")
		}
	}
	return templateFollowUp(lead)
}

// templateFollowUp builds a plain follow-up from the lead's extracted fields
// and any proposed meeting slots.
func templateFollowUp(lead *domain.Lead) (string, string) {
	subject := lead.Subject
	if subject == "" {
		subject = "your inquiry"
	}
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	name := lead.Fields.Name
	if name == "" && lead.FromName != nil {
		name = *lead.FromName
	}
	greeting := "Hi"
	if name != "" {
		greeting = "Hi " + firstName(name)
	}

	var b strings.Builder
	b.WriteString(greeting)
	b.WriteString(",\n\nThanks for reaching out")
	if lead.Fields.Address != "" {
		b.WriteString(" about " + lead.Fields.Address)
	}
	b.WriteString("! I'd love to help.\n")

	if lead.Fields.Price != "" {
		b.WriteString(fmt.Sprintf("\nI have a few options in the %s range we should look at.\n", lead.Fields.Price))
	}

	if len(lead.Fields.ProposedSlots) > 0 {
		b.WriteString("\nWould any of these times work for a showing?\n")
		for _, slot := range lead.Fields.ProposedSlots {
			b.WriteString("  - " + slot.Start.Format("Mon Jan 2, 3:04 PM") + "\n")
		}
	}

	b.WriteString("\nFeel free to reply here")
	if lead.Fields.Phone != "" {
		b.WriteString(" or I can call you at " + lead.Fields.Phone)
	}
	b.WriteString(".\n\nBest regards")

	return subject, b.String()
}

func firstName(full string) string {
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i]
	}
	return full
}
