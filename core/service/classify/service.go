package classify

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

// Outcome is the full classification result for one message.
type Outcome struct {
	RuleScore   int
	RuleSignals []string
	LLM         domain.LLMClassification
	Score       int
	Status      domain.LeadStatus
	Reasons     []string

	// Suppressed is set when the sender's domain is deny-listed: the message
	// is recorded as no_lead with score 0 and no follow-on work is enqueued.
	Suppressed bool

	// AllowListed annotates allow-listed senders for human review. It does
	// not change the numeric score.
	AllowListed bool
}

// Service blends the deterministic rule scorer with the LLM judgment and
// applies per-user sender-domain policy.
type Service struct {
	llm out.LLMPort
	log zerolog.Logger
}

// NewService creates a classification service.
func NewService(llm out.LLMPort, log zerolog.Logger) *Service {
	return &Service{
		llm: llm,
		log: log.With().Str("component", "classify").Logger(),
	}
}

// Classify scores msg under the user's policy. A transport-level LLM failure
// is returned to the caller for retry; a model parse failure degrades to the
// fail-closed default and classification proceeds.
func (s *Service) Classify(ctx context.Context, msg *domain.NormalizedMessage, settings *domain.UserSettings) (*Outcome, error) {
	// Deny list short-circuits before any model spend.
	if settings != nil && settings.DomainDenied(msg.FromEmail) {
		s.log.Info().
			Str("from", msg.FromEmail).
			Str("message_id", msg.ExternalID).
			Msg("sender domain deny-listed, suppressing")
		return &Outcome{
			Score:      0,
			Status:     domain.LeadStatusNoLead,
			Reasons:    []string{"sender domain deny-listed"},
			Suppressed: true,
		}, nil
	}

	ruleScore, signals := RuleScore(msg.Subject, msg.Body, msg.FromEmail, msg.Headers)

	llm, err := s.llm.Classify(ctx, msg.Subject, msg.Body, msg.Headers)
	if err != nil {
		return nil, err
	}
	if llm.Reason == "parse_error" {
		s.log.Warn().
			Str("message_id", msg.ExternalID).
			Msg("model output unparseable, using fail-closed default")
	}

	score := Blend(ruleScore, llm.Score)
	status := DecideStatus(score, llm.Reason)

	outcome := &Outcome{
		RuleScore:   ruleScore,
		RuleSignals: signals,
		LLM:         llm,
		Score:       score,
		Status:      status,
	}

	var reasons []string
	if llm.Reason != "" {
		reasons = append(reasons, llm.Reason)
	}
	if len(signals) > 0 {
		reasons = append(reasons, "signals: "+strings.Join(signals, ", "))
	}
	if settings != nil && settings.DomainAllowed(msg.FromEmail) {
		outcome.AllowListed = true
		reasons = append(reasons, "allow-listed sender")
	}
	outcome.Reasons = domain.CapReasons(reasons)

	s.log.Debug().
		Str("message_id", msg.ExternalID).
		Int("rule_score", ruleScore).
		Int("llm_score", llm.Score).
		Int("score", score).
		Str("status", string(status)).
		Msg("message classified")

	return outcome, nil
}
