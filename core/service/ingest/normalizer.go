package ingest

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

// =============================================================================
// Message Normalizer
// =============================================================================

// leadishRe is the vocabulary that forces a full-body fetch even when the
// metadata looks like bulk mail. Skipping a real lead's body is worse than
// over-fetching, so any match here wins over the bulk signals.
var leadishRe = regexp.MustCompile(`(?i)\b(tour|showing|offer|schedule|scheduling|budget|appointment|viewing|open house|pre[- ]?approv\w*)\b`)

var noReplyRe = regexp.MustCompile(`(?i)no[-._]?reply|do[-._]?not[-._]?reply|mailer-daemon`)

const normalizerCacheMax = 10000

type cacheEntry struct {
	validator  string
	normalized *domain.NormalizedMessage
}

// Normalizer fetches and normalizes single messages with a two-phase fetch:
// cheap metadata first, full body only when warranted. A validator cache
// avoids re-parsing messages the provider reports as unchanged.
type Normalizer struct {
	provider out.MailProviderPort
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewNormalizer creates a message normalizer.
func NewNormalizer(provider out.MailProviderPort, log zerolog.Logger) *Normalizer {
	return &Normalizer{
		provider: provider,
		log:      log.With().Str("component", "normalizer").Logger(),
		cache:    make(map[string]cacheEntry),
	}
}

// Normalize fetches externalID and returns its normalized record.
func (n *Normalizer) Normalize(ctx context.Context, token *oauth2.Token, externalID string) (*domain.NormalizedMessage, error) {
	n.mu.Lock()
	prev, cached := n.cache[externalID]
	n.mu.Unlock()

	var validator string
	if cached {
		validator = prev.validator
	}

	meta, err := n.provider.GetMessageMetadata(ctx, token, externalID, validator)
	if err != nil {
		return nil, err
	}
	if meta.NotModified && cached {
		n.log.Debug().Str("message_id", externalID).Msg("normalizer cache hit")
		return prev.normalized, nil
	}

	normalized := fromProviderMessage(meta)

	// Fetch the full body unless the message is obviously bulk mail with no
	// lead vocabulary anywhere in sight. When in doubt, fetch.
	if !looksBulk(meta) || looksLeadish(meta) {
		full, err := n.provider.GetMessageFull(ctx, token, externalID)
		if err != nil {
			return nil, err
		}
		normalized = fromProviderMessage(full)
		if full.Validator != "" {
			meta.Validator = full.Validator
		}
	}

	n.store(externalID, meta.Validator, normalized)
	return normalized, nil
}

func (n *Normalizer) store(externalID, validator string, normalized *domain.NormalizedMessage) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.cache) >= normalizerCacheMax {
		for k := range n.cache {
			delete(n.cache, k)
			break
		}
	}
	n.cache[externalID] = cacheEntry{validator: validator, normalized: normalized}
}

func fromProviderMessage(m *out.ProviderMessage) *domain.NormalizedMessage {
	return &domain.NormalizedMessage{
		ExternalID:     m.ExternalID,
		ThreadID:       m.ThreadID,
		Subject:        m.Subject,
		Body:           m.Body,
		Headers:        m.Headers,
		FromEmail:      m.FromEmail,
		FromName:       m.FromName,
		Snippet:        m.Snippet,
		InternalDateMs: m.InternalDateMs,
	}
}

func looksBulk(m *out.ProviderMessage) bool {
	if noReplyRe.MatchString(m.FromEmail) {
		return true
	}
	for k, v := range m.Headers {
		switch strings.ToLower(k) {
		case "list-unsubscribe", "list-id":
			return true
		case "precedence":
			lv := strings.ToLower(v)
			if lv == "bulk" || lv == "list" || lv == "junk" {
				return true
			}
		case "auto-submitted":
			if !strings.EqualFold(v, "no") {
				return true
			}
		}
	}
	return false
}

func looksLeadish(m *out.ProviderMessage) bool {
	return leadishRe.MatchString(m.Subject + " " + m.Snippet)
}
