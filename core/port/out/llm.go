package out

import (
	"context"

	"github.com/creamytech/Castra-site-sub000/core/domain"
)

// LLMPort classifies a message as lead vs. vendor/newsletter. Implementations
// must fail closed: malformed or schema-violating model output yields
// domain.ParseFailure with a nil error, never a panic or parse error. A
// non-nil error indicates a transport-level failure the caller may retry.
type LLMPort interface {
	Classify(ctx context.Context, subject, body string, headers map[string]string) (domain.LLMClassification, error)
}

// DraftComposer generates follow-up reply text for a lead.
type DraftComposer interface {
	ComposeFollowUp(ctx context.Context, lead *domain.Lead) (subject, body string, err error)
}
