package ingest

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

func TestNormalizeFetchesFullForPlainMail(t *testing.T) {
	provider := &fakeProvider{
		metadata: map[string]*out.ProviderMessage{
			"m1": {
				ExternalID: "m1",
				ThreadID:   "t1",
				Subject:    "Question about the listing",
				Snippet:    "Hi, is the house still available?",
				FromEmail:  "buyer@gmail.com",
				Validator:  "v1",
			},
		},
		full: map[string]*out.ProviderMessage{
			"m1": {
				ExternalID:     "m1",
				ThreadID:       "t1",
				Subject:        "Question about the listing",
				Body:           "Hi, is the house still available? I'd love to see it.",
				FromEmail:      "buyer@gmail.com",
				InternalDateMs: 1700000000000,
				Validator:      "v1",
			},
		},
	}
	n := NewNormalizer(provider, zerolog.Nop())

	got, err := n.Normalize(context.Background(), nil, "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.fullCalls != 1 {
		t.Errorf("full fetches = %d, want 1 for non-bulk mail", provider.fullCalls)
	}
	if got.Body == "" {
		t.Error("body not populated from full fetch")
	}
	if got.InternalDateMs != 1700000000000 {
		t.Errorf("InternalDateMs = %d", got.InternalDateMs)
	}
}

func TestNormalizeSkipsBodyForObviousBulk(t *testing.T) {
	provider := &fakeProvider{
		metadata: map[string]*out.ProviderMessage{
			"m2": {
				ExternalID: "m2",
				Subject:    "Weekly market report",
				Snippet:    "Top stories in your area",
				FromEmail:  "no-reply@news.example",
				Headers:    map[string]string{"List-Unsubscribe": "<mailto:unsub@news.example>"},
				Validator:  "v1",
			},
		},
	}
	n := NewNormalizer(provider, zerolog.Nop())

	got, err := n.Normalize(context.Background(), nil, "m2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.fullCalls != 0 {
		t.Errorf("full fetches = %d, want 0 for bulk mail without lead vocabulary", provider.fullCalls)
	}
	if got.Body != "" {
		t.Error("bulk mail should stay metadata-only")
	}
}

func TestNormalizeFetchesBulkWithLeadVocabulary(t *testing.T) {
	provider := &fakeProvider{
		metadata: map[string]*out.ProviderMessage{
			"m3": {
				ExternalID: "m3",
				Subject:    "New inquiry: tour request",
				Snippet:    "A buyer wants to schedule a showing",
				FromEmail:  "no-reply@zillow.com",
				Headers:    map[string]string{"Precedence": "bulk"},
				Validator:  "v1",
			},
		},
		full: map[string]*out.ProviderMessage{
			"m3": {
				ExternalID: "m3",
				Subject:    "New inquiry: tour request",
				Body:       "Buyer phone: 555-123-4567, budget $450k",
				FromEmail:  "no-reply@zillow.com",
				Validator:  "v1",
			},
		},
	}
	n := NewNormalizer(provider, zerolog.Nop())

	got, err := n.Normalize(context.Background(), nil, "m3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.fullCalls != 1 {
		t.Errorf("full fetches = %d, want 1: lead vocabulary overrides bulk markers", provider.fullCalls)
	}
	if got.Body == "" {
		t.Error("body missing for lead-like portal mail")
	}
}

func TestNormalizeValidatorCacheHit(t *testing.T) {
	provider := &fakeProvider{
		metadata: map[string]*out.ProviderMessage{
			"m4": {
				ExternalID: "m4",
				Subject:    "Tour request",
				Snippet:    "schedule a tour",
				FromEmail:  "buyer@gmail.com",
				Validator:  "etag-1",
			},
		},
		full: map[string]*out.ProviderMessage{
			"m4": {
				ExternalID: "m4",
				Subject:    "Tour request",
				Body:       "Can we schedule a tour?",
				FromEmail:  "buyer@gmail.com",
				Validator:  "etag-1",
			},
		},
	}
	n := NewNormalizer(provider, zerolog.Nop())

	first, err := n.Normalize(context.Background(), nil, "m4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := n.Normalize(context.Background(), nil, "m4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if provider.lastValidator != "etag-1" {
		t.Errorf("second fetch sent validator %q, want etag-1", provider.lastValidator)
	}
	if provider.fullCalls != 1 {
		t.Errorf("full fetches = %d, want 1: not-modified must reuse cached record", provider.fullCalls)
	}
	if second != first {
		t.Error("cache hit should return the cached normalized record")
	}
}
