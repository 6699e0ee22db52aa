// Package llm implements the classification model adapter.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

// maxBodyChars bounds how much body text goes into the prompt. Lead intent
// shows up early; tails are quoted threads and signatures.
const maxBodyChars = 4000

// classificationHeaders are the only headers forwarded to the model.
var classificationHeaders = []string{
	"List-Unsubscribe", "List-Id", "Precedence", "Auto-Submitted", "Reply-To",
}

const classifySystemPrompt = `You are a real-estate lead classifier for an agent's inbox.
Given an email, decide whether it is a potential buyer or seller lead (a person
interested in viewing, buying, selling, or renting property) as opposed to a
vendor pitch, newsletter, portal digest, transaction notice, or spam.

Respond with a single JSON object, no prose:
{
  "isLead": boolean,
  "score": integer 0-100 (confidence this is a lead),
  "reason": short snake_case string (e.g. "tour_request", "vendor_pitch", "newsletter"),
  "fields": {
    "name": "", "email": "", "phone": "", "address": "", "mlsId": "",
    "price": "", "bedrooms": "", "baths": "", "timeline": "",
    "sourceType": "buyer|seller|renter|unknown"
  }
}
Omit fields you cannot extract. Never invent contact details.`

// =============================================================================
// OpenAI Adapter
// =============================================================================

// OpenAIAdapter implements out.LLMPort and out.DraftComposer on the OpenAI
// chat completion API.
type OpenAIAdapter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	maxRetries  int
	log         zerolog.Logger
}

// Config holds model settings.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	TimeoutSec  int
	MaxRetries  int
}

// NewOpenAIAdapter creates the adapter with config defaults filled in.
func NewOpenAIAdapter(cfg Config, log zerolog.Logger) *OpenAIAdapter {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 512
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIAdapter{
		client:      openai.NewClient(cfg.APIKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
		timeout:     timeout,
		maxRetries:  cfg.MaxRetries,
		log:         log.With().Str("component", "openai").Logger(),
	}
}

// Classify sends the message to the model and parses its JSON verdict.
// Transport failures are returned for the caller to retry; output that cannot
// be parsed or violates the schema fails closed to domain.ParseFailure.
func (a *OpenAIAdapter) Classify(ctx context.Context, subject, body string, headers map[string]string) (domain.LLMClassification, error) {
	prompt := buildClassifyPrompt(subject, body, headers)

	content, err := a.completeJSON(ctx, classifySystemPrompt, prompt)
	if err != nil {
		return domain.LLMClassification{}, err
	}

	var result domain.LLMClassification
	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		a.log.Warn().Err(err).Str("model", a.model).Msg("unparseable model output, failing closed")
		return domain.ParseFailure(), nil
	}
	if !result.Valid() {
		a.log.Warn().Int("score", result.Score).Msg("model output violates schema, failing closed")
		return domain.ParseFailure(), nil
	}

	return result, nil
}

// ComposeFollowUp drafts a short reply to a classified lead.
func (a *OpenAIAdapter) ComposeFollowUp(ctx context.Context, lead *domain.Lead) (string, string, error) {
	var sb strings.Builder
	sb.WriteString("Write a brief, warm follow-up email reply to this real-estate lead.\n")
	sb.WriteString("Do not invent listing details. Two short paragraphs at most.\n\n")
	if lead.FromName != nil && *lead.FromName != "" {
		fmt.Fprintf(&sb, "Lead name: %s\n", *lead.FromName)
	}
	fmt.Fprintf(&sb, "Lead email: %s\n", lead.FromEmail)
	fmt.Fprintf(&sb, "Original subject: %s\n", lead.Subject)
	if lead.Fields.Address != "" {
		fmt.Fprintf(&sb, "Property: %s\n", lead.Fields.Address)
	}
	if lead.Fields.Timeline != "" {
		fmt.Fprintf(&sb, "Timeline: %s\n", lead.Fields.Timeline)
	}
	sb.WriteString("\nRespond as JSON: {\"subject\": \"...\", \"body\": \"...\"}")

	content, err := a.completeJSON(ctx, "You are a helpful assistant for a real-estate agent.", sb.String())
	if err != nil {
		return "", "", err
	}

	var draft struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &draft); err != nil {
		return "", "", fmt.Errorf("unparseable draft output: %w", err)
	}
	if draft.Body == "" {
		return "", "", fmt.Errorf("empty draft body")
	}

	subject := draft.Subject
	if subject == "" {
		subject = "Re: " + lead.Subject
	}
	return subject, draft.Body, nil
}

// completeJSON runs a JSON-mode chat completion with bounded retries on
// transport errors.
func (a *OpenAIAdapter) completeJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		resp, err := a.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       a.model,
			MaxTokens:   a.maxTokens,
			Temperature: a.temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		cancel()
		if err != nil {
			lastErr = err
			a.log.Warn().Err(err).Int("attempt", attempt+1).Msg("chat completion failed")
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("empty completion response")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("chat completion failed after %d attempts: %w", a.maxRetries+1, lastErr)
}

func buildClassifyPrompt(subject, body string, headers map[string]string) string {
	var sb strings.Builder

	for _, name := range classificationHeaders {
		if v, ok := headers[name]; ok && v != "" {
			fmt.Fprintf(&sb, "%s: %s\n", name, v)
		}
	}
	fmt.Fprintf(&sb, "Subject: %s\n\n", subject)

	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	sb.WriteString(body)

	return sb.String()
}

// extractJSON strips markdown fences some models wrap around JSON-mode output.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// =============================================================================
// Interface Compliance
// =============================================================================

var (
	_ out.LLMPort       = (*OpenAIAdapter)(nil)
	_ out.DraftComposer = (*OpenAIAdapter)(nil)
)
