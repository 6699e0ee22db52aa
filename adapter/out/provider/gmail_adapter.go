// Package provider implements mail and calendar provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

// =============================================================================
// Gmail Metadata Headers
// =============================================================================

// gmailMetadataHeaders lists the headers requested on metadata fetches: the
// basics plus the RFC bulk-mail markers the normalizer's two-phase fetch
// decision reads.
var gmailMetadataHeaders = []string{
	"From", "To", "Subject", "Date",
	"Message-ID", "In-Reply-To", "References", "Content-Type",

	// Bulk-mail markers
	"List-Unsubscribe",      // RFC 2369
	"List-Unsubscribe-Post", // RFC 8058
	"List-Id",               // RFC 2919
	"Precedence",            // bulk, list, junk
	"Auto-Submitted",        // RFC 3834
	"X-Auto-Response-Suppress",

	// ESP tracking, feeds the portal/vendor signals
	"Feedback-ID",
	"X-Campaign-ID",
	"X-Mailer",
}

// =============================================================================
// Gmail Adapter
// =============================================================================

// GmailAdapter implements out.MailProviderPort for Gmail.
type GmailAdapter struct {
	config *oauth2.Config
	cb     *gobreaker.CircuitBreaker
	log    zerolog.Logger
}

// GmailConfig holds Gmail OAuth configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NewGmailAdapter creates a Gmail adapter.
func NewGmailAdapter(cfg *GmailConfig, log zerolog.Logger) *GmailAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailSendScope,
		},
		Endpoint: google.Endpoint,
	}

	adapterLog := log.With().Str("component", "gmail").Logger()

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			adapterLog.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &GmailAdapter{
		config: config,
		cb:     gobreaker.NewCircuitBreaker(cbSettings),
		log:    adapterLog,
	}
}

// =============================================================================
// History
// =============================================================================

// ListHistorySince lists message IDs added after cursor. Duplicates across
// history entries are returned as-is; the sync service de-duplicates.
func (a *GmailAdapter) ListHistorySince(ctx context.Context, token *oauth2.Token, cursor string, labels []string, pageSize int) (*out.HistoryResult, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	var startHistoryID uint64
	fmt.Sscanf(cursor, "%d", &startHistoryID)

	result := &out.HistoryResult{NewCursor: cursor}
	pageToken := ""

	for {
		req := svc.Users.History.List("me").
			StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded").
			MaxResults(int64(pageSize))
		if len(labels) > 0 {
			// history.list filters on a single label; the first configured
			// label is the primary filter.
			req = req.LabelId(labels[0])
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		var resp *gmail.ListHistoryResponse
		cbErr := a.executeWithCircuitBreaker("ListHistory", func() error {
			var apiErr error
			resp, apiErr = req.Context(ctx).Do()
			return apiErr
		})
		if cbErr != nil {
			if apiErr, ok := cbErr.(*googleapi.Error); ok && apiErr.Code == 404 {
				// Cursor too old: the provider expired the history window.
				return nil, out.NewProviderError("gmail", out.ProviderErrSyncRequired, "full sync required", cbErr, false)
			}
			return nil, a.wrapError(cbErr, "failed to list history")
		}

		for _, history := range resp.History {
			for _, added := range history.MessagesAdded {
				result.MessageIDs = append(result.MessageIDs, added.Message.Id)
			}
		}
		if resp.HistoryId > 0 {
			result.NewCursor = fmt.Sprintf("%d", resp.HistoryId)
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return result, nil
}

// =============================================================================
// Message Reading
// =============================================================================

// GetMessageMetadata fetches headers and snippet only. Gmail messages are
// immutable, so the history id of the fetched representation doubles as the
// freshness validator: a matching validator short-circuits to NotModified.
func (a *GmailAdapter) GetMessageMetadata(ctx context.Context, token *oauth2.Token, externalID, validator string) (*out.ProviderMessage, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	cbErr := a.executeWithCircuitBreaker("GetMessageMetadata", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", externalID).
			Format("metadata").
			MetadataHeaders(gmailMetadataHeaders...).
			Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to get message metadata")
	}

	current := fmt.Sprintf("%d", msg.HistoryId)
	if validator != "" && validator == current {
		return &out.ProviderMessage{
			ExternalID:  externalID,
			Validator:   validator,
			NotModified: true,
		}, nil
	}

	return a.convertMessage(msg), nil
}

// GetMessageFull fetches the complete message including the decoded body.
func (a *GmailAdapter) GetMessageFull(ctx context.Context, token *oauth2.Token, externalID string) (*out.ProviderMessage, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	cbErr := a.executeWithCircuitBreaker("GetMessageFull", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", externalID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to get message")
	}

	return a.convertMessage(msg), nil
}

// =============================================================================
// Message Sending
// =============================================================================

// SendReply sends a threaded reply.
func (a *GmailAdapter) SendReply(ctx context.Context, token *oauth2.Token, reply *out.OutgoingReply) (*out.SendResult, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, err
	}

	raw := a.buildRawReply(reply)
	gmailMsg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		ThreadId: reply.ThreadID,
	}

	var sent *gmail.Message
	cbErr := a.executeWithCircuitBreaker("SendReply", func() error {
		var apiErr error
		sent, apiErr = svc.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to send reply")
	}

	return &out.SendResult{
		ExternalID: sent.Id,
		ThreadID:   sent.ThreadId,
	}, nil
}

// =============================================================================
// Internal Helpers
// =============================================================================

func (a *GmailAdapter) getService(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return gmail.NewService(ctx, option.WithTokenSource(
		a.config.TokenSource(ctx, token),
	))
}

// executeWithCircuitBreaker wraps an API call with circuit breaker protection.
// Client errors (4xx except 429) never trip the circuit.
func (a *GmailAdapter) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (any, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				case 400, 401, 403, 404:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	if err != nil {
		a.log.Warn().
			Err(err).
			Str("operation", operation).
			Str("breaker_state", a.cb.State().String()).
			Msg("gmail api call failed")
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func (a *GmailAdapter) convertMessage(msg *gmail.Message) *out.ProviderMessage {
	result := &out.ProviderMessage{
		ExternalID:     msg.Id,
		ThreadID:       msg.ThreadId,
		Snippet:        msg.Snippet,
		InternalDateMs: msg.InternalDate,
		Validator:      fmt.Sprintf("%d", msg.HistoryId),
		Headers:        make(map[string]string),
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			result.Headers[h.Name] = h.Value
		}
		result.Subject = result.Headers["Subject"]
		result.FromEmail, result.FromName = parseFrom(result.Headers["From"])
		result.Body = extractBody(msg.Payload)
	}

	return result
}

// extractBody walks the MIME tree and returns text/plain, falling back to
// text/html when no plain part exists.
func extractBody(part *gmail.MessagePart) string {
	text, html := "", ""
	collectBody(part, &text, &html)
	if text != "" {
		return text
	}
	return html
}

func collectBody(part *gmail.MessagePart, text, html *string) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				if *text == "" {
					*text = string(data)
				}
			case "text/html":
				if *html == "" {
					*html = string(data)
				}
			}
		}
	}

	for _, p := range part.Parts {
		collectBody(p, text, html)
	}
}

func parseFrom(s string) (email, name string) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return s, ""
	}
	return addr.Address, addr.Name
}

func (a *GmailAdapter) buildRawReply(reply *out.OutgoingReply) string {
	var buf strings.Builder

	to := reply.ToEmail
	if reply.ToName != "" {
		to = fmt.Sprintf("%s <%s>", reply.ToName, reply.ToEmail)
	}
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", reply.Subject))
	if reply.InReplyTo != "" {
		buf.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", reply.InReplyTo))
		buf.WriteString(fmt.Sprintf("References: %s\r\n", reply.InReplyTo))
	}
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(reply.Body)

	return buf.String()
}

func (a *GmailAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}

	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return out.NewProviderError("gmail", out.ProviderErrTokenExpired, "token expired", err, false)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return out.NewProviderError("gmail", out.ProviderErrRateLimit, "rate limit exceeded", err, true)
			}
			return out.NewProviderError("gmail", out.ProviderErrAuth, "access denied", err, false)
		case 404:
			return out.NewProviderError("gmail", out.ProviderErrNotFound, "not found", err, false)
		case 429:
			return out.NewProviderError("gmail", out.ProviderErrRateLimit, "too many requests", err, true)
		case 500, 502, 503:
			return out.NewProviderError("gmail", out.ProviderErrServer, "server error", err, true)
		}
	}

	return out.NewProviderError("gmail", out.ProviderErrServer, defaultMsg, err, true)
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ out.MailProviderPort = (*GmailAdapter)(nil)
