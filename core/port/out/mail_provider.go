// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"

	"golang.org/x/oauth2"
)

// =============================================================================
// Mail Provider Port
// =============================================================================

// HistoryResult is one page-bounded incremental sync pass. MessageIDs may
// contain duplicates when a message appears in multiple history entries;
// callers de-duplicate.
type HistoryResult struct {
	MessageIDs []string // "message added" events only
	NewCursor  string   // most recent history id, or the input cursor if the provider omits one
}

// ProviderMessage is a single fetched message. Body is empty for
// metadata-only fetches.
type ProviderMessage struct {
	ExternalID     string
	ThreadID       string
	Subject        string
	Snippet        string
	FromEmail      string
	FromName       string
	Headers        map[string]string
	Body           string
	InternalDateMs int64

	// Validator is an opaque freshness token for the fetched representation.
	Validator string
	// NotModified is set when the fetch was answered with the caller's
	// validator still current; other fields are then unset.
	NotModified bool
}

// OutgoingReply is a threaded reply sent through the provider.
type OutgoingReply struct {
	ToEmail   string
	ToName    string
	Subject   string
	Body      string
	ThreadID  string
	InReplyTo string
}

// SendResult identifies the sent message.
type SendResult struct {
	ExternalID string
	ThreadID   string
}

// MailProviderPort is the narrow surface the pipeline needs from the mail
// provider: incremental history listing, two-granularity message fetch, and
// threaded reply send.
type MailProviderPort interface {
	// ListHistorySince lists message IDs added after cursor, restricted to
	// labels, up to pageSize per provider page.
	ListHistorySince(ctx context.Context, token *oauth2.Token, cursor string, labels []string, pageSize int) (*HistoryResult, error)

	// GetMessageMetadata fetches headers and snippet only. When validator
	// matches the provider's current representation the result has
	// NotModified set and no payload.
	GetMessageMetadata(ctx context.Context, token *oauth2.Token, externalID, validator string) (*ProviderMessage, error)

	// GetMessageFull fetches the complete message including the decoded body.
	GetMessageFull(ctx context.Context, token *oauth2.Token, externalID string) (*ProviderMessage, error)

	// SendReply sends a threaded reply.
	SendReply(ctx context.Context, token *oauth2.Token, reply *OutgoingReply) (*SendResult, error)
}

// =============================================================================
// Provider Error
// =============================================================================

// ProviderErrorCode represents error codes.
type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"
	ProviderErrTokenExpired ProviderErrorCode = "token_expired"
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"
	ProviderErrNotFound     ProviderErrorCode = "not_found"
	ProviderErrNetwork      ProviderErrorCode = "network_error"
	ProviderErrServer       ProviderErrorCode = "server_error"
	ProviderErrSyncRequired ProviderErrorCode = "full_sync_required"
)

// ProviderError represents a provider error.
type ProviderError struct {
	Provider  string
	Code      ProviderErrorCode
	Message   string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error.
func NewProviderError(provider string, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}
