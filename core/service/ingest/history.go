// Package ingest implements incremental mailbox sync and message
// normalization.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
	"github.com/creamytech/Castra-site-sub000/pkg/ratelimit"
)

// SyncResult is one incremental pass over a connection's history.
type SyncResult struct {
	MessageIDs []string // de-duplicated, in first-seen order
	NewCursor  string
}

// HistoryService lists newly added messages since a connection's stored
// cursor. Cursor persistence is a separate call so the orchestrator can hand
// message IDs to the queue first; replays after a crash re-read old history,
// which downstream idempotent upserts absorb.
type HistoryService struct {
	provider      out.MailProviderPort
	connections   out.ConnectionRepository
	usage         *ratelimit.UsageCounter
	warnThreshold int64
	pageSize      int
	log           zerolog.Logger
}

// NewHistoryService creates a history sync service. warnThreshold is the
// per-user history-call count per rolling hour above which a cost warning is
// logged.
func NewHistoryService(
	provider out.MailProviderPort,
	connections out.ConnectionRepository,
	warnThreshold int,
	pageSize int,
	log zerolog.Logger,
) *HistoryService {
	return &HistoryService{
		provider:      provider,
		connections:   connections,
		usage:         ratelimit.NewUsageCounter(time.Hour),
		warnThreshold: int64(warnThreshold),
		pageSize:      pageSize,
		log:           log.With().Str("component", "history_sync").Logger(),
	}
}

// ListUpdates returns the de-duplicated set of message IDs added since the
// connection's cursor, plus the new cursor. It does not persist the cursor.
func (s *HistoryService) ListUpdates(ctx context.Context, conn *domain.MailboxConnection) (*SyncResult, error) {
	if count := s.usage.Incr(conn.UserID.String()); count > s.warnThreshold {
		s.log.Warn().
			Str("user_id", conn.UserID.String()).
			Int64("calls_this_hour", count).
			Int64("threshold", s.warnThreshold).
			Msg("history call volume above soft threshold")
	}

	res, err := s.provider.ListHistorySince(ctx, OAuthToken(conn), conn.HistoryCursor, conn.Labels(), s.pageSize)
	if err != nil {
		return nil, err
	}

	// A message can appear in multiple history entries; keep first occurrence.
	seen := make(map[string]struct{}, len(res.MessageIDs))
	ids := make([]string, 0, len(res.MessageIDs))
	for _, id := range res.MessageIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	cursor := res.NewCursor
	if cursor == "" {
		cursor = conn.HistoryCursor
	}

	s.log.Debug().
		Int64("connection_id", conn.ID).
		Int("new_messages", len(ids)).
		Str("cursor", cursor).
		Msg("history listed")

	return &SyncResult{MessageIDs: ids, NewCursor: cursor}, nil
}

// PersistCursor advances the stored cursor. Callers invoke this only after
// the sync result's message IDs have been handed off to the queue.
func (s *HistoryService) PersistCursor(ctx context.Context, connectionID int64, cursor string) error {
	return s.connections.UpdateCursor(ctx, connectionID, cursor)
}

// OAuthToken builds the provider token from a connection's stored
// credentials.
func OAuthToken(conn *domain.MailboxConnection) *oauth2.Token {
	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
	}
	if conn.TokenExpiry != nil {
		token.Expiry = *conn.TokenExpiry
	}
	return token
}
