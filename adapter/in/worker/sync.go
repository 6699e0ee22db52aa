package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/core/port/out"
	"github.com/creamytech/Castra-site-sub000/core/service/ingest"
	"github.com/creamytech/Castra-site-sub000/internal/queue"
	"github.com/creamytech/Castra-site-sub000/pkg/apperr"
)

// =============================================================================
// fetch-updates Processor
// =============================================================================

// SyncProcessor runs an incremental history sync for one connection and fans
// out ingest jobs. The cursor is persisted only after every message ID has
// been handed to the queue, so a crash mid-run replays history instead of
// skipping it.
type SyncProcessor struct {
	connections out.ConnectionRepository
	history     *ingest.HistoryService
	queue       queue.Queue
	log         zerolog.Logger
}

// NewSyncProcessor creates a fetch-updates processor.
func NewSyncProcessor(
	connections out.ConnectionRepository,
	history *ingest.HistoryService,
	q queue.Queue,
	log zerolog.Logger,
) *SyncProcessor {
	return &SyncProcessor{
		connections: connections,
		history:     history,
		queue:       q,
		log:         log.With().Str("processor", "sync").Logger(),
	}
}

// Process handles one fetch-updates job.
func (p *SyncProcessor) Process(ctx context.Context, payload *FetchUpdatesPayload) error {
	conn, err := p.connections.GetByID(ctx, payload.ConnectionID)
	if err != nil {
		return fmt.Errorf("load connection %d: %w", payload.ConnectionID, err)
	}
	if conn == nil {
		return apperr.Permanent(fmt.Errorf("connection %d not found", payload.ConnectionID))
	}

	res, err := p.history.ListUpdates(ctx, conn)
	if err != nil {
		return fmt.Errorf("list history for connection %d: %w", conn.ID, err)
	}

	for _, messageID := range res.MessageIDs {
		job, err := NewJob(JobIngestMessage, &IngestMessagePayload{
			ConnectionID: conn.ID,
			MessageID:    messageID,
		}, zeroTime, IngestKey(conn.ID, messageID))
		if err != nil {
			return apperr.Permanent(fmt.Errorf("build ingest job: %w", err))
		}
		if err := p.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue ingest for %s: %w", messageID, err)
		}
	}

	// Cursor advances only after all IDs are queued.
	if res.NewCursor != conn.HistoryCursor {
		if err := p.history.PersistCursor(ctx, conn.ID, res.NewCursor); err != nil {
			return fmt.Errorf("persist cursor for connection %d: %w", conn.ID, err)
		}
	}

	p.log.Info().
		Int64("connection_id", conn.ID).
		Int("messages", len(res.MessageIDs)).
		Msg("history sync complete")
	return nil
}
