package worker

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/internal/queue"
)

// JobType represents the type of a job.
type JobType = string

// Job types. These names and payload shapes are a stable internal contract:
// producers and consumers on both queue backends must agree on them.
const (
	JobFetchUpdates    JobType = "fetch-updates"
	JobIngestMessage   JobType = "ingest-message"
	JobClassifyLead    JobType = "classify-lead"
	JobNotify          JobType = "notify"
	JobPrepareDraft    JobType = "prepare-draft"
	JobPrepareSchedule JobType = "prepare-schedule"
	JobSendDraft       JobType = "send-draft"
)

// FetchUpdatesPayload triggers an incremental history sync for a connection.
type FetchUpdatesPayload struct {
	ConnectionID int64 `json:"connectionId"`
}

// IngestMessagePayload normalizes and persists one message.
type IngestMessagePayload struct {
	ConnectionID int64  `json:"connectionId"`
	MessageID    string `json:"messageId"`
}

// ClassifyLeadPayload scores one normalized message.
type ClassifyLeadPayload struct {
	ConnectionID int64                     `json:"connectionId"`
	MessageID    string                    `json:"messageId"`
	Normalized   *domain.NormalizedMessage `json:"normalized"`
}

// LeadPayload addresses a persisted lead (notify, prepare-draft,
// prepare-schedule).
type LeadPayload struct {
	LeadID int64 `json:"leadId"`
}

// SendDraftPayload sends an approved draft.
type SendDraftPayload struct {
	DraftID int64 `json:"draftId"`
}

// =============================================================================
// Job construction helpers
// =============================================================================

// zeroTime is passed to NewJob for jobs due immediately.
var zeroTime time.Time

// NewJob marshals payload and wraps it as a queue job.
func NewJob(jobType JobType, payload any, runAt time.Time, idempotencyKey string) (*queue.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return queue.NewJob(jobType, data, runAt, idempotencyKey), nil
}

// ParsePayload unmarshals a job payload into T.
func ParsePayload[T any](job *queue.Job) (*T, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// IngestKey collapses duplicate ingest enqueues for the same message, which
// is what makes overlapping fetch-updates runs for one connection harmless.
func IngestKey(connectionID int64, messageID string) string {
	return fmt.Sprintf("ingest:%d:%s", connectionID, messageID)
}

// ClassifyKey collapses duplicate classification enqueues.
func ClassifyKey(connectionID int64, messageID string) string {
	return fmt.Sprintf("classify:%d:%s", connectionID, messageID)
}

// NotifyKey collapses duplicate pending alerts for a lead.
func NotifyKey(leadID int64) string {
	return fmt.Sprintf("notify:%d", leadID)
}

// FetchKey collapses duplicate sync triggers for a connection.
func FetchKey(connectionID int64) string {
	return fmt.Sprintf("fetch:%d", connectionID)
}
