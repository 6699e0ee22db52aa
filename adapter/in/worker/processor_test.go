package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
	"github.com/creamytech/Castra-site-sub000/core/service/classify"
	"github.com/creamytech/Castra-site-sub000/core/service/ingest"
	"github.com/creamytech/Castra-site-sub000/internal/queue"
	"github.com/creamytech/Castra-site-sub000/pkg/apperr"
)

// =============================================================================
// fakes
// =============================================================================

type memConnRepo struct {
	conns     map[int64]*domain.MailboxConnection
	cursorErr error // returned once by UpdateCursor to simulate a crashed write
}

func newMemConnRepo(conns ...*domain.MailboxConnection) *memConnRepo {
	r := &memConnRepo{conns: make(map[int64]*domain.MailboxConnection)}
	for _, c := range conns {
		r.conns[c.ID] = c
	}
	return r
}

func (r *memConnRepo) GetByID(ctx context.Context, id int64) (*domain.MailboxConnection, error) {
	return r.conns[id], nil
}

func (r *memConnRepo) GetByAccountEmail(ctx context.Context, accountEmail string) (*domain.MailboxConnection, error) {
	for _, c := range r.conns {
		if c.AccountEmail == accountEmail {
			return c, nil
		}
	}
	return nil, nil
}

func (r *memConnRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.MailboxConnection, error) {
	for _, c := range r.conns {
		if c.UserID == userID {
			return c, nil
		}
	}
	return nil, nil
}

func (r *memConnRepo) UpdateCursor(ctx context.Context, id int64, cursor string) error {
	if r.cursorErr != nil {
		err := r.cursorErr
		r.cursorErr = nil
		return err
	}
	r.conns[id].HistoryCursor = cursor
	return nil
}

func (r *memConnRepo) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string) error {
	return nil
}

type memSettingsRepo struct {
	settings map[uuid.UUID]*domain.UserSettings
}

func (r *memSettingsRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserSettings, error) {
	if r.settings == nil {
		return nil, nil
	}
	return r.settings[userID], nil
}

type memLeadRepo struct {
	nextID int64
	leads  map[int64]*domain.Lead
}

func newMemLeadRepo() *memLeadRepo {
	return &memLeadRepo{leads: make(map[int64]*domain.Lead)}
}

func (r *memLeadRepo) Upsert(ctx context.Context, lead *domain.Lead) (*domain.Lead, error) {
	for _, existing := range r.leads {
		if existing.UserID == lead.UserID && existing.ExternalMessageID == lead.ExternalMessageID {
			id := existing.ID
			updated := *lead
			updated.ID = id
			r.leads[id] = &updated
			return &updated, nil
		}
	}
	r.nextID++
	stored := *lead
	stored.ID = r.nextID
	r.leads[stored.ID] = &stored
	return &stored, nil
}

func (r *memLeadRepo) GetByID(ctx context.Context, id int64) (*domain.Lead, error) {
	return r.leads[id], nil
}

func (r *memLeadRepo) GetByExternalMessageID(ctx context.Context, userID uuid.UUID, externalMessageID string) (*domain.Lead, error) {
	for _, l := range r.leads {
		if l.UserID == userID && l.ExternalMessageID == externalMessageID {
			return l, nil
		}
	}
	return nil, nil
}

func (r *memLeadRepo) UpdateFields(ctx context.Context, id int64, fields domain.LeadFields) error {
	r.leads[id].Fields = fields
	return nil
}

func (r *memLeadRepo) UpdateStatus(ctx context.Context, id int64, status domain.LeadStatus) error {
	r.leads[id].Status = status
	return nil
}

type memEventRepo struct {
	events []*domain.PipelineEvent
}

func (r *memEventRepo) Append(ctx context.Context, event *domain.PipelineEvent) error {
	r.events = append(r.events, event)
	return nil
}

type memMessageRepo struct {
	rows map[string]*domain.RawMessage // keyed by userID|externalID
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{rows: make(map[string]*domain.RawMessage)}
}

func (r *memMessageRepo) Upsert(ctx context.Context, msg *domain.RawMessage) (*domain.RawMessage, error) {
	key := msg.UserID.String() + "|" + msg.ExternalID
	r.rows[key] = msg
	return msg, nil
}

func (r *memMessageRepo) GetByExternalID(ctx context.Context, userID uuid.UUID, externalID string) (*domain.RawMessage, error) {
	return r.rows[userID.String()+"|"+externalID], nil
}

type memBodyRepo struct {
	bodies map[string]string
}

func newMemBodyRepo() *memBodyRepo {
	return &memBodyRepo{bodies: make(map[string]string)}
}

func (r *memBodyRepo) Save(ctx context.Context, userID uuid.UUID, externalID, body string) error {
	r.bodies[userID.String()+"|"+externalID] = body
	return nil
}

func (r *memBodyRepo) Get(ctx context.Context, userID uuid.UUID, externalID string) (string, error) {
	return r.bodies[userID.String()+"|"+externalID], nil
}

type fakeNotifier struct {
	alerts []*out.LeadAlert
}

func (f *fakeNotifier) SendAlert(ctx context.Context, alert *out.LeadAlert) error {
	f.alerts = append(f.alerts, alert)
	return nil
}

type fakeLLM struct {
	calls  int
	result domain.LLMClassification
}

func (f *fakeLLM) Classify(ctx context.Context, subject, body string, headers map[string]string) (domain.LLMClassification, error) {
	f.calls++
	return f.result, nil
}

type stubProvider struct {
	history *out.HistoryResult
	full    map[string]*out.ProviderMessage
}

func (s *stubProvider) ListHistorySince(ctx context.Context, token *oauth2.Token, cursor string, labels []string, pageSize int) (*out.HistoryResult, error) {
	return s.history, nil
}

func (s *stubProvider) GetMessageMetadata(ctx context.Context, token *oauth2.Token, externalID, validator string) (*out.ProviderMessage, error) {
	return s.full[externalID], nil
}

func (s *stubProvider) GetMessageFull(ctx context.Context, token *oauth2.Token, externalID string) (*out.ProviderMessage, error) {
	return s.full[externalID], nil
}

func (s *stubProvider) SendReply(ctx context.Context, token *oauth2.Token, reply *out.OutgoingReply) (*out.SendResult, error) {
	return &out.SendResult{ExternalID: "sent-1", ThreadID: reply.ThreadID}, nil
}

// =============================================================================
// helpers
// =============================================================================

var testUserID = uuid.MustParse("6b1e8a3e-8c7f-4a2e-9d14-2f6c7b9e0a11")

func testConnection() *domain.MailboxConnection {
	return &domain.MailboxConnection{
		ID:            1,
		UserID:        testUserID,
		Provider:      domain.MailProviderGmail,
		AccountEmail:  "agent@example.com",
		HistoryCursor: "cursor-1",
		AccessToken:   "token",
	}
}

func leadMessage() *domain.NormalizedMessage {
	return &domain.NormalizedMessage{
		ExternalID: "m1",
		ThreadID:   "t1",
		Subject:    "Tour request for 123 Main Street",
		Body:       "Hi, I'd love to schedule a tour of 123 Main Street. My budget is $450,000 and you can reach me at 555-123-4567.",
		FromEmail:  "jane@gmail.com",
		FromName:   "Jane Buyer",
		Snippet:    "I'd love to schedule a tour",
	}
}

func newClassifyProcessor(llm *fakeLLM, leads *memLeadRepo, q queue.Queue, settings *memSettingsRepo, conns *memConnRepo) *ClassifyProcessor {
	classifier := classify.NewService(llm, zerolog.Nop())
	return NewClassifyProcessor(conns, settings, classifier, leads, &memEventRepo{}, q, zerolog.Nop())
}

func pullAllTypes(t *testing.T, q queue.Queue, now time.Time) map[string]int {
	t.Helper()
	jobs, err := q.PullDue(context.Background(), now, 0)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	types := make(map[string]int)
	for _, j := range jobs {
		types[j.Type]++
	}
	return types
}

// =============================================================================
// tests
// =============================================================================

func TestClassifyUpsertIsIdempotent(t *testing.T) {
	leads := newMemLeadRepo()
	llm := &fakeLLM{result: domain.LLMClassification{IsLead: true, Score: 90, Reason: "buyer tour request"}}
	q := queue.NewMemoryQueue()
	p := newClassifyProcessor(llm, leads, q, &memSettingsRepo{}, newMemConnRepo(testConnection()))

	payload := &ClassifyLeadPayload{ConnectionID: 1, MessageID: "m1", Normalized: leadMessage()}
	if err := p.Process(context.Background(), payload); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := p.Process(context.Background(), payload); err != nil {
		t.Fatalf("replayed run: %v", err)
	}

	if len(leads.leads) != 1 {
		t.Errorf("lead rows = %d, want 1 after replay", len(leads.leads))
	}
}

func TestClassifyEnqueuesFollowOnJobs(t *testing.T) {
	leads := newMemLeadRepo()
	llm := &fakeLLM{result: domain.LLMClassification{IsLead: true, Score: 90, Reason: "buyer tour request"}}
	q := queue.NewMemoryQueue()
	p := newClassifyProcessor(llm, leads, q, &memSettingsRepo{}, newMemConnRepo(testConnection()))

	err := p.Process(context.Background(), &ClassifyLeadPayload{ConnectionID: 1, MessageID: "m1", Normalized: leadMessage()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	types := pullAllTypes(t, q, time.Now().Add(time.Second))
	for _, want := range []string{JobNotify, JobPrepareDraft, JobPrepareSchedule} {
		if types[want] != 1 {
			t.Errorf("queued %d %s jobs, want 1 (got %v)", types[want], want, types)
		}
	}

	lead := leads.leads[1]
	if lead.Status != domain.LeadStatusLead {
		t.Errorf("status = %v, want lead", lead.Status)
	}
	if lead.Score < 70 {
		t.Errorf("score = %d, want at or above the notify threshold", lead.Score)
	}
}

func TestClassifySuppressedSkipsFollowOnAndModel(t *testing.T) {
	leads := newMemLeadRepo()
	llm := &fakeLLM{result: domain.LLMClassification{IsLead: true, Score: 90}}
	q := queue.NewMemoryQueue()
	settings := domain.DefaultUserSettings(testUserID)
	settings.DenyDomains = []string{"gmail.com"}
	repo := &memSettingsRepo{settings: map[uuid.UUID]*domain.UserSettings{testUserID: settings}}
	p := newClassifyProcessor(llm, leads, q, repo, newMemConnRepo(testConnection()))

	err := p.Process(context.Background(), &ClassifyLeadPayload{ConnectionID: 1, MessageID: "m1", Normalized: leadMessage()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if llm.calls != 0 {
		t.Errorf("llm calls = %d, want 0 for a deny-listed sender", llm.calls)
	}
	if lead := leads.leads[1]; lead == nil || lead.Status != domain.LeadStatusNoLead {
		t.Errorf("suppressed sender must still persist a no_lead row, got %+v", leads.leads)
	}
	if types := pullAllTypes(t, q, time.Now().Add(time.Second)); len(types) != 0 {
		t.Errorf("suppressed outcome enqueued follow-on jobs: %v", types)
	}
}

// A message that scores below every threshold still gets its draft and
// schedule prepared; only the notify job is threshold-gated.
func TestClassifyLowScoreStillPreparesDraftAndSchedule(t *testing.T) {
	leads := newMemLeadRepo()
	llm := &fakeLLM{result: domain.LLMClassification{IsLead: false, Score: 5, Reason: "general question"}}
	q := queue.NewMemoryQueue()
	p := newClassifyProcessor(llm, leads, q, &memSettingsRepo{}, newMemConnRepo(testConnection()))

	neutral := &domain.NormalizedMessage{
		ExternalID: "m1",
		ThreadID:   "t1",
		Subject:    "Quick question",
		Body:       "Do you know a good moving company in the area?",
		FromEmail:  "jane@gmail.com",
	}
	err := p.Process(context.Background(), &ClassifyLeadPayload{ConnectionID: 1, MessageID: "m1", Normalized: neutral})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if lead := leads.leads[1]; lead == nil || lead.Status != domain.LeadStatusNoLead {
		t.Fatalf("expected a persisted no_lead row, got %+v", leads.leads)
	}

	types := pullAllTypes(t, q, time.Now().Add(time.Second))
	if types[JobNotify] != 0 {
		t.Errorf("queued %d notify jobs for a below-threshold score, want 0", types[JobNotify])
	}
	for _, want := range []string{JobPrepareDraft, JobPrepareSchedule} {
		if types[want] != 1 {
			t.Errorf("queued %d %s jobs for no_lead outcome, want 1 (got %v)", types[want], want, types)
		}
	}
}

func TestNotifyDefersDuringQuietHours(t *testing.T) {
	leads := newMemLeadRepo()
	lead, _ := leads.Upsert(context.Background(), &domain.Lead{
		UserID:            testUserID,
		ExternalMessageID: "m1",
		Subject:           "Tour request",
		FromEmail:         "jane@gmail.com",
		Score:             85,
		Status:            domain.LeadStatusLead,
	})

	settings := domain.DefaultUserSettings(testUserID)
	settings.Timezone = "UTC" // quiet 21-8 wraps midnight
	repo := &memSettingsRepo{settings: map[uuid.UUID]*domain.UserSettings{testUserID: settings}}
	notifier := &fakeNotifier{}
	q := queue.NewMemoryQueue()

	night := time.Date(2025, 6, 16, 23, 0, 0, 0, time.UTC)
	p := NewNotifyProcessor(leads, repo, notifier, &memEventRepo{}, q, func() time.Time { return night }, zerolog.Nop())

	if err := p.Process(context.Background(), &LeadPayload{LeadID: lead.ID}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.alerts) != 0 {
		t.Fatalf("alert sent during quiet hours")
	}

	jobs, _ := q.PullDue(context.Background(), night.Add(24*time.Hour), 0)
	if len(jobs) != 1 || jobs[0].Type != JobNotify {
		t.Fatalf("expected one deferred notify job, got %v", jobs)
	}
	wantRunAt := time.Date(2025, 6, 17, 8, 0, 0, 0, time.UTC)
	if !jobs[0].RunAt.Equal(wantRunAt) {
		t.Errorf("deferred RunAt = %v, want %v", jobs[0].RunAt, wantRunAt)
	}
}

func TestNotifySendsOutsideQuietHours(t *testing.T) {
	leads := newMemLeadRepo()
	lead, _ := leads.Upsert(context.Background(), &domain.Lead{
		UserID:            testUserID,
		ExternalMessageID: "m1",
		Subject:           "Tour request",
		FromEmail:         "jane@gmail.com",
		Score:             85,
		Status:            domain.LeadStatusLead,
	})

	settings := domain.DefaultUserSettings(testUserID)
	settings.Timezone = "UTC"
	repo := &memSettingsRepo{settings: map[uuid.UUID]*domain.UserSettings{testUserID: settings}}
	notifier := &fakeNotifier{}
	events := &memEventRepo{}
	q := queue.NewMemoryQueue()

	midday := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	p := NewNotifyProcessor(leads, repo, notifier, events, q, func() time.Time { return midday }, zerolog.Nop())

	if err := p.Process(context.Background(), &LeadPayload{LeadID: lead.ID}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(notifier.alerts))
	}
	if notifier.alerts[0].Score != 85 || notifier.alerts[0].LeadID != lead.ID {
		t.Errorf("alert = %+v", notifier.alerts[0])
	}
	if len(events.events) != 1 || events.events[0].Type != domain.EventNotify {
		t.Errorf("notify event not appended: %v", events.events)
	}
}

func TestSyncEnqueuesIngestAndAdvancesCursor(t *testing.T) {
	conns := newMemConnRepo(testConnection())
	provider := &stubProvider{history: &out.HistoryResult{
		MessageIDs: []string{"m1", "m2", "m1"},
		NewCursor:  "cursor-9",
	}}
	history := ingest.NewHistoryService(provider, conns, 60, 100, zerolog.Nop())
	q := queue.NewMemoryQueue()
	p := NewSyncProcessor(conns, history, q, zerolog.Nop())

	if err := p.Process(context.Background(), &FetchUpdatesPayload{ConnectionID: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jobs, _ := q.PullDue(context.Background(), time.Now().Add(time.Second), 0)
	if len(jobs) != 2 {
		t.Fatalf("ingest jobs = %d, want 2 (history contained a duplicate)", len(jobs))
	}
	for _, j := range jobs {
		if j.Type != JobIngestMessage {
			t.Errorf("job type = %s, want %s", j.Type, JobIngestMessage)
		}
	}
	if conns.conns[1].HistoryCursor != "cursor-9" {
		t.Errorf("cursor = %s, want cursor-9", conns.conns[1].HistoryCursor)
	}
}

// A crash between message hand-off and the cursor write replays fetch-updates
// with the old cursor; the chain must end with exactly one lead row.
func TestCursorReplayAfterCrashedPersistIsIdempotent(t *testing.T) {
	conns := newMemConnRepo(testConnection())
	provider := &stubProvider{
		history: &out.HistoryResult{MessageIDs: []string{"m1"}, NewCursor: "cursor-9"},
		full: map[string]*out.ProviderMessage{
			"m1": {
				ExternalID: "m1",
				ThreadID:   "t1",
				Subject:    "Tour request for 123 Main Street",
				FromEmail:  "jane@gmail.com",
				Body:       "Can we schedule a tour this weekend? Call me at 555-123-4567.",
				Snippet:    "Can we schedule a tour",
			},
		},
	}
	history := ingest.NewHistoryService(provider, conns, 60, 100, zerolog.Nop())
	q := queue.NewMemoryQueue()
	syncP := NewSyncProcessor(conns, history, q, zerolog.Nop())
	ingestP := NewIngestProcessor(
		conns, ingest.NewNormalizer(provider, zerolog.Nop()),
		newMemMessageRepo(), newMemBodyRepo(), &memEventRepo{}, q, zerolog.Nop(),
	)
	leads := newMemLeadRepo()
	llm := &fakeLLM{result: domain.LLMClassification{IsLead: true, Score: 90, Reason: "buyer tour request"}}
	classifyP := newClassifyProcessor(llm, leads, q, &memSettingsRepo{}, conns)

	drain := func() {
		t.Helper()
		for {
			jobs, err := q.PullDue(context.Background(), time.Now().Add(time.Hour), 0)
			if err != nil {
				t.Fatalf("pull: %v", err)
			}
			if len(jobs) == 0 {
				return
			}
			for _, job := range jobs {
				switch job.Type {
				case JobIngestMessage:
					payload, err := ParsePayload[IngestMessagePayload](job)
					if err != nil {
						t.Fatalf("parse ingest payload: %v", err)
					}
					if err := ingestP.Process(context.Background(), payload); err != nil {
						t.Fatalf("ingest: %v", err)
					}
				case JobClassifyLead:
					payload, err := ParsePayload[ClassifyLeadPayload](job)
					if err != nil {
						t.Fatalf("parse classify payload: %v", err)
					}
					if err := classifyP.Process(context.Background(), payload); err != nil {
						t.Fatalf("classify: %v", err)
					}
				}
			}
		}
	}

	// First pass: the cursor write dies after every ID has been handed off.
	conns.cursorErr = errors.New("connection reset by peer")
	if err := syncP.Process(context.Background(), &FetchUpdatesPayload{ConnectionID: 1}); err == nil {
		t.Fatal("expected the failed cursor write to surface")
	}
	if got := conns.conns[1].HistoryCursor; got != "cursor-1" {
		t.Fatalf("cursor = %s, want cursor-1 untouched after crash", got)
	}
	drain()

	// Replay with the old cursor re-reads the same history.
	if err := syncP.Process(context.Background(), &FetchUpdatesPayload{ConnectionID: 1}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	drain()

	if got := len(leads.leads); got != 1 {
		t.Errorf("lead rows = %d, want 1 after replaying the old cursor", got)
	}
	if got := conns.conns[1].HistoryCursor; got != "cursor-9" {
		t.Errorf("cursor = %s, want cursor-9 after successful replay", got)
	}
}

func TestIngestPersistsAndEnqueuesClassify(t *testing.T) {
	conns := newMemConnRepo(testConnection())
	provider := &stubProvider{full: map[string]*out.ProviderMessage{
		"m1": {
			ExternalID: "m1",
			ThreadID:   "t1",
			Subject:    "Tour request",
			FromEmail:  "jane@gmail.com",
			Body:       "I'd like to see the house this weekend.",
			Snippet:    "I'd like to see the house",
		},
	}}
	normalizer := ingest.NewNormalizer(provider, zerolog.Nop())
	messages := newMemMessageRepo()
	bodies := newMemBodyRepo()
	q := queue.NewMemoryQueue()
	p := NewIngestProcessor(conns, normalizer, messages, bodies, &memEventRepo{}, q, zerolog.Nop())

	err := p.Process(context.Background(), &IngestMessagePayload{ConnectionID: 1, MessageID: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if row, _ := messages.GetByExternalID(context.Background(), testUserID, "m1"); row == nil {
		t.Fatal("message row not upserted")
	}
	if body, _ := bodies.Get(context.Background(), testUserID, "m1"); body == "" {
		t.Error("body not saved to the document store")
	}

	jobs, _ := q.PullDue(context.Background(), time.Now().Add(time.Second), 0)
	if len(jobs) != 1 || jobs[0].Type != JobClassifyLead {
		t.Fatalf("expected one classify job, got %v", jobs)
	}
	payload, err := ParsePayload[ClassifyLeadPayload](jobs[0])
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if payload.Normalized == nil || payload.Normalized.Body == "" {
		t.Errorf("classify payload missing normalized body: %+v", payload)
	}
}

func TestDispatcherUnknownTypeIsPermanent(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, nil, nil, zerolog.Nop())

	job := queue.NewJob("reticulate-splines", nil, time.Time{}, "")
	err := h.Process(context.Background(), job)
	if err == nil {
		t.Fatal("expected error for unknown job type")
	}
	if !apperr.IsPermanent(err) {
		t.Errorf("unknown job type error must be permanent, got %v", err)
	}
}
