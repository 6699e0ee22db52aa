package ingest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
)

type fakeProvider struct {
	history       *out.HistoryResult
	historyErr    error
	metadata      map[string]*out.ProviderMessage
	full          map[string]*out.ProviderMessage
	metadataCalls int
	fullCalls     int
	lastValidator string
}

func (f *fakeProvider) ListHistorySince(ctx context.Context, token *oauth2.Token, cursor string, labels []string, pageSize int) (*out.HistoryResult, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

func (f *fakeProvider) GetMessageMetadata(ctx context.Context, token *oauth2.Token, externalID, validator string) (*out.ProviderMessage, error) {
	f.metadataCalls++
	f.lastValidator = validator
	m := f.metadata[externalID]
	if validator != "" && m.Validator == validator {
		return &out.ProviderMessage{ExternalID: externalID, NotModified: true, Validator: validator}, nil
	}
	return m, nil
}

func (f *fakeProvider) GetMessageFull(ctx context.Context, token *oauth2.Token, externalID string) (*out.ProviderMessage, error) {
	f.fullCalls++
	return f.full[externalID], nil
}

func (f *fakeProvider) SendReply(ctx context.Context, token *oauth2.Token, reply *out.OutgoingReply) (*out.SendResult, error) {
	return &out.SendResult{ExternalID: "sent-1", ThreadID: reply.ThreadID}, nil
}

type fakeConnRepo struct {
	cursors map[int64]string
}

func (f *fakeConnRepo) GetByID(ctx context.Context, id int64) (*domain.MailboxConnection, error) {
	return nil, nil
}

func (f *fakeConnRepo) GetByAccountEmail(ctx context.Context, accountEmail string) (*domain.MailboxConnection, error) {
	return nil, nil
}

func (f *fakeConnRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.MailboxConnection, error) {
	return nil, nil
}

func (f *fakeConnRepo) UpdateCursor(ctx context.Context, id int64, cursor string) error {
	if f.cursors == nil {
		f.cursors = make(map[int64]string)
	}
	f.cursors[id] = cursor
	return nil
}

func (f *fakeConnRepo) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string) error {
	return nil
}

func TestListUpdatesDeduplicates(t *testing.T) {
	provider := &fakeProvider{history: &out.HistoryResult{
		MessageIDs: []string{"m1", "m2", "m1", "m3", "m2", "m1"},
		NewCursor:  "cursor-9",
	}}
	svc := NewHistoryService(provider, &fakeConnRepo{}, 60, 100, zerolog.Nop())

	conn := &domain.MailboxConnection{ID: 1, HistoryCursor: "cursor-1"}
	res, err := svc.ListUpdates(context.Background(), conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"m1", "m2", "m3"}
	if len(res.MessageIDs) != len(want) {
		t.Fatalf("got %v, want %v", res.MessageIDs, want)
	}
	for i, id := range want {
		if res.MessageIDs[i] != id {
			t.Errorf("MessageIDs[%d] = %s, want %s (first-seen order)", i, res.MessageIDs[i], id)
		}
	}
	if res.NewCursor != "cursor-9" {
		t.Errorf("NewCursor = %s, want cursor-9", res.NewCursor)
	}
}

func TestListUpdatesKeepsCursorWhenProviderOmitsIt(t *testing.T) {
	provider := &fakeProvider{history: &out.HistoryResult{MessageIDs: []string{"m1"}}}
	svc := NewHistoryService(provider, &fakeConnRepo{}, 60, 100, zerolog.Nop())

	conn := &domain.MailboxConnection{ID: 1, HistoryCursor: "cursor-5"}
	res, err := svc.ListUpdates(context.Background(), conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NewCursor != "cursor-5" {
		t.Errorf("NewCursor = %s, want the stored cursor-5", res.NewCursor)
	}
}

func TestPersistCursor(t *testing.T) {
	repo := &fakeConnRepo{}
	svc := NewHistoryService(&fakeProvider{}, repo, 60, 100, zerolog.Nop())

	if err := svc.PersistCursor(context.Background(), 7, "cursor-42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.cursors[7] != "cursor-42" {
		t.Errorf("cursor = %s, want cursor-42", repo.cursors[7])
	}
}
