package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/adapter/in/worker"
	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/internal/queue"
)

type fakeConnRepo struct {
	conns map[string]*domain.MailboxConnection // by account email
}

func (f *fakeConnRepo) GetByID(ctx context.Context, id int64) (*domain.MailboxConnection, error) {
	for _, c := range f.conns {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeConnRepo) GetByAccountEmail(ctx context.Context, accountEmail string) (*domain.MailboxConnection, error) {
	return f.conns[accountEmail], nil
}

func (f *fakeConnRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.MailboxConnection, error) {
	for _, c := range f.conns {
		if c.UserID == userID {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeConnRepo) UpdateCursor(ctx context.Context, id int64, cursor string) error { return nil }

func (f *fakeConnRepo) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string) error {
	return nil
}

func newTestApp(secret, audience string) (*fiber.App, *queue.MemoryQueue) {
	repo := &fakeConnRepo{conns: map[string]*domain.MailboxConnection{
		"agent@example.com": {ID: 1, UserID: uuid.New(), AccountEmail: "agent@example.com"},
	}}
	q := queue.NewMemoryQueue()
	h := NewWebhookHandler(repo, q, nil, secret, audience, zerolog.Nop())

	app := fiber.New()
	h.Register(app)
	return app, q
}

func pushBody(t *testing.T, emailAddress string, historyID any) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"emailAddress": emailAddress,
		"historyId":    historyID,
	})
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"data":      base64.StdEncoding.EncodeToString(data),
			"messageId": "pubsub-1",
		},
		"subscription": "projects/p/subscriptions/s",
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func signToken(t *testing.T, secret, audience string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"aud": audience,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestGmailWebhookQueuesFetchUpdates(t *testing.T) {
	app, q := newTestApp("", "")

	req := httptest.NewRequest("POST", "/webhooks/gmail", bytes.NewReader(pushBody(t, "agent@example.com", 42)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	jobs, _ := q.PullDue(context.Background(), time.Now().Add(time.Second), 0)
	if len(jobs) != 1 || jobs[0].Type != worker.JobFetchUpdates {
		t.Fatalf("expected one fetch-updates job, got %v", jobs)
	}
	payload, err := worker.ParsePayload[worker.FetchUpdatesPayload](jobs[0])
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if payload.ConnectionID != 1 {
		t.Errorf("connection id = %d, want 1", payload.ConnectionID)
	}
}

// Pub/Sub delivers historyId as a JSON string; the handler must accept it.
func TestGmailWebhookAcceptsStringHistoryID(t *testing.T) {
	app, q := newTestApp("", "")

	req := httptest.NewRequest("POST", "/webhooks/gmail", bytes.NewReader(pushBody(t, "agent@example.com", "12345")))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 for string historyId", resp.StatusCode)
	}

	jobs, _ := q.PullDue(context.Background(), time.Now().Add(time.Second), 0)
	if len(jobs) != 1 || jobs[0].Type != worker.JobFetchUpdates {
		t.Fatalf("expected one fetch-updates job, got %v", jobs)
	}
}

func TestGmailWebhookIgnoresUnknownMailbox(t *testing.T) {
	app, q := newTestApp("", "")

	req := httptest.NewRequest("POST", "/webhooks/gmail", bytes.NewReader(pushBody(t, "stranger@example.com", 42)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 soft-ignore", resp.StatusCode)
	}
	if n, _ := q.Len(context.Background()); n != 0 {
		t.Errorf("queue depth = %d, want 0", n)
	}
}

func TestGmailWebhookRejectsMalformedData(t *testing.T) {
	app, _ := newTestApp("", "")

	body, _ := json.Marshal(map[string]any{
		"message": map[string]any{"data": "!!! not base64 !!!"},
	})
	req := httptest.NewRequest("POST", "/webhooks/gmail", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGmailWebhookRejectsMissingEmailAddress(t *testing.T) {
	app, _ := newTestApp("", "")

	req := httptest.NewRequest("POST", "/webhooks/gmail", bytes.NewReader(pushBody(t, "", 42)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGmailWebhookVerifiesBearerToken(t *testing.T) {
	const secret = "push-secret"
	const audience = "https://pipeline.example.com/webhooks/gmail"

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"missing token", "", fiber.StatusBadRequest},
		{"garbage token", "Bearer not-a-jwt", fiber.StatusBadRequest},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", audience), fiber.StatusBadRequest},
		{"wrong audience", "Bearer " + signToken(t, secret, "https://elsewhere.example.com"), fiber.StatusBadRequest},
		{"valid token", "Bearer " + signToken(t, secret, audience), fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(secret, audience)

			req := httptest.NewRequest("POST", "/webhooks/gmail", bytes.NewReader(pushBody(t, "agent@example.com", 42)))
			req.Header.Set("Content-Type", "application/json")
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}
