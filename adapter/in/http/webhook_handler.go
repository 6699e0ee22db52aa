package http

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/creamytech/Castra-site-sub000/adapter/in/worker"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
	"github.com/creamytech/Castra-site-sub000/internal/queue"
)

// IdempotencyTTL bounds how long a (connection, historyId) pair suppresses
// duplicate push deliveries.
const IdempotencyTTL = 5 * time.Minute

// WebhookMetrics counts push deliveries by outcome.
type WebhookMetrics struct {
	Processed  int64
	Duplicates int64
	Ignored    int64
	Rejected   int64
}

// WebhookHandler receives Gmail Pub/Sub push notifications and turns them into
// fetch-updates jobs. The handler does no sync work itself; a bad message is
// rejected fast and a valid one is queued fast.
type WebhookHandler struct {
	connections out.ConnectionRepository
	queue       queue.Queue
	redis       *redis.Client // optional; nil disables duplicate suppression

	secret   string // HMAC key for bearer verification; empty disables it
	audience string

	metrics WebhookMetrics
	log     zerolog.Logger
}

// NewWebhookHandler creates a push webhook handler.
func NewWebhookHandler(
	connections out.ConnectionRepository,
	q queue.Queue,
	redisClient *redis.Client,
	secret, audience string,
	log zerolog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		connections: connections,
		queue:       q,
		redis:       redisClient,
		secret:      secret,
		audience:    audience,
		log:         log.With().Str("component", "webhook").Logger(),
	}
}

// Register mounts the webhook routes.
func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/webhook/gmail", h.GmailWebhook)
	app.Post("/webhooks/gmail", h.GmailWebhook)
}

// GetMetrics returns a snapshot of webhook metrics.
func (h *WebhookHandler) GetMetrics() WebhookMetrics {
	return WebhookMetrics{
		Processed:  atomic.LoadInt64(&h.metrics.Processed),
		Duplicates: atomic.LoadInt64(&h.metrics.Duplicates),
		Ignored:    atomic.LoadInt64(&h.metrics.Ignored),
		Rejected:   atomic.LoadInt64(&h.metrics.Rejected),
	}
}

// GmailPushNotification is the Pub/Sub push envelope.
type GmailPushNotification struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// GmailNotificationData is the decoded envelope payload. historyId arrives as
// a JSON string, but some publishers emit a bare number; json.Number accepts
// both.
type GmailNotificationData struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// GmailWebhook handles one push delivery. Verification and schema failures are
// 400 so Pub/Sub retries against a fixed deployment, not a broken payload;
// everything else (including an unknown mailbox) is 200 so the subscription
// never backs up on state we cannot act on.
func (h *WebhookHandler) GmailWebhook(c *fiber.Ctx) error {
	if err := h.verifyBearer(c); err != nil {
		atomic.AddInt64(&h.metrics.Rejected, 1)
		h.log.Warn().Err(err).Msg("push token verification failed")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "verification failed"})
	}

	var notification GmailPushNotification
	if err := c.BodyParser(&notification); err != nil {
		atomic.AddInt64(&h.metrics.Rejected, 1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "malformed envelope"})
	}

	raw, err := base64.StdEncoding.DecodeString(notification.Message.Data)
	if err != nil {
		atomic.AddInt64(&h.metrics.Rejected, 1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "malformed data"})
	}

	var data GmailNotificationData
	if err := json.Unmarshal(raw, &data); err != nil || data.EmailAddress == "" {
		atomic.AddInt64(&h.metrics.Rejected, 1)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "malformed data"})
	}

	ctx := c.Context()

	conn, err := h.connections.GetByAccountEmail(ctx, data.EmailAddress)
	if err != nil {
		h.log.Error().Err(err).Str("email", data.EmailAddress).Msg("connection lookup failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false})
	}
	if conn == nil {
		// Watches can outlive disconnected mailboxes.
		atomic.AddInt64(&h.metrics.Ignored, 1)
		h.log.Debug().Str("email", data.EmailAddress).Msg("push for unknown mailbox ignored")
		return c.JSON(fiber.Map{"ok": true})
	}

	if h.isDuplicate(c, conn.ID, data.HistoryID.String()) {
		atomic.AddInt64(&h.metrics.Duplicates, 1)
		return c.JSON(fiber.Map{"ok": true})
	}

	job, err := worker.NewJob(worker.JobFetchUpdates, &worker.FetchUpdatesPayload{
		ConnectionID: conn.ID,
	}, time.Time{}, worker.FetchKey(conn.ID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false})
	}
	if err := h.queue.Enqueue(ctx, job); err != nil {
		h.log.Error().Err(err).Int64("connection_id", conn.ID).Msg("fetch-updates enqueue failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false})
	}

	atomic.AddInt64(&h.metrics.Processed, 1)
	h.log.Info().
		Int64("connection_id", conn.ID).
		Str("history_id", data.HistoryID.String()).
		Msg("push accepted, sync queued")
	return c.JSON(fiber.Map{"ok": true})
}

// verifyBearer validates the push subscription's bearer token. An empty
// configured secret disables verification for local development.
func (h *WebhookHandler) verifyBearer(c *fiber.Ctx) error {
	if h.secret == "" {
		return nil
	}

	auth := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(auth, "Bearer ") {
		return fmt.Errorf("missing bearer token")
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return []byte(h.secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}

	if h.audience != "" {
		aud, err := token.Claims.GetAudience()
		if err != nil {
			return err
		}
		for _, a := range aud {
			if a == h.audience {
				return nil
			}
		}
		return fmt.Errorf("audience mismatch")
	}
	return nil
}

// isDuplicate suppresses re-deliveries of the same history notification. Redis
// being unavailable fails open: the fetch-updates idempotency key collapses
// the duplicates downstream anyway.
func (h *WebhookHandler) isDuplicate(c *fiber.Ctx, connID int64, historyID string) bool {
	if h.redis == nil || historyID == "" {
		return false
	}
	key := fmt.Sprintf("webhook:idempotent:%d:%s", connID, historyID)
	ok, err := h.redis.SetNX(c.Context(), key, "1", IdempotencyTTL).Result()
	if err != nil {
		return false
	}
	return !ok
}
