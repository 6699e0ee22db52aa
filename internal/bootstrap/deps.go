// Package bootstrap wires configuration, storage, adapters, and services.
package bootstrap

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/creamytech/Castra-site-sub000/adapter/in/worker"
	"github.com/creamytech/Castra-site-sub000/adapter/out/llm"
	"github.com/creamytech/Castra-site-sub000/adapter/out/mongodb"
	"github.com/creamytech/Castra-site-sub000/adapter/out/notify"
	"github.com/creamytech/Castra-site-sub000/adapter/out/persistence"
	"github.com/creamytech/Castra-site-sub000/adapter/out/provider"
	"github.com/creamytech/Castra-site-sub000/config"
	"github.com/creamytech/Castra-site-sub000/core/domain"
	"github.com/creamytech/Castra-site-sub000/core/port/out"
	"github.com/creamytech/Castra-site-sub000/core/service/classify"
	"github.com/creamytech/Castra-site-sub000/core/service/followup"
	"github.com/creamytech/Castra-site-sub000/core/service/ingest"
	"github.com/creamytech/Castra-site-sub000/infra/database"
	"github.com/creamytech/Castra-site-sub000/internal/queue"
)

// Dependencies holds every wired component.
type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Queue   queue.Queue

	// Repositories
	ConnectionRepo out.ConnectionRepository
	MessageRepo    out.MessageRepository
	LeadRepo       out.LeadRepository
	DraftRepo      out.DraftRepository
	SettingsRepo   out.SettingsRepository
	EventRepo      out.EventRepository
	BodyRepo       out.BodyRepository

	// Providers
	GmailProvider    *provider.GmailAdapter
	CalendarProvider *provider.GoogleCalendarAdapter
	LLM              *llm.OpenAIAdapter
	Notifier         *notify.HTTPNotifier

	// Services
	HistoryService  *ingest.HistoryService
	Normalizer      *ingest.Normalizer
	Classifier      *classify.Service
	DraftService    *followup.DraftService
	ScheduleService *followup.ScheduleService

	// Worker
	Handler *worker.Handler
	Pool    *worker.Pool
}

// NewDependencies builds the full dependency graph. PostgreSQL is required;
// Redis and MongoDB are optional and degrade to in-process substitutes.
func NewDependencies(cfg *config.Config, log zerolog.Logger) (*Dependencies, func(), error) {
	log = log.With().Str("worker_id", cfg.WorkerID).Logger()
	deps := &Dependencies{Config: cfg, Log: log}

	// Configured policy defaults apply to every user without a saved policy.
	domain.SetDefaultPolicy(domain.PolicyDefaults{
		NotifyThreshold:   cfg.NotifyThreshold,
		QuietHoursStart:   cfg.QuietHoursStart,
		QuietHoursEnd:     cfg.QuietHoursEnd,
		Timezone:          cfg.DefaultTimezone,
		DraftsEnabled:     cfg.DraftsEnabled,
		SchedulingEnabled: cfg.SchedulingEnabled,
	})

	// PostgreSQL
	pool, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = pool
	deps.SQLDB = database.NewSQLX(pool)

	// Redis (optional): job queue and webhook idempotency
	if cfg.RedisURL != "" {
		client, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		deps.Redis = client
		deps.Queue = queue.NewRedisQueue(client)
	} else {
		log.Warn().Msg("no redis configured, using in-process queue (jobs lost on restart)")
		deps.Queue = queue.NewMemoryQueue()
	}

	// MongoDB (optional): message body store
	if cfg.MongoDBURL != "" {
		client, err := database.NewMongo(cfg.MongoDBURL)
		if err != nil {
			closeStores(deps)
			return nil, nil, err
		}
		deps.MongoDB = client

		bodyAdapter := mongodb.NewBodyAdapter(client.Database(cfg.MongoDBName))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := bodyAdapter.EnsureIndexes(ctx); err != nil {
			log.Warn().Err(err).Msg("body store index creation failed")
		}
		cancel()
		deps.BodyRepo = bodyAdapter
	} else {
		log.Warn().Msg("no mongodb configured, message bodies will not be retained")
		deps.BodyRepo = discardBodyRepo{}
	}

	// Repositories
	deps.ConnectionRepo = persistence.NewConnectionAdapter(deps.SQLDB)
	deps.MessageRepo = persistence.NewMessageAdapter(deps.SQLDB)
	deps.LeadRepo = persistence.NewLeadAdapter(deps.SQLDB)
	deps.DraftRepo = persistence.NewDraftAdapter(deps.SQLDB)
	deps.SettingsRepo = persistence.NewSettingsAdapter(deps.SQLDB)
	deps.EventRepo = persistence.NewEventAdapter(deps.SQLDB)

	// Providers
	googleCfg := &provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}
	deps.GmailProvider = provider.NewGmailAdapter(googleCfg, log)
	deps.CalendarProvider = provider.NewGoogleCalendarAdapter(googleCfg, log)

	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("no openai api key configured, classification calls will fail and retry")
	}
	deps.LLM = llm.NewOpenAIAdapter(llm.Config{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
		TimeoutSec:  cfg.LLMTimeoutSec,
		MaxRetries:  cfg.LLMMaxRetries,
	}, log)

	deps.Notifier = notify.NewHTTPNotifier(
		cfg.NotifyWebhookURL,
		time.Duration(cfg.NotifyTimeoutSec)*time.Second,
		cfg.NotifyMaxRetries,
		log,
	)

	// Services
	deps.HistoryService = ingest.NewHistoryService(
		deps.GmailProvider, deps.ConnectionRepo,
		cfg.HistoryCallsPerMin, cfg.HistoryPageSize, log,
	)
	deps.Normalizer = ingest.NewNormalizer(deps.GmailProvider, log)
	deps.Classifier = classify.NewService(deps.LLM, log)
	deps.DraftService = followup.NewDraftService(
		deps.DraftRepo, deps.LeadRepo, deps.EventRepo, deps.LLM, log,
	)
	deps.ScheduleService = followup.NewScheduleService(deps.CalendarProvider, deps.LeadRepo, log)

	// Worker
	deps.Handler = worker.NewHandler(
		worker.NewSyncProcessor(deps.ConnectionRepo, deps.HistoryService, deps.Queue, log),
		worker.NewIngestProcessor(deps.ConnectionRepo, deps.Normalizer, deps.MessageRepo, deps.BodyRepo, deps.EventRepo, deps.Queue, log),
		worker.NewClassifyProcessor(deps.ConnectionRepo, deps.SettingsRepo, deps.Classifier, deps.LeadRepo, deps.EventRepo, deps.Queue, log),
		worker.NewNotifyProcessor(deps.LeadRepo, deps.SettingsRepo, deps.Notifier, deps.EventRepo, deps.Queue, nil, log),
		worker.NewFollowUpProcessor(deps.ConnectionRepo, deps.SettingsRepo, deps.LeadRepo, deps.DraftService, deps.ScheduleService, nil, log),
		worker.NewSendProcessor(deps.DraftRepo, deps.ConnectionRepo, deps.DraftService, deps.GmailProvider, log),
		log,
	)
	deps.Pool = worker.NewPool(deps.Handler, deps.Queue, worker.PoolConfigFromSettings(
		cfg.WorkerCount,
		cfg.WorkerBatchSize,
		cfg.PullBatchSize,
		cfg.PollInterval,
		cfg.JobMaxAttempts,
		time.Duration(cfg.RetryBaseDelaySec)*time.Second,
		time.Duration(cfg.RetryMaxDelaySec)*time.Second,
	), log)

	cleanup := func() { closeStores(deps) }
	return deps, cleanup, nil
}

func closeStores(deps *Dependencies) {
	if deps.MongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = deps.MongoDB.Disconnect(ctx)
		cancel()
	}
	if deps.Redis != nil {
		_ = deps.Redis.Close()
	}
	if deps.SQLDB != nil {
		_ = deps.SQLDB.Close()
	}
	if deps.DB != nil {
		deps.DB.Close()
	}
}

// discardBodyRepo stands in when no document store is configured. Bodies feed
// reclassification only, so dropping them degrades quality, not correctness.
type discardBodyRepo struct{}

func (discardBodyRepo) Save(ctx context.Context, userID uuid.UUID, externalID, body string) error {
	return nil
}

func (discardBodyRepo) Get(ctx context.Context, userID uuid.UUID, externalID string) (string, error) {
	return "", nil
}
