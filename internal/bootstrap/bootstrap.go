package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/creamytech/Castra-site-sub000/adapter/in/http"
	"github.com/creamytech/Castra-site-sub000/config"
	"github.com/creamytech/Castra-site-sub000/pkg/logger"
)

// Service bundles the HTTP app and the worker pool built from one dependency
// graph, so webhook enqueues and worker pulls share the same queue even with
// the in-process backend.
type Service struct {
	App  *fiber.App
	Deps *Dependencies
}

// New builds the whole service.
func New(cfg *config.Config) (*Service, func(), error) {
	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Service: "castra-pipeline",
		Pretty:  cfg.IsDevelopment(),
	})

	deps, cleanup, err := NewDependencies(cfg, log)
	if err != nil {
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: cfg.IsProduction(),
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             1 * 1024 * 1024, // push envelopes are small
	})

	app.Use(recover.New())

	webhookHandler := http.NewWebhookHandler(
		deps.ConnectionRepo, deps.Queue, deps.Redis,
		cfg.JWTSecret, cfg.PushAudience, log,
	)
	webhookHandler.Register(app)

	http.NewHealthHandler(deps.DB, deps.Redis, deps.MongoDB).Register(app)
	http.NewMetricsHandler(deps.Pool, webhookHandler).Register(app)

	log.Info().
		Str("env", cfg.Environment).
		Bool("redis", deps.Redis != nil).
		Bool("mongodb", deps.MongoDB != nil).
		Msg("service initialized")

	return &Service{App: app, Deps: deps}, cleanup, nil
}
