package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/creamytech/Castra-site-sub000/adapter/in/worker"
)

// MetricsHandler exposes worker pool and webhook counters for operators.
type MetricsHandler struct {
	pool    *worker.Pool
	webhook *WebhookHandler
}

// NewMetricsHandler creates a metrics handler; either dependency may be nil.
func NewMetricsHandler(pool *worker.Pool, webhook *WebhookHandler) *MetricsHandler {
	return &MetricsHandler{pool: pool, webhook: webhook}
}

// Register mounts the metrics routes.
func (h *MetricsHandler) Register(app *fiber.App) {
	app.Get("/metrics/worker", h.WorkerMetrics)
}

func (h *MetricsHandler) WorkerMetrics(c *fiber.Ctx) error {
	resp := fiber.Map{}

	if h.pool != nil {
		m := h.pool.GetMetrics()
		resp["pool"] = fiber.Map{
			"processed":      m.JobsProcessed,
			"failed":         m.JobsFailed,
			"retried":        m.JobsRetried,
			"dropped":        m.JobsDropped,
			"avg_process_ms": m.AvgProcessTime,
			"in_flight":      m.InFlight,
		}
	}
	if h.webhook != nil {
		m := h.webhook.GetMetrics()
		resp["webhook"] = fiber.Map{
			"processed":  m.Processed,
			"duplicates": m.Duplicates,
			"ignored":    m.Ignored,
			"rejected":   m.Rejected,
		}
	}

	return c.JSON(resp)
}
