package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tunegrab/api/internal/model"
)

const healthProbeTimeout = 3 * time.Second

// Pinger probes the queue/job-store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BucketProber probes the object-storage backend.
type BucketProber interface {
	HeadBucket(ctx context.Context) error
}

// HealthHandler reports dependency health. It never fails: unhealthy
// dependencies are data in the response, not errors.
type HealthHandler struct {
	store   Pinger
	storage BucketProber
}

func NewHealthHandler(store Pinger, storage BucketProber) *HealthHandler {
	return &HealthHandler{
		store:   store,
		storage: storage,
	}
}

// Check handles GET /health. HTTP 200 when every check passes, 500 otherwise;
// the body always carries both checks.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), healthProbeTimeout)
	defer cancel()

	report := model.HealthReport{
		Status: "healthy",
		Checks: map[string]model.HealthCheck{
			"redis":      h.probe(ctx, h.pingStore),
			"r2_storage": h.probe(ctx, h.pingStorage),
		},
	}

	status := fiber.StatusOK
	for _, check := range report.Checks {
		if !check.Healthy {
			report.Status = "unhealthy"
			status = fiber.StatusInternalServerError
			break
		}
	}

	return c.Status(status).JSON(report)
}

func (h *HealthHandler) probe(ctx context.Context, fn func(context.Context) error) model.HealthCheck {
	if err := fn(ctx); err != nil {
		return model.HealthCheck{Healthy: false, Message: err.Error()}
	}
	return model.HealthCheck{Healthy: true, Message: "ok"}
}

func (h *HealthHandler) pingStore(ctx context.Context) error {
	return h.store.Ping(ctx)
}

func (h *HealthHandler) pingStorage(ctx context.Context) error {
	if h.storage == nil {
		return errors.New("storage not configured")
	}
	return h.storage.HeadBucket(ctx)
}
