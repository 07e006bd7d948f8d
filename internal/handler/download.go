package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/tunegrab/api/internal/middleware"
	"github.com/tunegrab/api/internal/model"
	"github.com/tunegrab/api/internal/service"
	"github.com/tunegrab/api/pkg/response"
)

// JobService is the slice of the grab service the HTTP surface needs.
type JobService interface {
	Submit(ctx context.Context, url, identity string) (*model.DownloadResponse, error)
	Status(ctx context.Context, jobID string) (*model.JobStatusView, error)
}

type DownloadHandler struct {
	service   JobService
	validator *validator.Validate
}

func NewDownloadHandler(svc JobService, v *validator.Validate) *DownloadHandler {
	return &DownloadHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /download (form-encoded url)
func (h *DownloadHandler) Submit(c *fiber.Ctx) error {
	var req model.DownloadRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "No URL provided", formatValidationErrors(err))
	}

	identity := middleware.GetIdentity(c)

	result, err := h.service.Submit(c.Context(), req.URL, identity)
	if err != nil {
		return response.ServiceError(c, "Failed to queue download: "+err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /status/:jobID
func (h *DownloadHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobID")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.Status(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
