package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/autoreel/api/internal/middleware"
	"github.com/autoreel/api/internal/model"
	"github.com/autoreel/api/internal/service"
	"github.com/autoreel/api/pkg/response"
)

type ScheduleHandler struct {
	service   *service.ScheduleService
	validator *validator.Validate
}

func NewScheduleHandler(svc *service.ScheduleService, v *validator.Validate) *ScheduleHandler {
	return &ScheduleHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/schedules
func (h *ScheduleHandler) Create(c *fiber.Ctx) error {
	var req model.CreateScheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	cfg, err := h.service.Create(c.Context(), middleware.GetTenantID(c), &req)
	if err != nil {
		return mapError(c, err, "Schedule not found")
	}

	return response.Created(c, model.CreateScheduleResponse{
		ConfigID:    cfg.ID,
		Status:      cfg.Status,
		NextRunTime: cfg.NextRunTime,
	})
}

// Get handles GET /api/schedules/:configId
func (h *ScheduleHandler) Get(c *fiber.Ctx) error {
	cfg, err := h.loadOwned(c)
	if cfg == nil {
		return err
	}
	return response.OK(c, cfg)
}

// List handles GET /api/schedules
func (h *ScheduleHandler) List(c *fiber.Ctx) error {
	schedules, err := h.service.List(c.Context(), middleware.GetTenantID(c))
	if err != nil {
		return mapError(c, err, "Schedule not found")
	}
	return response.OK(c, model.ScheduleListResponse{Schedules: schedules})
}

// Delete handles DELETE /api/schedules/:configId
//
// An in-flight run is not force-terminated; its result is discarded when
// the completion callback finds the config gone.
func (h *ScheduleHandler) Delete(c *fiber.Ctx) error {
	cfg, err := h.loadOwned(c)
	if cfg == nil {
		return err
	}
	if err := h.service.Delete(c.Context(), cfg.ID); err != nil {
		return mapError(c, err, "Schedule not found")
	}
	return response.NoContent(c)
}

// RunNow handles POST /api/schedules/:configId/run-now
func (h *ScheduleHandler) RunNow(c *fiber.Ctx) error {
	cfg, err := h.loadOwned(c)
	if cfg == nil {
		return err
	}
	if err := h.service.RunNow(c.Context(), cfg.ID); err != nil {
		return mapError(c, err, "Schedule not found")
	}
	return response.Accepted(c, model.RunNowResponse{ConfigID: cfg.ID, Triggered: true})
}

func (h *ScheduleHandler) loadOwned(c *fiber.Ctx) (*model.ScheduleConfig, error) {
	configID := c.Params("configId")
	if configID == "" {
		return nil, response.ValidationError(c, "Config ID is required", nil)
	}

	cfg, err := h.service.Get(c.Context(), configID)
	if err != nil {
		return nil, mapError(c, err, "Schedule not found")
	}
	if cfg.TenantID != middleware.GetTenantID(c) {
		return nil, response.NotFound(c, "Schedule not found")
	}
	return cfg, nil
}
