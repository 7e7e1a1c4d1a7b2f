package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/autoreel/api/internal/middleware"
	"github.com/autoreel/api/internal/model"
	"github.com/autoreel/api/internal/service"
	"github.com/autoreel/api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/jobs
func (h *JobHandler) Create(c *fiber.Ctx) error {
	var req model.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.service.Create(c.Context(), middleware.GetTenantID(c), &req)
	if err != nil {
		return mapError(c, err, "Job not found")
	}

	return response.Created(c, model.CreateJobResponse{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	})
}

// Get handles GET /api/jobs/:jobId
func (h *JobHandler) Get(c *fiber.Ctx) error {
	job, err := h.loadOwned(c)
	if job == nil {
		return err
	}
	return response.OK(c, job)
}

// List handles GET /api/jobs
func (h *JobHandler) List(c *fiber.Ctx) error {
	var q model.JobListQuery
	if err := c.QueryParser(&q); err != nil {
		return response.ValidationError(c, "Invalid query parameters", nil)
	}
	if q.Status != "" && !q.Status.Valid() {
		return response.ValidationError(c, "Unknown job status", nil)
	}

	result, err := h.service.List(c.Context(), middleware.GetTenantID(c), &q)
	if err != nil {
		return mapError(c, err, "Job not found")
	}
	return response.OK(c, result)
}

// Cancel handles POST /api/jobs/:jobId/cancel
//
// Cancellation is cooperative: the job flips to cancelled immediately, the
// executor stops whenever it next checks the flag.
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	job, err := h.loadOwned(c)
	if job == nil {
		return err
	}
	if err := h.service.Cancel(c.Context(), job.ID); err != nil {
		return mapError(c, err, "Job not found")
	}
	return response.OK(c, fiber.Map{"jobId": job.ID, "status": model.JobStatusCancelled})
}

// Start handles POST /api/jobs/:jobId/start (executor callback)
func (h *JobHandler) Start(c *fiber.Ctx) error {
	job, err := h.loadOwned(c)
	if job == nil {
		return err
	}
	if err := h.service.Start(c.Context(), job.ID); err != nil {
		return mapError(c, err, "Job not found")
	}
	return response.OK(c, fiber.Map{"jobId": job.ID, "status": model.JobStatusRunning})
}

// Progress handles POST /api/jobs/:jobId/progress (executor callback)
func (h *JobHandler) Progress(c *fiber.Ctx) error {
	job, err := h.loadOwned(c)
	if job == nil {
		return err
	}

	var req model.JobProgressRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.service.UpdateProgress(c.Context(), job.ID, &req); err != nil {
		return mapError(c, err, "Job not found")
	}
	return response.OK(c, fiber.Map{"jobId": job.ID, "progress": req.Progress})
}

// Complete handles POST /api/jobs/:jobId/complete (executor callback)
func (h *JobHandler) Complete(c *fiber.Ctx) error {
	job, err := h.loadOwned(c)
	if job == nil {
		return err
	}

	var req model.JobCompleteRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.service.Complete(c.Context(), job.ID, req.Result); err != nil {
		return mapError(c, err, "Job not found")
	}
	return response.OK(c, fiber.Map{"jobId": job.ID, "status": model.JobStatusCompleted})
}

// Fail handles POST /api/jobs/:jobId/fail (executor callback)
func (h *JobHandler) Fail(c *fiber.Ctx) error {
	job, err := h.loadOwned(c)
	if job == nil {
		return err
	}

	var req model.JobFailRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.service.Fail(c.Context(), job.ID, req.Error); err != nil {
		return mapError(c, err, "Job not found")
	}
	return response.OK(c, fiber.Map{"jobId": job.ID, "status": model.JobStatusFailed})
}

// loadOwned resolves the path job and enforces tenant isolation. Jobs from
// other tenants are indistinguishable from missing ones.
func (h *JobHandler) loadOwned(c *fiber.Ctx) (*model.Job, error) {
	jobID := c.Params("jobId")
	if jobID == "" {
		return nil, response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.Get(c.Context(), jobID)
	if err != nil {
		return nil, mapError(c, err, "Job not found")
	}

	tenantID := middleware.GetTenantID(c)
	if job.TenantID != "" && job.TenantID != tenantID {
		return nil, response.NotFound(c, "Job not found")
	}
	return job, nil
}
