package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/autoreel/api/internal/middleware"
	"github.com/autoreel/api/internal/model"
	"github.com/autoreel/api/internal/service"
	"github.com/autoreel/api/pkg/response"
)

type PreviewHandler struct {
	service   *service.PreviewService
	validator *validator.Validate
}

func NewPreviewHandler(svc *service.PreviewService, v *validator.Validate) *PreviewHandler {
	return &PreviewHandler{
		service:   svc,
		validator: v,
	}
}

// Preview handles POST /api/audio/preview
//
// Identical requests (after text normalization) hit the cache instead of
// the synthesis service; concurrent identical requests share one
// generation.
func (h *PreviewHandler) Preview(c *fiber.Ctx) error {
	var req model.PreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	audioURL, cached, err := h.service.GetOrGenerate(c.Context(), middleware.GetTenantID(c), &req)
	if err != nil {
		return mapError(c, err, "Preview not found")
	}

	return response.OK(c, model.PreviewResponse{
		Status:   "ok",
		AudioURL: audioURL,
		Cached:   cached,
	})
}
