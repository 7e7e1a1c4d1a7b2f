package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/autoreel/api/internal/service"
	"github.com/autoreel/api/internal/store"
	"github.com/autoreel/api/pkg/response"
)

// mapError translates core errors into the JSON error envelope.
func mapError(c *fiber.Ctx, err error, notFoundMsg string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return response.NotFound(c, notFoundMsg)
	case errors.Is(err, store.ErrDuplicateID):
		return response.DuplicateID(c, "Id already exists")
	case errors.Is(err, store.ErrInvalidTransition):
		return response.InvalidTransition(c, "Record is not in a valid state for this operation")
	case errors.Is(err, store.ErrInvalidProgress):
		return response.InvalidProgress(c, "Progress must be non-decreasing and within total items")
	case errors.Is(err, store.ErrConflict):
		return response.ConcurrencyConflict(c, "Operation already handled by a concurrent caller")
	case errors.Is(err, service.ErrGenerationFailed):
		return response.GenerationError(c, err.Error())
	case errors.Is(err, service.ErrGenerationBusy):
		return response.ConcurrencyConflict(c, "Generation already in progress, retry shortly")
	default:
		return response.ServiceError(c, err.Error())
	}
}
