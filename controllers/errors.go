package controller

import (
	"errors"

	"cadence/services"
	"cadence/utils"

	"github.com/gofiber/fiber/v2"
)

// respondError maps service errors onto HTTP statuses.
func respondError(c *fiber.Ctx, err error, message string) error {
	var channelErr *services.ChannelError
	switch {
	case errors.Is(err, services.ErrNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Not found", err)
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrNoSteps):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, services.ErrDayGated):
		return utils.ErrorResponse(c, fiber.StatusForbidden, "Step day is not available yet", err)
	case errors.Is(err, services.ErrStaleState), errors.Is(err, services.ErrStepInUse):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Conflict", err)
	case errors.As(err, &channelErr):
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Channel send failed", err)
	}
	utils.LogError("request_failed", err, map[string]interface{}{
		"path":   c.Path(),
		"method": c.Method(),
	})
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, message, err)
}

func badRequest(c *fiber.Ctx, message string, err error) error {
	return utils.ErrorResponse(c, fiber.StatusBadRequest, message, err)
}
