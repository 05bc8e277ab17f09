package controller

import (
	"cadence/middleware"
	"cadence/models"
	"cadence/services"
	"cadence/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type CadenceController struct {
	Service *services.CadenceService
	Logger  logrus.FieldLogger
}

func NewCadenceController(service *services.CadenceService, logger logrus.FieldLogger) *CadenceController {
	return &CadenceController{
		Service: service,
		Logger:  logger,
	}
}

func (cc *CadenceController) CreateCadence(c *fiber.Ctx) error {
	var input services.CadenceInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body", err)
	}

	cadence, err := cc.Service.Create(c.UserContext(), middleware.TenantID(c), middleware.UserID(c), input)
	if err != nil {
		return respondError(c, err, "Failed to create cadence")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(cadence))
}

func (cc *CadenceController) GetCadences(c *fiber.Ctx) error {
	cadences, err := cc.Service.List(c.UserContext(), middleware.TenantID(c))
	if err != nil {
		return respondError(c, err, "Failed to fetch cadences")
	}
	return c.JSON(utils.SuccessResponse(cadences))
}

// GetCadence returns the cadence with its ordered steps and live day.
func (cc *CadenceController) GetCadence(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	view, err := cc.Service.Get(c.UserContext(), middleware.TenantID(c), id)
	if err != nil {
		return respondError(c, err, "Failed to fetch cadence")
	}
	return c.JSON(utils.SuccessResponse(view))
}

func (cc *CadenceController) UpdateCadence(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	var input services.CadenceInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	cadence, err := cc.Service.Update(c.UserContext(), middleware.TenantID(c), id, input)
	if err != nil {
		return respondError(c, err, "Failed to update cadence")
	}
	return c.JSON(utils.SuccessResponse(cadence))
}

func (cc *CadenceController) DeleteCadence(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	if err := cc.Service.Delete(c.UserContext(), middleware.TenantID(c), id); err != nil {
		return respondError(c, err, "Failed to delete cadence")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Cadence deleted successfully",
	})
}

func (cc *CadenceController) ActivateCadence(c *fiber.Ctx) error {
	return cc.setStatus(c, models.CadenceStatusActive)
}

func (cc *CadenceController) DeactivateCadence(c *fiber.Ctx) error {
	return cc.setStatus(c, models.CadenceStatusDraft)
}

func (cc *CadenceController) setStatus(c *fiber.Ctx, status models.CadenceStatus) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	cadence, err := cc.Service.SetStatus(c.UserContext(), middleware.TenantID(c), id, status)
	if err != nil {
		return respondError(c, err, "Failed to update cadence status")
	}
	return c.JSON(utils.SuccessResponse(cadence))
}

func (cc *CadenceController) GetCurrentDay(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	day, err := cc.Service.CurrentDay(c.UserContext(), middleware.TenantID(c), id)
	if err != nil {
		return respondError(c, err, "Failed to compute current day")
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"cadence_id":  id,
		"current_day": day,
	}))
}
