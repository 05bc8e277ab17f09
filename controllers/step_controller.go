package controller

import (
	"encoding/json"

	"cadence/middleware"
	"cadence/models"
	"cadence/services"
	"cadence/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type StepController struct {
	Service *services.StepService
	Logger  logrus.FieldLogger
}

func NewStepController(service *services.StepService, logger logrus.FieldLogger) *StepController {
	return &StepController{
		Service: service,
		Logger:  logger,
	}
}

func (sc *StepController) CreateStep(c *fiber.Ctx) error {
	cadenceID, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}

	var input struct {
		StepType  models.StepType `json:"step_type"`
		Label     string          `json:"label"`
		DayOffset int             `json:"day_offset"`
		Config    json.RawMessage `json:"config"`
	}
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if !input.StepType.Valid() {
		return badRequest(c, "Unknown step type", nil)
	}
	cfg, err := models.DecodeStepConfig(input.StepType, input.Config)
	if err != nil {
		return badRequest(c, "Invalid step config", err)
	}

	step, err := sc.Service.CreateStep(c.UserContext(), middleware.TenantID(c), cadenceID, services.CreateStepInput{
		StepType:  input.StepType,
		Label:     input.Label,
		DayOffset: input.DayOffset,
		Config:    cfg,
	})
	if err != nil {
		return respondError(c, err, "Failed to create step")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(step))
}

func (sc *StepController) UpdateStep(c *fiber.Ctx) error {
	stepID, err := utils.ParamID(c, "stepId")
	if err != nil {
		return badRequest(c, "Invalid step ID", err)
	}
	var input struct {
		Label  *string         `json:"label"`
		Config json.RawMessage `json:"config"`
	}
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body", err)
	}

	step, err := sc.Service.UpdateStep(c.UserContext(), middleware.TenantID(c), stepID, services.StepUpdate{
		Label:     input.Label,
		RawConfig: input.Config,
	})
	if err != nil {
		return respondError(c, err, "Failed to update step")
	}
	return c.JSON(utils.SuccessResponse(step))
}

func (sc *StepController) DeleteStep(c *fiber.Ctx) error {
	stepID, err := utils.ParamID(c, "stepId")
	if err != nil {
		return badRequest(c, "Invalid step ID", err)
	}
	if err := sc.Service.DeleteStep(c.UserContext(), middleware.TenantID(c), stepID); err != nil {
		return respondError(c, err, "Failed to delete step")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Step deleted successfully",
	})
}

// MoveStep swaps a step with its neighbor on the same day.
func (sc *StepController) MoveStep(c *fiber.Ctx) error {
	stepID, err := utils.ParamID(c, "stepId")
	if err != nil {
		return badRequest(c, "Invalid step ID", err)
	}
	var input struct {
		Direction services.MoveDirection `json:"direction" validate:"required,oneof=up down"`
	}
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return badRequest(c, "Validation failed", err)
	}

	catalog, err := sc.Service.MoveWithinDay(c.UserContext(), middleware.TenantID(c), stepID, input.Direction)
	if err != nil {
		return respondError(c, err, "Failed to move step")
	}
	return c.JSON(utils.SuccessResponse(catalog.Ordered()))
}

// MoveStepToDay reassigns a step to another day, appending it there.
func (sc *StepController) MoveStepToDay(c *fiber.Ctx) error {
	stepID, err := utils.ParamID(c, "stepId")
	if err != nil {
		return badRequest(c, "Invalid step ID", err)
	}
	var input struct {
		DayOffset *int `json:"day_offset" validate:"required,min=0"`
	}
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return badRequest(c, "Validation failed", err)
	}

	step, err := sc.Service.MoveToDay(c.UserContext(), middleware.TenantID(c), stepID, *input.DayOffset)
	if err != nil {
		return respondError(c, err, "Failed to move step")
	}
	return c.JSON(utils.SuccessResponse(step))
}

func (sc *StepController) GetStepsByDay(c *fiber.Ctx) error {
	cadenceID, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	catalog, err := sc.Service.Catalog(c.UserContext(), middleware.TenantID(c), cadenceID)
	if err != nil {
		return respondError(c, err, "Failed to fetch steps")
	}

	type dayBucket struct {
		DayOffset int           `json:"day_offset"`
		Steps     []models.Step `json:"steps"`
	}
	byDay := catalog.ByDay()
	days := make([]dayBucket, 0, len(byDay))
	for _, day := range catalog.Days() {
		days = append(days, dayBucket{DayOffset: day, Steps: byDay[day]})
	}
	return c.JSON(utils.SuccessResponse(days))
}

// GetStepOrder returns every step in traversal order.
func (sc *StepController) GetStepOrder(c *fiber.Ctx) error {
	cadenceID, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	catalog, err := sc.Service.Catalog(c.UserContext(), middleware.TenantID(c), cadenceID)
	if err != nil {
		return respondError(c, err, "Failed to fetch steps")
	}
	return c.JSON(utils.SuccessResponse(catalog.Ordered()))
}
