package controller

import (
	"cadence/middleware"
	"cadence/models"
	"cadence/services"
	"cadence/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type ScheduleController struct {
	Queue  *services.ScheduleQueue
	Logger logrus.FieldLogger
}

func NewScheduleController(queue *services.ScheduleQueue, logger logrus.FieldLogger) *ScheduleController {
	return &ScheduleController{
		Queue:  queue,
		Logger: logger,
	}
}

func (sc *ScheduleController) CreateSchedules(c *fiber.Ctx) error {
	var input struct {
		Entries []services.ScheduleEntry `json:"entries"`
	}
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body", err)
	}

	created, err := sc.Queue.BulkCreate(c.UserContext(), middleware.TenantID(c), input.Entries)
	if err != nil {
		return respondError(c, err, "Failed to create schedules")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"created": created,
	}))
}

// ScheduleFirstStep queues every active lead on the cadence's first step.
func (sc *ScheduleController) ScheduleFirstStep(c *fiber.Ctx) error {
	cadenceID, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	var input struct {
		Timezone string `json:"timezone" validate:"omitempty,timezone"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return badRequest(c, "Invalid request body", err)
		}
	}
	if err := utils.ValidateStruct(input); err != nil {
		return badRequest(c, "Validation failed", err)
	}

	rows, err := sc.Queue.ScheduleFirstStep(c.UserContext(), middleware.TenantID(c), cadenceID, input.Timezone)
	if err != nil {
		return respondError(c, err, "Failed to schedule first step")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    rows,
		"created": len(rows),
	})
}

func (sc *ScheduleController) CancelSchedule(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid schedule ID", err)
	}
	row, err := sc.Queue.Cancel(c.UserContext(), middleware.TenantID(c), id)
	if err != nil {
		return respondError(c, err, "Failed to cancel schedule")
	}
	return c.JSON(utils.SuccessResponse(row))
}

func (sc *ScheduleController) CancelAllSchedules(c *fiber.Ctx) error {
	cadenceID, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	count, err := sc.Queue.CancelAll(c.UserContext(), middleware.TenantID(c), cadenceID)
	if err != nil {
		return respondError(c, err, "Failed to cancel schedules")
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"canceled": count,
	}))
}

func (sc *ScheduleController) GetCadenceSchedules(c *fiber.Ctx) error {
	cadenceID, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	status := models.ScheduleStatus(c.Query("status"))
	rows, summary, err := sc.Queue.ListForCadence(c.UserContext(), middleware.TenantID(c), cadenceID, status)
	if err != nil {
		return respondError(c, err, "Failed to fetch schedules")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    rows,
		"summary": summary,
	})
}
