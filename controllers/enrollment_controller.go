package controller

import (
	"cadence/middleware"
	"cadence/models"
	"cadence/services"
	"cadence/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type EnrollmentController struct {
	Tracker *services.EnrollmentTracker
	Logger  logrus.FieldLogger
}

func NewEnrollmentController(tracker *services.EnrollmentTracker, logger logrus.FieldLogger) *EnrollmentController {
	return &EnrollmentController{
		Tracker: tracker,
		Logger:  logger,
	}
}

// EnrollLeads enrolls one or more leads. Per-lead failures are reported
// alongside the successful enrollments.
func (ec *EnrollmentController) EnrollLeads(c *fiber.Ctx) error {
	cadenceID, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	var input struct {
		LeadIDs        []uint `json:"lead_ids" validate:"required,min=1"`
		StartingStepID *uint  `json:"starting_step_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return badRequest(c, "Validation failed", err)
	}

	tenantID := middleware.TenantID(c)
	enrolled := make([]models.CadenceLead, 0, len(input.LeadIDs))
	failed := map[uint]string{}
	for _, leadID := range input.LeadIDs {
		enrollment, err := ec.Tracker.Enroll(c.UserContext(), tenantID, leadID, cadenceID, input.StartingStepID)
		if err != nil {
			failed[leadID] = err.Error()
			continue
		}
		enrolled = append(enrolled, *enrollment)
	}

	if len(enrolled) == 0 && len(failed) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "No leads were enrolled",
			"failed":  failed,
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"data":     enrolled,
		"enrolled": len(enrolled),
		"failed":   failed,
	})
}

func (ec *EnrollmentController) RemoveLead(c *fiber.Ctx) error {
	cadenceID, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	leadID, err := utils.ParamID(c, "leadId")
	if err != nil {
		return badRequest(c, "Invalid lead ID", err)
	}
	if err := ec.Tracker.Remove(c.UserContext(), middleware.TenantID(c), leadID, cadenceID); err != nil {
		return respondError(c, err, "Failed to remove lead")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Lead removed from cadence",
	})
}

// GetLeadEnrollments lists every cadence a lead is enrolled in.
func (ec *EnrollmentController) GetLeadEnrollments(c *fiber.Ctx) error {
	leadID, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid lead ID", err)
	}
	rows, err := ec.Tracker.ForLead(c.UserContext(), middleware.TenantID(c), leadID)
	if err != nil {
		return respondError(c, err, "Failed to fetch enrollments")
	}
	return c.JSON(utils.SuccessResponse(rows))
}

func (ec *EnrollmentController) GetCadenceLeads(c *fiber.Ctx) error {
	cadenceID, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid cadence ID", err)
	}
	status := models.EnrollmentStatus(c.Query("status"))
	rows, err := ec.Tracker.ForCadence(c.UserContext(), middleware.TenantID(c), cadenceID, status)
	if err != nil {
		return respondError(c, err, "Failed to fetch enrollments")
	}
	return c.JSON(utils.SuccessResponse(rows))
}
