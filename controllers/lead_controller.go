package controller

import (
	"strconv"

	"cadence/middleware"
	"cadence/models"
	"cadence/services"
	"cadence/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type LeadController struct {
	Leads     *services.LeadService
	Promotion *services.PromotionService
	Logger    logrus.FieldLogger
}

func NewLeadController(leads *services.LeadService, promotion *services.PromotionService, logger logrus.FieldLogger) *LeadController {
	return &LeadController{
		Leads:     leads,
		Promotion: promotion,
		Logger:    logger,
	}
}

func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	var input services.ContactInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	lead, err := lc.Leads.CreateLead(c.UserContext(), middleware.TenantID(c), input)
	if err != nil {
		return respondError(c, err, "Failed to create lead")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(lead))
}

// GetLeads returns paginated list of leads with filters
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit > 100 {
		limit = 100
	}

	leads, total, err := lc.Leads.ListLeads(c.UserContext(), middleware.TenantID(c), services.LeadFilter{
		Search: c.Query("search"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		return respondError(c, err, "Failed to fetch leads")
	}
	return c.JSON(utils.SuccessResponse(utils.PaginatedResponse{
		Data:  leads,
		Total: total,
		Page:  page,
		Limit: limit,
	}))
}

func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid lead ID", err)
	}
	lead, err := lc.Leads.GetLead(c.UserContext(), middleware.TenantID(c), id)
	if err != nil {
		return respondError(c, err, "Failed to fetch lead")
	}
	return c.JSON(utils.SuccessResponse(lead))
}

func (lc *LeadController) CreateProspect(c *fiber.Ctx) error {
	var input services.ContactInput
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	prospect, err := lc.Leads.CreateProspect(c.UserContext(), middleware.TenantID(c), input)
	if err != nil {
		return respondError(c, err, "Failed to create prospect")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(prospect))
}

func (lc *LeadController) GetProspects(c *fiber.Ctx) error {
	status := models.ProspectStatus(c.Query("status"))
	prospects, err := lc.Leads.ListProspects(c.UserContext(), middleware.TenantID(c), status)
	if err != nil {
		return respondError(c, err, "Failed to fetch prospects")
	}
	return c.JSON(utils.SuccessResponse(prospects))
}

// PromoteProspect turns a prospect into a lead, optionally enrolling it.
func (lc *LeadController) PromoteProspect(c *fiber.Ctx) error {
	id, err := utils.ParamID(c, "id")
	if err != nil {
		return badRequest(c, "Invalid prospect ID", err)
	}
	var input struct {
		CadenceID *uint `json:"cadence_id"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&input); err != nil {
			return badRequest(c, "Invalid request body", err)
		}
	}

	result, err := lc.Promotion.Promote(c.UserContext(), middleware.TenantID(c), id, input.CadenceID)
	if err != nil {
		return respondError(c, err, "Failed to promote prospect")
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(result))
}

func (lc *LeadController) BulkPromoteProspects(c *fiber.Ctx) error {
	var input struct {
		ProspectIDs []uint `json:"prospect_ids" validate:"required,min=1"`
		CadenceID   *uint  `json:"cadence_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return badRequest(c, "Validation failed", err)
	}

	result := lc.Promotion.BulkPromote(c.UserContext(), middleware.TenantID(c), input.ProspectIDs, input.CadenceID)
	return c.JSON(utils.SuccessResponse(result))
}
