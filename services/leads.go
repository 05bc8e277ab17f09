package services

import (
	"context"
	"fmt"
	"strings"

	"cadence/models"
	"cadence/utils"

	"github.com/badoux/checkmail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ContactInput carries the identity fields shared by leads and prospects.
type ContactInput struct {
	FirstName     string `json:"first_name" validate:"max=100"`
	LastName      string `json:"last_name" validate:"max=100"`
	Company       string `json:"company" validate:"max=200"`
	Title         string `json:"title" validate:"max=200"`
	Email         string `json:"email" validate:"omitempty,email"`
	LinkedInURL   string `json:"linkedin_url" validate:"omitempty,url"`
	Industry      string `json:"industry"`
	Website       string `json:"website"`
	Department    string `json:"department"`
	AnnualRevenue string `json:"annual_revenue"`
	Timezone      string `json:"timezone" validate:"omitempty,timezone"`
}

func (in ContactInput) validate() error {
	if err := utils.ValidateStruct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if strings.TrimSpace(in.Email) == "" && strings.TrimSpace(in.LinkedInURL) == "" {
		return validationError("email or linkedin_url is required")
	}
	if in.Email != "" {
		if err := checkmail.ValidateFormat(strings.TrimSpace(in.Email)); err != nil {
			return validationError("malformed email %q", in.Email)
		}
	}
	return nil
}

type LeadFilter struct {
	Search string
	Page   int
	Limit  int
}

// LeadService stores leads and prospects.
type LeadService struct {
	DB     *gorm.DB
	Logger logrus.FieldLogger
}

func NewLeadService(db *gorm.DB, logger logrus.FieldLogger) *LeadService {
	return &LeadService{DB: db, Logger: logger}
}

func (s *LeadService) CreateLead(ctx context.Context, tenantID uint, in ContactInput) (*models.Lead, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	lead := models.Lead{
		TenantID:      tenantID,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Company:       in.Company,
		Title:         in.Title,
		Email:         strings.TrimSpace(in.Email),
		LinkedInURL:   strings.TrimSpace(in.LinkedInURL),
		Industry:      in.Industry,
		Website:       in.Website,
		Department:    in.Department,
		AnnualRevenue: in.AnnualRevenue,
		Timezone:      in.Timezone,
		Source:        "manual",
	}
	if err := s.DB.WithContext(ctx).Create(&lead).Error; err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{"tenant_id": tenantID, "lead_id": lead.ID}).Info("Lead created")
	return &lead, nil
}

func (s *LeadService) GetLead(ctx context.Context, tenantID, leadID uint) (*models.Lead, error) {
	return findLead(ctx, s.DB, tenantID, leadID)
}

// ListLeads pages through a tenant's leads, newest first.
func (s *LeadService) ListLeads(ctx context.Context, tenantID uint, filter LeadFilter) ([]models.Lead, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}

	query := s.DB.WithContext(ctx).Model(&models.Lead{}).Where("tenant_id = ?", tenantID)
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(company) LIKE ?",
			like, like, like, like,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var leads []models.Lead
	err := query.
		Order("created_at DESC, id DESC").
		Offset((filter.Page - 1) * filter.Limit).
		Limit(filter.Limit).
		Find(&leads).Error
	return leads, total, err
}

func (s *LeadService) CreateProspect(ctx context.Context, tenantID uint, in ContactInput) (*models.Prospect, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	prospect := models.Prospect{
		TenantID:      tenantID,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Company:       in.Company,
		Title:         in.Title,
		Email:         strings.TrimSpace(in.Email),
		LinkedInURL:   strings.TrimSpace(in.LinkedInURL),
		Industry:      in.Industry,
		Website:       in.Website,
		Department:    in.Department,
		AnnualRevenue: in.AnnualRevenue,
		Timezone:      in.Timezone,
		Status:        models.ProspectStatusNew,
	}
	if err := s.DB.WithContext(ctx).Create(&prospect).Error; err != nil {
		return nil, err
	}
	return &prospect, nil
}

func (s *LeadService) ListProspects(ctx context.Context, tenantID uint, status models.ProspectStatus) ([]models.Prospect, error) {
	query := s.DB.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var prospects []models.Prospect
	err := query.Order("id ASC").Find(&prospects).Error
	return prospects, err
}
