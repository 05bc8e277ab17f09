package services

import (
	"context"
	"fmt"

	"cadence/models"
	"cadence/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type CadenceInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Timezone    string `json:"timezone" validate:"omitempty,timezone"`
}

// CadenceView is a cadence with its steps in traversal order and the live day.
type CadenceView struct {
	models.Cadence
	CurrentDay int `json:"current_day"`
}

// CadenceService manages cadence records.
type CadenceService struct {
	DB     *gorm.DB
	Gate   *DayGate
	Logger logrus.FieldLogger
}

func NewCadenceService(db *gorm.DB, gate *DayGate, logger logrus.FieldLogger) *CadenceService {
	return &CadenceService{DB: db, Gate: gate, Logger: logger}
}

func (s *CadenceService) Create(ctx context.Context, tenantID, ownerID uint, input CadenceInput) (*models.Cadence, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	tz := input.Timezone
	if tz == "" {
		tz = "UTC"
	}
	cadence := models.Cadence{
		TenantID:    tenantID,
		OwnerID:     ownerID,
		Name:        input.Name,
		Description: input.Description,
		Status:      models.CadenceStatusDraft,
		Timezone:    tz,
	}
	if err := s.DB.WithContext(ctx).Create(&cadence).Error; err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{"tenant_id": tenantID, "cadence_id": cadence.ID}).Info("Cadence created")
	return &cadence, nil
}

func (s *CadenceService) Get(ctx context.Context, tenantID, cadenceID uint) (*CadenceView, error) {
	db := s.DB.WithContext(ctx)
	cadence, err := findCadence(ctx, db, tenantID, cadenceID)
	if err != nil {
		return nil, err
	}
	catalog, err := loadCatalog(ctx, db, tenantID, cadenceID)
	if err != nil {
		return nil, err
	}
	cadence.Steps = catalog.Ordered()
	return &CadenceView{Cadence: *cadence, CurrentDay: s.Gate.CurrentDay(cadence)}, nil
}

func (s *CadenceService) List(ctx context.Context, tenantID uint) ([]models.Cadence, error) {
	var cadences []models.Cadence
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Find(&cadences).Error
	return cadences, err
}

func (s *CadenceService) Update(ctx context.Context, tenantID, cadenceID uint, input CadenceInput) (*models.Cadence, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	db := s.DB.WithContext(ctx)
	cadence, err := findCadence(ctx, db, tenantID, cadenceID)
	if err != nil {
		return nil, err
	}
	cadence.Name = input.Name
	cadence.Description = input.Description
	if input.Timezone != "" {
		cadence.Timezone = input.Timezone
	}
	if err := db.Model(cadence).Updates(map[string]interface{}{
		"name":        cadence.Name,
		"description": cadence.Description,
		"timezone":    cadence.Timezone,
	}).Error; err != nil {
		return nil, err
	}
	return cadence, nil
}

// SetStatus moves a cadence between draft and active. A cadence needs at
// least one step to become active.
func (s *CadenceService) SetStatus(ctx context.Context, tenantID, cadenceID uint, status models.CadenceStatus) (*models.Cadence, error) {
	if status != models.CadenceStatusActive && status != models.CadenceStatusDraft {
		return nil, validationError("unknown cadence status %q", status)
	}
	db := s.DB.WithContext(ctx)
	cadence, err := findCadence(ctx, db, tenantID, cadenceID)
	if err != nil {
		return nil, err
	}
	if status == models.CadenceStatusActive {
		var steps int64
		if err := db.Model(&models.Step{}).Where("cadence_id = ?", cadence.ID).Count(&steps).Error; err != nil {
			return nil, err
		}
		if steps == 0 {
			return nil, ErrNoSteps
		}
	}
	if err := db.Model(cadence).Update("status", status).Error; err != nil {
		return nil, err
	}
	cadence.Status = status
	s.Logger.WithFields(logrus.Fields{"cadence_id": cadence.ID, "status": status}).Info("Cadence status changed")
	return cadence, nil
}

// CurrentDay reports the live day of a cadence.
func (s *CadenceService) CurrentDay(ctx context.Context, tenantID, cadenceID uint) (int, error) {
	cadence, err := findCadence(ctx, s.DB, tenantID, cadenceID)
	if err != nil {
		return 0, err
	}
	return s.Gate.CurrentDay(cadence), nil
}

// Delete removes a cadence together with its steps, enrollments, schedules
// and execution history.
func (s *CadenceService) Delete(ctx context.Context, tenantID, cadenceID uint) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cadence, err := findCadence(ctx, tx, tenantID, cadenceID)
		if err != nil {
			return err
		}
		if err := tx.Where("cadence_id = ?", cadence.ID).Delete(&models.Schedule{}).Error; err != nil {
			return err
		}
		if err := tx.Where("cadence_id = ?", cadence.ID).Delete(&models.StepExecution{}).Error; err != nil {
			return err
		}
		if err := tx.Where("cadence_id = ?", cadence.ID).Delete(&models.CadenceLead{}).Error; err != nil {
			return err
		}
		if err := tx.Where("cadence_id = ?", cadence.ID).Delete(&models.Step{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(cadence).Error; err != nil {
			return err
		}
		s.Logger.WithFields(logrus.Fields{"tenant_id": tenantID, "cadence_id": cadence.ID}).Info("Cadence deleted")
		return nil
	})
}
