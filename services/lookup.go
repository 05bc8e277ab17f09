package services

import (
	"context"
	"errors"

	"cadence/models"

	"gorm.io/gorm"
)

func findCadence(ctx context.Context, db *gorm.DB, tenantID, cadenceID uint) (*models.Cadence, error) {
	var cadence models.Cadence
	if err := db.WithContext(ctx).Where("id = ? AND tenant_id = ?", cadenceID, tenantID).First(&cadence).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("cadence", cadenceID)
		}
		return nil, err
	}
	return &cadence, nil
}

func findStep(ctx context.Context, db *gorm.DB, tenantID, stepID uint) (*models.Step, error) {
	var step models.Step
	if err := db.WithContext(ctx).Where("id = ? AND tenant_id = ?", stepID, tenantID).First(&step).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("step", stepID)
		}
		return nil, err
	}
	return &step, nil
}

func findLead(ctx context.Context, db *gorm.DB, tenantID, leadID uint) (*models.Lead, error) {
	var lead models.Lead
	if err := db.WithContext(ctx).Where("id = ? AND tenant_id = ?", leadID, tenantID).First(&lead).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("lead", leadID)
		}
		return nil, err
	}
	return &lead, nil
}

func findEnrollment(ctx context.Context, db *gorm.DB, tenantID, leadID, cadenceID uint) (*models.CadenceLead, error) {
	var enrollment models.CadenceLead
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND lead_id = ? AND cadence_id = ?", tenantID, leadID, cadenceID).
		First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("enrollment for lead", leadID)
		}
		return nil, err
	}
	return &enrollment, nil
}

// stepInCadence loads a step and checks it belongs to the cadence.
func stepInCadence(ctx context.Context, db *gorm.DB, tenantID, cadenceID, stepID uint) (*models.Step, error) {
	step, err := findStep(ctx, db, tenantID, stepID)
	if err != nil {
		return nil, err
	}
	if step.CadenceID != cadenceID {
		return nil, validationError("step %d does not belong to cadence %d", stepID, cadenceID)
	}
	return step, nil
}

func loadCatalog(ctx context.Context, db *gorm.DB, tenantID, cadenceID uint) (*Catalog, error) {
	var steps []models.Step
	if err := db.WithContext(ctx).
		Where("tenant_id = ? AND cadence_id = ?", tenantID, cadenceID).
		Find(&steps).Error; err != nil {
		return nil, err
	}
	return NewCatalog(steps), nil
}
