package services

import (
	"context"

	"cadence/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnrollmentTracker owns the (lead, cadence) position rows.
type EnrollmentTracker struct {
	DB     *gorm.DB
	Clock  Clock
	Logger logrus.FieldLogger
}

func NewEnrollmentTracker(db *gorm.DB, clock Clock, logger logrus.FieldLogger) *EnrollmentTracker {
	if clock == nil {
		clock = SystemClock
	}
	return &EnrollmentTracker{DB: db, Clock: clock, Logger: logger}
}

// AdvanceResult reports what a call to Advance did.
type AdvanceResult struct {
	Advanced   bool                `json:"advanced"`
	Completed  bool                `json:"completed"`
	Enrollment *models.CadenceLead `json:"enrollment,omitempty"`
}

// Enroll places a lead in a cadence at startingStepID, or at the first step
// when nil. Re-enrolling resets the existing row to active.
func (t *EnrollmentTracker) Enroll(ctx context.Context, tenantID, leadID, cadenceID uint, startingStepID *uint) (*models.CadenceLead, error) {
	db := t.DB.WithContext(ctx)
	if _, err := findLead(ctx, db, tenantID, leadID); err != nil {
		return nil, err
	}
	if _, err := findCadence(ctx, db, tenantID, cadenceID); err != nil {
		return nil, err
	}

	var stepID *uint
	if startingStepID != nil {
		step, err := stepInCadence(ctx, db, tenantID, cadenceID, *startingStepID)
		if err != nil {
			return nil, err
		}
		stepID = &step.ID
	} else {
		catalog, err := loadCatalog(ctx, db, tenantID, cadenceID)
		if err != nil {
			return nil, err
		}
		if first := catalog.First(); first != nil {
			stepID = &first.ID
		}
	}

	now := t.Clock.Now()
	row := models.CadenceLead{
		TenantID:      tenantID,
		LeadID:        leadID,
		CadenceID:     cadenceID,
		CurrentStepID: stepID,
		Status:        models.EnrollmentActive,
		EnrolledAt:    now,
	}
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "lead_id"}, {Name: "cadence_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"current_step_id": stepID,
			"status":          models.EnrollmentActive,
			"enrolled_at":     now,
			"completed_at":    nil,
			"updated_at":      now,
		}),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}

	t.Logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"lead_id":    leadID,
		"cadence_id": cadenceID,
		"step_id":    stepID,
	}).Info("Lead enrolled")
	return findEnrollment(ctx, db, tenantID, leadID, cadenceID)
}

// Remove pauses the enrollment and clears its position. The row is kept so
// history survives and a later Enroll can reset it.
func (t *EnrollmentTracker) Remove(ctx context.Context, tenantID, leadID, cadenceID uint) error {
	res := t.DB.WithContext(ctx).Model(&models.CadenceLead{}).
		Where("tenant_id = ? AND lead_id = ? AND cadence_id = ?", tenantID, leadID, cadenceID).
		Updates(map[string]interface{}{
			"status":          models.EnrollmentPaused,
			"current_step_id": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("enrollment for lead", leadID)
	}
	return nil
}

// Advance moves the enrollment from fromStepID to the next step, or
// completes it after the last step. The write only applies while the row is
// still at fromStepID; a lost race returns Advanced=false and no error.
func (t *EnrollmentTracker) Advance(ctx context.Context, tenantID, leadID, cadenceID, fromStepID uint) (*AdvanceResult, error) {
	return t.advance(ctx, t.DB.WithContext(ctx), tenantID, leadID, cadenceID, fromStepID)
}

func (t *EnrollmentTracker) advance(ctx context.Context, db *gorm.DB, tenantID, leadID, cadenceID, fromStepID uint) (*AdvanceResult, error) {
	catalog, err := loadCatalog(ctx, db, tenantID, cadenceID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	next := catalog.Next(fromStepID)
	if next != nil {
		updates["current_step_id"] = next.ID
		updates["status"] = models.EnrollmentActive
	} else {
		updates["current_step_id"] = nil
		updates["status"] = models.EnrollmentCompleted
		updates["completed_at"] = t.Clock.Now()
	}

	res := db.Model(&models.CadenceLead{}).
		Where("tenant_id = ? AND lead_id = ? AND cadence_id = ? AND current_step_id = ?", tenantID, leadID, cadenceID, fromStepID).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}

	enrollment, err := findEnrollment(ctx, db, tenantID, leadID, cadenceID)
	if err != nil {
		return nil, err
	}
	result := &AdvanceResult{
		Advanced:   res.RowsAffected == 1,
		Completed:  res.RowsAffected == 1 && next == nil,
		Enrollment: enrollment,
	}
	if !result.Advanced {
		t.Logger.WithFields(logrus.Fields{
			"lead_id":    leadID,
			"cadence_id": cadenceID,
			"from_step":  fromStepID,
		}).Debug("Advance skipped, enrollment already moved")
	}
	return result, nil
}

// ForLead lists every enrollment of a lead, one row per cadence.
func (t *EnrollmentTracker) ForLead(ctx context.Context, tenantID, leadID uint) ([]models.CadenceLead, error) {
	if _, err := findLead(ctx, t.DB, tenantID, leadID); err != nil {
		return nil, err
	}
	var rows []models.CadenceLead
	err := t.DB.WithContext(ctx).
		Preload("Cadence").
		Preload("CurrentStep").
		Where("tenant_id = ? AND lead_id = ?", tenantID, leadID).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ForCadence lists the cadence's enrollments, optionally filtered by status.
func (t *EnrollmentTracker) ForCadence(ctx context.Context, tenantID, cadenceID uint, status models.EnrollmentStatus) ([]models.CadenceLead, error) {
	if _, err := findCadence(ctx, t.DB, tenantID, cadenceID); err != nil {
		return nil, err
	}
	query := t.DB.WithContext(ctx).
		Preload("Lead").
		Preload("CurrentStep").
		Where("tenant_id = ? AND cadence_id = ?", tenantID, cadenceID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var rows []models.CadenceLead
	err := query.Order("id ASC").Find(&rows).Error
	return rows, err
}

// AtStep returns runnable enrollments currently positioned at stepID,
// ordered by enrollment ID.
func (t *EnrollmentTracker) AtStep(ctx context.Context, tenantID, cadenceID, stepID uint) ([]models.CadenceLead, error) {
	var rows []models.CadenceLead
	err := t.DB.WithContext(ctx).
		Preload("Lead").
		Where("tenant_id = ? AND cadence_id = ? AND current_step_id = ? AND status IN ?",
			tenantID, cadenceID, stepID, runnableStatuses()).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func runnableStatuses() []models.EnrollmentStatus {
	return []models.EnrollmentStatus{
		models.EnrollmentActive,
		models.EnrollmentScheduled,
		models.EnrollmentGenerated,
		models.EnrollmentSent,
	}
}
