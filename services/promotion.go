package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cadence/models"
	"cadence/utils"

	"github.com/badoux/checkmail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type PromoteResult struct {
	ProspectID uint                `json:"prospect_id"`
	LeadID     uint                `json:"lead_id"`
	Duplicate  bool                `json:"duplicate"`
	Enrollment *models.CadenceLead `json:"enrollment,omitempty"`
}

type BulkPromoteResult struct {
	Promoted   int             `json:"promoted"`
	Duplicates int             `json:"duplicates"`
	Failed     int             `json:"failed"`
	Results    []PromoteResult `json:"results"`
	Errors     map[uint]string `json:"errors,omitempty"`
	// EnrollmentErrors holds prospects that became leads but were not enrolled.
	EnrollmentErrors map[uint]string `json:"enrollment_errors,omitempty"`
}

// PromotionService turns prospects into leads.
type PromotionService struct {
	DB      *gorm.DB
	Tracker *EnrollmentTracker
	Clock   Clock
	Logger  logrus.FieldLogger
}

func NewPromotionService(db *gorm.DB, tracker *EnrollmentTracker, clock Clock, logger logrus.FieldLogger) *PromotionService {
	if clock == nil {
		clock = SystemClock
	}
	return &PromotionService{DB: db, Tracker: tracker, Clock: clock, Logger: logger}
}

// Promote copies a prospect into a new lead. A lead with the same LinkedIn
// URL, or failing that the same email, marks the result as a duplicate but
// does not stop the lead from being created. When cadenceID is set the new
// lead is enrolled at the cadence's first step.
func (s *PromotionService) Promote(ctx context.Context, tenantID, prospectID uint, cadenceID *uint) (*PromoteResult, error) {
	db := s.DB.WithContext(ctx)

	var prospect models.Prospect
	if err := db.Where("id = ? AND tenant_id = ?", prospectID, tenantID).First(&prospect).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("prospect", prospectID)
		}
		return nil, err
	}
	if prospect.Status == models.ProspectStatusPromoted {
		return nil, validationError("prospect %d is already promoted", prospectID)
	}
	email := strings.TrimSpace(prospect.Email)
	if email != "" {
		if err := checkmail.ValidateFormat(email); err != nil {
			return nil, validationError("prospect %d has malformed email %q", prospectID, email)
		}
	}
	if cadenceID != nil {
		if _, err := findCadence(ctx, db, tenantID, *cadenceID); err != nil {
			return nil, err
		}
	}

	result := &PromoteResult{ProspectID: prospectID}
	err := db.Transaction(func(tx *gorm.DB) error {
		duplicate, err := hasDuplicate(tx, tenantID, strings.TrimSpace(prospect.LinkedInURL), email)
		if err != nil {
			return err
		}
		result.Duplicate = duplicate

		lead := models.Lead{
			TenantID:      tenantID,
			FirstName:     prospect.FirstName,
			LastName:      prospect.LastName,
			Company:       prospect.Company,
			Title:         prospect.Title,
			Email:         email,
			LinkedInURL:   strings.TrimSpace(prospect.LinkedInURL),
			Industry:      prospect.Industry,
			Website:       prospect.Website,
			Department:    prospect.Department,
			AnnualRevenue: prospect.AnnualRevenue,
			Timezone:      prospect.Timezone,
			Source:        "prospect",
			ProspectID:    utils.Pointer(prospect.ID),
		}
		if err := tx.Create(&lead).Error; err != nil {
			return err
		}
		result.LeadID = lead.ID

		res := tx.Model(&models.Prospect{}).
			Where("id = ? AND status <> ?", prospect.ID, models.ProspectStatusPromoted).
			Updates(map[string]interface{}{
				"status":           models.ProspectStatusPromoted,
				"promoted_lead_id": lead.ID,
				"promoted_at":      s.Clock.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("prospect %d: %w", prospect.ID, ErrStaleState)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cadenceID != nil {
		enrollment, err := s.Tracker.Enroll(ctx, tenantID, result.LeadID, *cadenceID, nil)
		if err != nil {
			return result, fmt.Errorf("lead %d created but enrollment failed: %w", result.LeadID, err)
		}
		result.Enrollment = enrollment
	}

	s.Logger.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"prospect_id": prospectID,
		"lead_id":     result.LeadID,
		"duplicate":   result.Duplicate,
	}).Info("Prospect promoted")
	return result, nil
}

func hasDuplicate(tx *gorm.DB, tenantID uint, linkedInURL, email string) (bool, error) {
	var count int64
	if linkedInURL != "" {
		if err := tx.Model(&models.Lead{}).
			Where("tenant_id = ? AND linkedin_url = ?", tenantID, linkedInURL).
			Count(&count).Error; err != nil {
			return false, err
		}
		if count > 0 {
			return true, nil
		}
	}
	if email != "" {
		if err := tx.Model(&models.Lead{}).
			Where("tenant_id = ? AND email = ?", tenantID, email).
			Count(&count).Error; err != nil {
			return false, err
		}
		return count > 0, nil
	}
	return false, nil
}

// BulkPromote promotes each prospect in turn. Failures are logged and
// counted; they never stop the batch. A prospect whose lead was created but
// could not be enrolled counts as promoted and its enrollment error is kept
// in EnrollmentErrors.
func (s *PromotionService) BulkPromote(ctx context.Context, tenantID uint, prospectIDs []uint, cadenceID *uint) *BulkPromoteResult {
	out := &BulkPromoteResult{Errors: map[uint]string{}, EnrollmentErrors: map[uint]string{}}
	for _, id := range prospectIDs {
		res, err := s.Promote(ctx, tenantID, id, cadenceID)
		if err != nil {
			fields := map[string]interface{}{
				"tenant_id":   tenantID,
				"prospect_id": id,
			}
			if res == nil || res.LeadID == 0 {
				out.Failed++
				out.Errors[id] = err.Error()
				utils.LogError("prospect_promotion_failed", err, fields)
				continue
			}
			fields["lead_id"] = res.LeadID
			out.EnrollmentErrors[id] = err.Error()
			utils.LogError("prospect_enrollment_failed", err, fields)
		}
		out.Promoted++
		if res.Duplicate {
			out.Duplicates++
		}
		out.Results = append(out.Results, *res)
	}
	return out
}
