package models

import "time"

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	// In-flight states used by queued automation.
	EnrollmentScheduled EnrollmentStatus = "scheduled"
	EnrollmentGenerated EnrollmentStatus = "generated"
	EnrollmentSent      EnrollmentStatus = "sent"
)

// Runnable reports whether a lead in this state may still execute steps.
func (s EnrollmentStatus) Runnable() bool {
	switch s {
	case EnrollmentActive, EnrollmentScheduled, EnrollmentGenerated, EnrollmentSent:
		return true
	}
	return false
}

// CadenceLead is a lead's position within one cadence. A lead holds one row
// per cadence it is enrolled in; rows are never deleted on completion.
type CadenceLead struct {
	ID        uint `gorm:"primarykey" json:"id"`
	TenantID  uint `gorm:"not null;index" json:"tenant_id"`
	LeadID    uint `gorm:"not null;uniqueIndex:idx_cadence_lead" json:"lead_id"`
	CadenceID uint `gorm:"not null;uniqueIndex:idx_cadence_lead;index" json:"cadence_id"`

	CurrentStepID *uint            `gorm:"index" json:"current_step_id"`
	Status        EnrollmentStatus `gorm:"not null;default:'active'" json:"status"`

	EnrolledAt  time.Time  `json:"enrolled_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Relations
	Lead        *Lead    `gorm:"foreignKey:LeadID" json:"lead,omitempty"`
	Cadence     *Cadence `gorm:"foreignKey:CadenceID" json:"cadence,omitempty"`
	CurrentStep *Step    `gorm:"foreignKey:CurrentStepID" json:"current_step,omitempty"`
}
