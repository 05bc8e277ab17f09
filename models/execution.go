package models

import "time"

type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// StepExecution records one dispatch attempt of a step for a lead.
type StepExecution struct {
	ID         uint  `gorm:"primarykey" json:"id"`
	TenantID   uint  `gorm:"not null;index" json:"tenant_id"`
	CadenceID  uint  `gorm:"not null;index" json:"cadence_id"`
	StepID     uint  `gorm:"not null;index" json:"step_id"`
	LeadID     uint  `gorm:"not null;index" json:"lead_id"`
	ScheduleID *uint `gorm:"index" json:"schedule_id,omitempty"`

	StepType         StepType        `json:"step_type"`
	Status           ExecutionStatus `gorm:"not null" json:"status"`
	Message          string          `gorm:"type:text" json:"message"`
	MessageID        string          `json:"message_id"`
	AlreadyConnected bool            `json:"already_connected"`
	Error            string          `gorm:"type:text" json:"error,omitempty"`
	EditMode         bool            `json:"edit_mode"`

	ExecutedAt time.Time `gorm:"not null" json:"executed_at"`
}
