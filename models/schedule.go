package models

import "time"

type ScheduleStatus string

const (
	ScheduleScheduled ScheduleStatus = "scheduled"
	ScheduleExecuted  ScheduleStatus = "executed"
	ScheduleFailed    ScheduleStatus = "failed"
	ScheduleCanceled  ScheduleStatus = "canceled"
	// The enrollment no longer matched the schedule when it came due.
	ScheduleSkipped ScheduleStatus = "skipped_due_to_state_change"
)

// Terminal reports whether the row has left the scheduled state for good.
func (s ScheduleStatus) Terminal() bool {
	return s != ScheduleScheduled
}

// Schedule is a planned future execution of one step for one lead. It moves
// from scheduled to exactly one terminal status and is never touched again.
type Schedule struct {
	ID        uint `gorm:"primarykey" json:"id"`
	TenantID  uint `gorm:"not null;index" json:"tenant_id"`
	CadenceID uint `gorm:"not null;index" json:"cadence_id"`
	StepID    uint `gorm:"not null;index" json:"step_id"`
	LeadID    uint `gorm:"not null;index" json:"lead_id"`

	ScheduledAt time.Time      `gorm:"not null;index:idx_schedule_due" json:"scheduled_at"`
	Timezone    string         `json:"timezone"`
	Status      ScheduleStatus `gorm:"not null;default:'scheduled';index:idx_schedule_due" json:"status"`

	MessageTemplate string     `gorm:"type:text" json:"message_template"`
	RenderedMessage string     `gorm:"type:text" json:"rendered_message"`
	LastError       string     `gorm:"type:text" json:"last_error"`
	ExecutedAt      *time.Time `json:"executed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleSummary counts a cadence's schedules by status.
type ScheduleSummary struct {
	Total     int64 `json:"total"`
	Scheduled int64 `json:"scheduled"`
	Executed  int64 `json:"executed"`
	Failed    int64 `json:"failed"`
	Canceled  int64 `json:"canceled"`
	Skipped   int64 `json:"skipped_due_to_state_change"`
}
