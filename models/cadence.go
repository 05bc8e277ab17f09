package models

import "gorm.io/gorm"

type CadenceStatus string

const (
	CadenceStatusDraft  CadenceStatus = "draft"
	CadenceStatusActive CadenceStatus = "active"
)

// Cadence is a named multi-day outreach sequence. CreatedAt (UTC) is the
// epoch from which step days are gated.
type Cadence struct {
	gorm.Model
	TenantID uint `gorm:"not null;index" json:"tenant_id"`
	OwnerID  uint `gorm:"index" json:"owner_id"`

	Name        string        `gorm:"not null" json:"name"`
	Description string        `json:"description"`
	Status      CadenceStatus `gorm:"default:'draft'" json:"status"` // draft, active
	Timezone    string        `gorm:"default:'UTC'" json:"timezone"`

	// Relations
	Steps []Step `gorm:"foreignKey:CadenceID" json:"steps,omitempty"`
}
