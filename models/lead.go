package models

import (
	"time"

	"gorm.io/gorm"
)

// Lead represents a single contact that can be enrolled in cadences.
type Lead struct {
	gorm.Model
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Company       string `json:"company"`
	Title         string `json:"title"`
	Email         string `gorm:"index" json:"email"`
	LinkedInURL   string `gorm:"column:linkedin_url;index" json:"linkedin_url"`
	Industry      string `json:"industry"`
	Website       string `json:"website"`
	Department    string `json:"department"`
	AnnualRevenue string `json:"annual_revenue"`
	Timezone      string `json:"timezone"`

	// Metadata
	Source      string     `json:"source"` // manual, prospect, api
	ProspectID  *uint      `gorm:"index" json:"prospect_id,omitempty"`
	LastContact *time.Time `json:"last_contact"`

	// Relations
	Enrollments []CadenceLead `gorm:"foreignKey:LeadID" json:"enrollments,omitempty"`
}

type ProspectStatus string

const (
	ProspectStatusNew      ProspectStatus = "new"
	ProspectStatusPromoted ProspectStatus = "promoted"
)

// Prospect is a qualified contact that has not been promoted to a Lead yet.
type Prospect struct {
	gorm.Model
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Company       string `json:"company"`
	Title         string `json:"title"`
	Email         string `json:"email"`
	LinkedInURL   string `gorm:"column:linkedin_url" json:"linkedin_url"`
	Industry      string `json:"industry"`
	Website       string `json:"website"`
	Department    string `json:"department"`
	AnnualRevenue string `json:"annual_revenue"`
	Timezone      string `json:"timezone"`

	Status         ProspectStatus `gorm:"default:'new'" json:"status"`
	PromotedLeadID *uint          `json:"promoted_lead_id,omitempty"`
	PromotedAt     *time.Time     `json:"promoted_at,omitempty"`
}
