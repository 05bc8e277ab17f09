package models

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type StepType string

const (
	StepTypeLinkedInMessage  StepType = "linkedin_message"
	StepTypeLinkedInConnect  StepType = "linkedin_connect"
	StepTypeLinkedInReaction StepType = "linkedin_reaction"
	StepTypeLinkedInComment  StepType = "linkedin_comment"
	StepTypeEmail            StepType = "email"
	StepTypeWhatsApp         StepType = "whatsapp"
	StepTypeCall             StepType = "call"
	StepTypeTask             StepType = "task"
)

// StepTypes lists every supported step type.
var StepTypes = []StepType{
	StepTypeLinkedInMessage,
	StepTypeLinkedInConnect,
	StepTypeLinkedInReaction,
	StepTypeLinkedInComment,
	StepTypeEmail,
	StepTypeWhatsApp,
	StepTypeCall,
	StepTypeTask,
}

func (t StepType) Valid() bool {
	for _, known := range StepTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Manual step types have no outbound channel; an operator acknowledges them.
func (t StepType) Manual() bool {
	switch t {
	case StepTypeWhatsApp, StepTypeCall, StepTypeTask:
		return true
	}
	return false
}

// Step is one unit of a cadence. (DayOffset, OrderInDay, CreatedAt, ID)
// defines the traversal order.
type Step struct {
	gorm.Model
	TenantID  uint `gorm:"not null;index" json:"tenant_id"`
	CadenceID uint `gorm:"not null;index" json:"cadence_id"`

	StepType   StepType       `gorm:"not null" json:"step_type"`
	Label      string         `json:"label"`
	DayOffset  int            `gorm:"not null;default:0" json:"day_offset"`
	OrderInDay int            `gorm:"not null;default:0" json:"order_in_day"`
	Config     datatypes.JSON `gorm:"type:jsonb" json:"config"`
}

// StepConfig is the per-type configuration carried by a Step. Each step type
// has exactly one variant.
type StepConfig interface {
	StepType() StepType
}

// Templated is implemented by configs that carry a message template.
type Templated interface {
	MessageTemplate() string
}

type LinkedInMessageConfig struct {
	Template   string `json:"template"`
	TemplateID *uint  `json:"template_id,omitempty"`
	AIPromptID *uint  `json:"ai_prompt_id,omitempty"`
}

type LinkedInConnectConfig struct {
	Note       string `json:"note"`
	AIPromptID *uint  `json:"ai_prompt_id,omitempty"`
}

type LinkedInReactionConfig struct {
	PostURL  string `json:"post_url"`
	Reaction string `json:"reaction"` // like, celebrate, support, love, insightful, funny
}

type LinkedInCommentConfig struct {
	PostURL    string `json:"post_url"`
	Comment    string `json:"comment"`
	AIPromptID *uint  `json:"ai_prompt_id,omitempty"`
}

type EmailConfig struct {
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	TemplateID *uint  `json:"template_id,omitempty"`
	AIPromptID *uint  `json:"ai_prompt_id,omitempty"`
}

type WhatsAppConfig struct {
	Template string `json:"template"`
}

type CallConfig struct {
	Script string `json:"script"`
}

type TaskConfig struct {
	Instructions string `json:"instructions"`
}

func (LinkedInMessageConfig) StepType() StepType  { return StepTypeLinkedInMessage }
func (LinkedInConnectConfig) StepType() StepType  { return StepTypeLinkedInConnect }
func (LinkedInReactionConfig) StepType() StepType { return StepTypeLinkedInReaction }
func (LinkedInCommentConfig) StepType() StepType  { return StepTypeLinkedInComment }
func (EmailConfig) StepType() StepType            { return StepTypeEmail }
func (WhatsAppConfig) StepType() StepType         { return StepTypeWhatsApp }
func (CallConfig) StepType() StepType             { return StepTypeCall }
func (TaskConfig) StepType() StepType             { return StepTypeTask }

func (c LinkedInMessageConfig) MessageTemplate() string { return c.Template }
func (c LinkedInConnectConfig) MessageTemplate() string { return c.Note }
func (c LinkedInCommentConfig) MessageTemplate() string { return c.Comment }
func (c EmailConfig) MessageTemplate() string           { return c.Body }
func (c WhatsAppConfig) MessageTemplate() string        { return c.Template }
func (c CallConfig) MessageTemplate() string            { return c.Script }
func (c TaskConfig) MessageTemplate() string            { return c.Instructions }

// NewStepConfig returns the zero variant for a step type.
func NewStepConfig(t StepType) (StepConfig, error) {
	switch t {
	case StepTypeLinkedInMessage:
		return &LinkedInMessageConfig{}, nil
	case StepTypeLinkedInConnect:
		return &LinkedInConnectConfig{}, nil
	case StepTypeLinkedInReaction:
		return &LinkedInReactionConfig{}, nil
	case StepTypeLinkedInComment:
		return &LinkedInCommentConfig{}, nil
	case StepTypeEmail:
		return &EmailConfig{}, nil
	case StepTypeWhatsApp:
		return &WhatsAppConfig{}, nil
	case StepTypeCall:
		return &CallConfig{}, nil
	case StepTypeTask:
		return &TaskConfig{}, nil
	}
	return nil, fmt.Errorf("unknown step type %q", t)
}

// DecodeStepConfig parses raw JSON into the variant for t. Empty input
// yields the zero variant.
func DecodeStepConfig(t StepType, raw []byte) (StepConfig, error) {
	cfg, err := NewStepConfig(t)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", t, err)
	}
	return cfg, nil
}

// Settings returns the typed configuration of the step.
func (s *Step) Settings() (StepConfig, error) {
	return DecodeStepConfig(s.StepType, s.Config)
}

// SetSettings stores cfg, which must match the step type.
func (s *Step) SetSettings(cfg StepConfig) error {
	if cfg.StepType() != s.StepType {
		return fmt.Errorf("config for %s cannot be stored on a %s step", cfg.StepType(), s.StepType)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	s.Config = datatypes.JSON(raw)
	return nil
}

// MessageTemplate returns the stored template text, or "" for types that
// carry none.
func (s *Step) MessageTemplate() string {
	cfg, err := s.Settings()
	if err != nil {
		return ""
	}
	if t, ok := cfg.(Templated); ok {
		return t.MessageTemplate()
	}
	return ""
}
