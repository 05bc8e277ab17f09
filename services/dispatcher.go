package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cadence/channels"
	"cadence/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Overrides replace parts of the stored step configuration for one send.
type Overrides struct {
	Message string `json:"message"`
	Subject string `json:"subject"`
	PostURL string `json:"post_url"`
	Comment string `json:"comment"`
}

type ExecuteRequest struct {
	TenantID  uint
	CadenceID uint
	StepID    uint
	LeadID    uint
	Overrides Overrides
	// EditMode lets an operator run a step the lead is not positioned on.
	EditMode   bool
	ScheduleID *uint
	// MessageTemplate, when set, is rendered instead of the step's stored
	// template. The queue passes the template captured at scheduling time.
	MessageTemplate string
}

type Result struct {
	LeadID           uint                `json:"lead_id"`
	StepID           uint                `json:"step_id"`
	Success          bool                `json:"success"`
	AlreadyConnected bool                `json:"already_connected"`
	Advanced         bool                `json:"advanced"`
	Completed        bool                `json:"completed"`
	MessageID        string              `json:"message_id,omitempty"`
	Message          string              `json:"message,omitempty"`
	Error            string              `json:"error,omitempty"`
	Enrollment       *models.CadenceLead `json:"enrollment,omitempty"`
}

// BulkResult accumulates per-lead outcomes of ExecuteForStep.
type BulkResult struct {
	CadenceID uint     `json:"cadence_id"`
	StepID    uint     `json:"step_id"`
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// ProgressFunc observes each lead's outcome during a bulk run.
type ProgressFunc func(done, total int, result Result)

// Dispatcher routes a (lead, step) pair to its channel and advances the
// enrollment on success.
type Dispatcher struct {
	DB        *gorm.DB
	Channels  channels.Registry
	Tracker   *EnrollmentTracker
	Gate      *DayGate
	Clock     Clock
	Logger    logrus.FieldLogger
	BulkDelay time.Duration
}

func NewDispatcher(db *gorm.DB, registry channels.Registry, tracker *EnrollmentTracker, gate *DayGate, clock Clock, logger logrus.FieldLogger, bulkDelay time.Duration) *Dispatcher {
	if clock == nil {
		clock = SystemClock
	}
	return &Dispatcher{
		DB:        db,
		Channels:  registry,
		Tracker:   tracker,
		Gate:      gate,
		Clock:     clock,
		Logger:    logger,
		BulkDelay: bulkDelay,
	}
}

// Execute runs one step for one lead. Day gating is the caller's job.
// A channel failure returns a *ChannelError and leaves the enrollment where
// it was.
func (d *Dispatcher) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	db := d.DB.WithContext(ctx)
	if _, err := findCadence(ctx, db, req.TenantID, req.CadenceID); err != nil {
		return nil, err
	}
	step, err := stepInCadence(ctx, db, req.TenantID, req.CadenceID, req.StepID)
	if err != nil {
		return nil, err
	}
	lead, err := findLead(ctx, db, req.TenantID, req.LeadID)
	if err != nil {
		return nil, err
	}
	enrollment, err := findEnrollment(ctx, db, req.TenantID, req.LeadID, req.CadenceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, validationError("lead %d is not enrolled in cadence %d", req.LeadID, req.CadenceID)
		}
		return nil, err
	}
	if !enrollment.Status.Runnable() {
		return nil, validationError("enrollment of lead %d is %s", req.LeadID, enrollment.Status)
	}
	if !req.EditMode && (enrollment.CurrentStepID == nil || *enrollment.CurrentStepID != step.ID) {
		return nil, fmt.Errorf("lead %d is not positioned at step %d: %w", req.LeadID, step.ID, ErrStaleState)
	}

	result := &Result{LeadID: lead.ID, StepID: step.ID}
	logger := d.Logger.WithFields(logrus.Fields{
		"tenant_id":  req.TenantID,
		"cadence_id": req.CadenceID,
		"step_id":    step.ID,
		"step_type":  step.StepType,
		"lead_id":    lead.ID,
	})

	if !step.StepType.Manual() {
		chReq, err := d.buildRequest(req, step, lead)
		if err != nil {
			return nil, err
		}
		result.Message = chReq.Message

		resp, sendErr := d.send(ctx, chReq)
		if sendErr != nil {
			result.Error = sendErr.Error()
			d.record(ctx, req, step, result, models.ExecutionFailed)
			logger.WithError(sendErr).Warn("Step execution failed")
			return result, sendErr
		}
		result.Success = true
		result.AlreadyConnected = resp.AlreadyConnected
		result.MessageID = resp.MessageID
	} else {
		result.Success = true
	}

	advance, err := d.Tracker.Advance(ctx, req.TenantID, lead.ID, req.CadenceID, step.ID)
	if err != nil {
		// The send already happened; keep its record even if the advance failed.
		result.Error = err.Error()
		d.record(ctx, req, step, result, models.ExecutionSucceeded)
		return result, err
	}
	result.Advanced = advance.Advanced
	result.Completed = advance.Completed
	result.Enrollment = advance.Enrollment

	now := d.Clock.Now()
	if err := db.Model(&models.Lead{}).Where("id = ?", lead.ID).Update("last_contact", now).Error; err != nil {
		logger.WithError(err).Warn("Failed to update last contact")
	}
	d.record(ctx, req, step, result, models.ExecutionSucceeded)

	logger.WithFields(logrus.Fields{
		"advanced":  result.Advanced,
		"completed": result.Completed,
	}).Info("Step executed")
	return result, nil
}

func (d *Dispatcher) buildRequest(req ExecuteRequest, step *models.Step, lead *models.Lead) (channels.Request, error) {
	cfg, err := step.Settings()
	if err != nil {
		return channels.Request{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	template := step.MessageTemplate()
	if req.MessageTemplate != "" {
		template = req.MessageTemplate
	}
	if req.Overrides.Message != "" {
		template = req.Overrides.Message
	}

	chReq := channels.Request{
		TenantID: req.TenantID,
		StepType: step.StepType,
		Lead:     lead,
		Message:  RenderTemplate(template, lead),
	}

	switch c := cfg.(type) {
	case *models.EmailConfig:
		subject := c.Subject
		if req.Overrides.Subject != "" {
			subject = req.Overrides.Subject
		}
		chReq.Subject = RenderTemplate(subject, lead)
	case *models.LinkedInReactionConfig:
		chReq.PostURL = pick(req.Overrides.PostURL, c.PostURL)
		chReq.Reaction = pick(c.Reaction, "like")
		chReq.Message = ""
	case *models.LinkedInCommentConfig:
		chReq.PostURL = pick(req.Overrides.PostURL, c.PostURL)
		if req.Overrides.Comment != "" {
			chReq.Message = RenderTemplate(req.Overrides.Comment, lead)
		}
	}

	if (step.StepType == models.StepTypeLinkedInReaction || step.StepType == models.StepTypeLinkedInComment) && chReq.PostURL == "" {
		return channels.Request{}, validationError("step %d needs a post URL", step.ID)
	}
	return chReq, nil
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (d *Dispatcher) send(ctx context.Context, req channels.Request) (*channels.Response, error) {
	leadID := req.Lead.ID
	ch, ok := d.Channels.For(req.StepType)
	if !ok {
		return nil, &ChannelError{StepType: req.StepType, LeadID: leadID, Reason: "no channel bound"}
	}
	resp, err := ch.Send(ctx, req)
	if err != nil {
		return nil, &ChannelError{StepType: req.StepType, LeadID: leadID, Err: err}
	}
	if resp == nil || !resp.Success {
		reason := "rejected"
		if resp != nil && resp.Error != "" {
			reason = resp.Error
		}
		return nil, &ChannelError{StepType: req.StepType, LeadID: leadID, Reason: reason}
	}
	return resp, nil
}

func (d *Dispatcher) record(ctx context.Context, req ExecuteRequest, step *models.Step, result *Result, status models.ExecutionStatus) {
	row := models.StepExecution{
		TenantID:         req.TenantID,
		CadenceID:        req.CadenceID,
		StepID:           step.ID,
		LeadID:           result.LeadID,
		ScheduleID:       req.ScheduleID,
		StepType:         step.StepType,
		Status:           status,
		Message:          result.Message,
		MessageID:        result.MessageID,
		AlreadyConnected: result.AlreadyConnected,
		Error:            result.Error,
		EditMode:         req.EditMode,
		ExecutedAt:       d.Clock.Now(),
	}
	if err := d.DB.WithContext(ctx).Create(&row).Error; err != nil {
		d.Logger.WithError(err).WithField("lead_id", result.LeadID).Error("Failed to record step execution")
	}
}

// ExecuteForStep runs a step for every lead positioned on it, one lead at a
// time with BulkDelay between sends. A failing lead is recorded and the run
// continues. Cancelling ctx stops the run and returns what was done so far.
func (d *Dispatcher) ExecuteForStep(ctx context.Context, tenantID, cadenceID, stepID uint, overrides Overrides, editMode bool, progress ProgressFunc) (*BulkResult, error) {
	db := d.DB.WithContext(ctx)
	cadence, err := findCadence(ctx, db, tenantID, cadenceID)
	if err != nil {
		return nil, err
	}
	step, err := stepInCadence(ctx, db, tenantID, cadenceID, stepID)
	if err != nil {
		return nil, err
	}
	if d.Gate != nil {
		if err := d.Gate.Check(cadence, step, editMode); err != nil {
			return nil, err
		}
	}

	enrollments, err := d.Tracker.AtStep(ctx, tenantID, cadenceID, stepID)
	if err != nil {
		return nil, err
	}

	bulk := &BulkResult{CadenceID: cadenceID, StepID: stepID, Total: len(enrollments)}
	limit := rate.Inf
	if d.BulkDelay > 0 {
		limit = rate.Every(d.BulkDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i, enrollment := range enrollments {
		if err := limiter.Wait(ctx); err != nil {
			return bulk, err
		}

		res, err := d.Execute(ctx, ExecuteRequest{
			TenantID:  tenantID,
			CadenceID: cadenceID,
			StepID:    stepID,
			LeadID:    enrollment.LeadID,
			Overrides: overrides,
			EditMode:  editMode,
		})
		if res == nil {
			res = &Result{LeadID: enrollment.LeadID, StepID: stepID}
		}
		if err != nil {
			res.Success = false
			res.Error = err.Error()
			bulk.Failed++
		} else {
			bulk.Succeeded++
		}
		bulk.Results = append(bulk.Results, *res)
		if progress != nil {
			progress(i+1, bulk.Total, *res)
		}
	}

	d.Logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"cadence_id": cadenceID,
		"step_id":    stepID,
		"total":      bulk.Total,
		"succeeded":  bulk.Succeeded,
		"failed":     bulk.Failed,
	}).Info("Bulk step execution finished")
	return bulk, nil
}

// CheckGate loads the cadence and step and applies the day gate. Interactive
// callers run it before Execute.
func (d *Dispatcher) CheckGate(ctx context.Context, tenantID, cadenceID, stepID uint, editMode bool) error {
	db := d.DB.WithContext(ctx)
	cadence, err := findCadence(ctx, db, tenantID, cadenceID)
	if err != nil {
		return err
	}
	step, err := stepInCadence(ctx, db, tenantID, cadenceID, stepID)
	if err != nil {
		return err
	}
	if d.Gate == nil {
		return nil
	}
	return d.Gate.Check(cadence, step, editMode)
}
