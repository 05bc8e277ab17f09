package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cadence/models"
	"cadence/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Locker guards a schedule row across worker instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type noopLocker struct{}

func (noopLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (noopLocker) Release(context.Context, string) error                         { return nil }

// ScheduleEntry is one requested schedule row.
type ScheduleEntry struct {
	CadenceID   uint      `json:"cadence_id" validate:"required"`
	StepID      uint      `json:"step_id" validate:"required"`
	LeadID      uint      `json:"lead_id" validate:"required"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Timezone    string    `json:"timezone"`
}

// RunReport counts what one RunDue pass did.
type RunReport struct {
	Claimed  int `json:"claimed"`
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Deferred int `json:"deferred"`
	Locked   int `json:"locked"`
}

// ScheduleQueue is the durable set of planned executions.
type ScheduleQueue struct {
	DB         *gorm.DB
	Dispatcher *Dispatcher
	Clock      Clock
	Logger     logrus.FieldLogger
	Stagger    time.Duration
	Locker     Locker
	LockTTL    time.Duration
}

func NewScheduleQueue(db *gorm.DB, dispatcher *Dispatcher, clock Clock, logger logrus.FieldLogger, stagger time.Duration) *ScheduleQueue {
	if clock == nil {
		clock = SystemClock
	}
	return &ScheduleQueue{
		DB:         db,
		Dispatcher: dispatcher,
		Clock:      clock,
		Logger:     logger,
		Stagger:    stagger,
		Locker:     noopLocker{},
		LockTTL:    5 * time.Minute,
	}
}

// BulkCreate inserts one scheduled row per entry. Every entry is checked
// before anything is written; one bad entry rejects the batch.
func (q *ScheduleQueue) BulkCreate(ctx context.Context, tenantID uint, entries []ScheduleEntry) (int, error) {
	if len(entries) == 0 {
		return 0, validationError("no schedule entries")
	}
	var count int
	err := q.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := q.buildRows(ctx, tx, tenantID, entries)
		if err != nil {
			return err
		}
		if err := tx.CreateInBatches(&rows, 100).Error; err != nil {
			return err
		}
		count = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	q.Logger.WithFields(logrus.Fields{"tenant_id": tenantID, "count": count}).Info("Schedules created")
	return count, nil
}

func (q *ScheduleQueue) buildRows(ctx context.Context, tx *gorm.DB, tenantID uint, entries []ScheduleEntry) ([]models.Schedule, error) {
	steps := map[uint]*models.Step{}
	leads := map[uint]*models.Lead{}
	cadences := map[uint]*models.Cadence{}

	rows := make([]models.Schedule, 0, len(entries))
	for i, entry := range entries {
		if err := utils.ValidateStruct(entry); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrValidation, i, err)
		}
		if entry.Timezone != "" {
			if _, err := time.LoadLocation(entry.Timezone); err != nil {
				return nil, validationError("entry %d: unknown timezone %q", i, entry.Timezone)
			}
		}

		cadence, ok := cadences[entry.CadenceID]
		if !ok {
			c, err := findCadence(ctx, tx, tenantID, entry.CadenceID)
			if err != nil {
				return nil, err
			}
			cadence = c
			cadences[entry.CadenceID] = c
		}
		step, ok := steps[entry.StepID]
		if !ok {
			s, err := stepInCadence(ctx, tx, tenantID, entry.CadenceID, entry.StepID)
			if err != nil {
				return nil, err
			}
			step = s
			steps[entry.StepID] = s
		} else if step.CadenceID != entry.CadenceID {
			return nil, validationError("step %d does not belong to cadence %d", entry.StepID, entry.CadenceID)
		}
		lead, ok := leads[entry.LeadID]
		if !ok {
			l, err := findLead(ctx, tx, tenantID, entry.LeadID)
			if err != nil {
				return nil, err
			}
			lead = l
			leads[entry.LeadID] = l
		}

		tz := entry.Timezone
		if tz == "" {
			tz = cadence.Timezone
		}
		template := step.MessageTemplate()
		rows = append(rows, models.Schedule{
			TenantID:        tenantID,
			CadenceID:       entry.CadenceID,
			StepID:          entry.StepID,
			LeadID:          entry.LeadID,
			ScheduledAt:     entry.ScheduledAt.UTC(),
			Timezone:        tz,
			Status:          models.ScheduleScheduled,
			MessageTemplate: template,
			RenderedMessage: RenderTemplate(template, lead),
		})
	}
	return rows, nil
}

// ScheduleFirstStep queues every active enrollment sitting on the cadence's
// first step. The i-th enrollment by ID is due at now + i*Stagger.
func (q *ScheduleQueue) ScheduleFirstStep(ctx context.Context, tenantID, cadenceID uint, timezone string) ([]models.Schedule, error) {
	var rows []models.Schedule
	err := q.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findCadence(ctx, tx, tenantID, cadenceID); err != nil {
			return err
		}
		catalog, err := loadCatalog(ctx, tx, tenantID, cadenceID)
		if err != nil {
			return err
		}
		first := catalog.First()
		if first == nil {
			return ErrNoSteps
		}

		var enrollments []models.CadenceLead
		if err := tx.Where("tenant_id = ? AND cadence_id = ? AND current_step_id = ? AND status = ?",
			tenantID, cadenceID, first.ID, models.EnrollmentActive).
			Order("id ASC").
			Find(&enrollments).Error; err != nil {
			return err
		}
		if len(enrollments) == 0 {
			return nil
		}

		now := q.Clock.Now()
		entries := make([]ScheduleEntry, len(enrollments))
		for i, e := range enrollments {
			entries[i] = ScheduleEntry{
				CadenceID:   cadenceID,
				StepID:      first.ID,
				LeadID:      e.LeadID,
				ScheduledAt: now.Add(time.Duration(i) * q.Stagger),
				Timezone:    timezone,
			}
		}
		if rows, err = q.buildRows(ctx, tx, tenantID, entries); err != nil {
			return err
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}

		ids := make([]uint, len(enrollments))
		for i, e := range enrollments {
			ids[i] = e.ID
		}
		return tx.Model(&models.CadenceLead{}).
			Where("id IN ? AND status = ? AND current_step_id = ?", ids, models.EnrollmentActive, first.ID).
			Update("status", models.EnrollmentScheduled).Error
	})
	if err != nil {
		return nil, err
	}

	q.Logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"cadence_id": cadenceID,
		"count":      len(rows),
		"stagger":    q.Stagger.String(),
	}).Info("First step scheduled")
	return rows, nil
}

// Cancel moves one row from scheduled to canceled. A row in any other state
// is left untouched and ErrStaleState is returned.
func (q *ScheduleQueue) Cancel(ctx context.Context, tenantID, scheduleID uint) (*models.Schedule, error) {
	var row models.Schedule
	err := q.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND tenant_id = ?", scheduleID, tenantID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("schedule", scheduleID)
			}
			return err
		}
		if row.Status.Terminal() {
			return fmt.Errorf("schedule %d is %s: %w", row.ID, row.Status, ErrStaleState)
		}
		res := tx.Model(&models.Schedule{}).
			Where("id = ? AND status = ?", row.ID, models.ScheduleScheduled).
			Update("status", models.ScheduleCanceled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("schedule %d left the scheduled state: %w", row.ID, ErrStaleState)
		}
		row.Status = models.ScheduleCanceled
		return releaseEnrollment(tx, tenantID, row.CadenceID, &row.LeadID)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// CancelAll cancels every scheduled row of a cadence and returns the count.
func (q *ScheduleQueue) CancelAll(ctx context.Context, tenantID, cadenceID uint) (int64, error) {
	var canceled int64
	err := q.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := findCadence(ctx, tx, tenantID, cadenceID); err != nil {
			return err
		}
		res := tx.Model(&models.Schedule{}).
			Where("tenant_id = ? AND cadence_id = ? AND status = ?", tenantID, cadenceID, models.ScheduleScheduled).
			Update("status", models.ScheduleCanceled)
		if res.Error != nil {
			return res.Error
		}
		canceled = res.RowsAffected
		return releaseEnrollment(tx, tenantID, cadenceID, nil)
	})
	if err != nil {
		return 0, err
	}
	q.Logger.WithFields(logrus.Fields{"tenant_id": tenantID, "cadence_id": cadenceID, "count": canceled}).Info("Schedules canceled")
	return canceled, nil
}

// releaseEnrollment returns enrollments parked in "scheduled" to active.
func releaseEnrollment(tx *gorm.DB, tenantID, cadenceID uint, leadID *uint) error {
	query := tx.Model(&models.CadenceLead{}).
		Where("tenant_id = ? AND cadence_id = ? AND status = ?", tenantID, cadenceID, models.EnrollmentScheduled)
	if leadID != nil {
		query = query.Where("lead_id = ?", *leadID)
	}
	return query.Update("status", models.EnrollmentActive).Error
}

// ListForCadence returns the cadence's schedules ordered by due time, with
// counts by status.
func (q *ScheduleQueue) ListForCadence(ctx context.Context, tenantID, cadenceID uint, status models.ScheduleStatus) ([]models.Schedule, *models.ScheduleSummary, error) {
	db := q.DB.WithContext(ctx)
	if _, err := findCadence(ctx, db, tenantID, cadenceID); err != nil {
		return nil, nil, err
	}

	query := db.Where("tenant_id = ? AND cadence_id = ?", tenantID, cadenceID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var rows []models.Schedule
	if err := query.Order("scheduled_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	var counts []struct {
		Status models.ScheduleStatus
		Count  int64
	}
	if err := db.Model(&models.Schedule{}).
		Select("status, count(*) as count").
		Where("tenant_id = ? AND cadence_id = ?", tenantID, cadenceID).
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, nil, err
	}

	summary := &models.ScheduleSummary{}
	for _, c := range counts {
		summary.Total += c.Count
		switch c.Status {
		case models.ScheduleScheduled:
			summary.Scheduled = c.Count
		case models.ScheduleExecuted:
			summary.Executed = c.Count
		case models.ScheduleFailed:
			summary.Failed = c.Count
		case models.ScheduleCanceled:
			summary.Canceled = c.Count
		case models.ScheduleSkipped:
			summary.Skipped = c.Count
		}
	}
	return rows, summary, nil
}

// RunDue executes up to limit rows due at now, oldest first. Rows whose
// step day is not live yet stay scheduled for a later pass and do not count
// against limit; the pass pages past them on (scheduled_at, id) until limit
// rows are handled or the due set runs out.
func (q *ScheduleQueue) RunDue(ctx context.Context, now time.Time, limit int) (*RunReport, error) {
	if limit <= 0 {
		limit = 50
	}
	report := &RunReport{}
	var (
		afterAt time.Time
		afterID uint
		handled int
	)
	for page := 0; handled < limit; page++ {
		query := q.DB.WithContext(ctx).
			Where("status = ? AND scheduled_at <= ?", models.ScheduleScheduled, now.UTC())
		if page > 0 {
			query = query.Where("(scheduled_at > ? OR (scheduled_at = ? AND id > ?))", afterAt, afterAt, afterID)
		}
		var due []models.Schedule
		if err := query.
			Order("scheduled_at ASC, id ASC").
			Limit(limit).
			Find(&due).Error; err != nil {
			return report, err
		}

		for i := range due {
			if handled >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}
			row := &due[i]
			afterAt, afterID = row.ScheduledAt.UTC(), row.ID
			if q.claimAndRun(ctx, row, now, report) {
				handled++
			}
		}
		if len(due) < limit {
			break
		}
	}
	return report, nil
}

// claimAndRun locks one row and runs it. It reports whether the row counts
// against the pass budget, which is every claimed row the day gate did not
// hold back.
func (q *ScheduleQueue) claimAndRun(ctx context.Context, row *models.Schedule, now time.Time, report *RunReport) bool {
	key := fmt.Sprintf("cadence:schedule:%d", row.ID)
	ok, err := q.Locker.Acquire(ctx, key, q.LockTTL)
	if err != nil {
		q.Logger.WithError(err).WithField("schedule_id", row.ID).Warn("Schedule lock failed")
		return false
	}
	if !ok {
		report.Locked++
		return false
	}
	defer func() {
		if err := q.Locker.Release(ctx, key); err != nil {
			q.Logger.WithError(err).WithField("schedule_id", row.ID).Warn("Schedule unlock failed")
		}
	}()

	report.Claimed++
	deferred := report.Deferred
	q.runOne(ctx, row, now, report)
	return report.Deferred == deferred
}

func (q *ScheduleQueue) runOne(ctx context.Context, row *models.Schedule, now time.Time, report *RunReport) {
	logger := q.Logger.WithFields(logrus.Fields{
		"schedule_id": row.ID,
		"tenant_id":   row.TenantID,
		"cadence_id":  row.CadenceID,
		"step_id":     row.StepID,
		"lead_id":     row.LeadID,
	})
	db := q.DB.WithContext(ctx)

	skip := func(reason string) {
		if q.finish(db, row.ID, map[string]interface{}{
			"status":     models.ScheduleSkipped,
			"last_error": reason,
		}) {
			report.Skipped++
			logger.WithField("reason", reason).Info("Schedule skipped")
		}
	}

	enrollment, err := findEnrollment(ctx, db, row.TenantID, row.LeadID, row.CadenceID)
	if errors.Is(err, ErrNotFound) {
		skip("lead is no longer enrolled")
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load enrollment")
		return
	}
	if !enrollment.Status.Runnable() {
		skip(fmt.Sprintf("enrollment is %s", enrollment.Status))
		return
	}
	if enrollment.CurrentStepID == nil || *enrollment.CurrentStepID != row.StepID {
		skip("enrollment moved to another step")
		return
	}

	cadence, err := findCadence(ctx, db, row.TenantID, row.CadenceID)
	if errors.Is(err, ErrNotFound) {
		skip("cadence no longer exists")
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load cadence")
		return
	}
	step, err := findStep(ctx, db, row.TenantID, row.StepID)
	if errors.Is(err, ErrNotFound) {
		skip("step no longer exists")
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load step")
		return
	}
	if !IsDayAvailable(step.DayOffset, CurrentDay(cadence.CreatedAt, now)) {
		report.Deferred++
		logger.Debug("Schedule deferred by day gate")
		return
	}

	scheduleID := row.ID
	result, err := q.Dispatcher.Execute(ctx, ExecuteRequest{
		TenantID:        row.TenantID,
		CadenceID:       row.CadenceID,
		StepID:          row.StepID,
		LeadID:          row.LeadID,
		ScheduleID:      &scheduleID,
		MessageTemplate: row.MessageTemplate,
	})
	if errors.Is(err, ErrStaleState) {
		skip("enrollment moved to another step")
		return
	}

	executedAt := now.UTC()
	updates := map[string]interface{}{"executed_at": executedAt}
	if result != nil && result.Message != "" {
		updates["rendered_message"] = result.Message
	}
	if err != nil {
		updates["status"] = models.ScheduleFailed
		updates["last_error"] = err.Error()
		if q.finish(db, row.ID, updates) {
			report.Failed++
		}
		logger.WithError(err).Warn("Scheduled execution failed")
		return
	}
	updates["status"] = models.ScheduleExecuted
	if q.finish(db, row.ID, updates) {
		report.Executed++
	}
}

// finish applies a terminal transition if the row is still scheduled.
func (q *ScheduleQueue) finish(db *gorm.DB, scheduleID uint, updates map[string]interface{}) bool {
	res := db.Model(&models.Schedule{}).
		Where("id = ? AND status = ?", scheduleID, models.ScheduleScheduled).
		Updates(updates)
	if res.Error != nil {
		q.Logger.WithError(res.Error).WithField("schedule_id", scheduleID).Error("Failed to finish schedule")
		return false
	}
	if res.RowsAffected == 0 {
		q.Logger.WithField("schedule_id", scheduleID).Info("Schedule left its scheduled state during execution")
		return false
	}
	return true
}
