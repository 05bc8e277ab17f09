package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"cadence/models"

	"github.com/stretchr/testify/require"
)

type queueFixture struct {
	*fixture
	cadence *models.Cadence
	first   *models.Step
	second  *models.Step
	members []*models.Lead
}

func newQueueFixture(t *testing.T, names ...string) *queueFixture {
	t.Helper()
	f := newFixture(t)
	ctx := context.Background()
	q := &queueFixture{fixture: f}
	q.cadence = f.cadence(t, day0)
	q.first = f.step(t, q.cadence.ID, models.StepTypeLinkedInMessage, 0, &models.LinkedInMessageConfig{Template: "Hi {{first_name}}"})
	q.second = f.step(t, q.cadence.ID, models.StepTypeEmail, 2, &models.EmailConfig{Subject: "Hello", Body: "Checking in, {{first_name}}"})
	for _, name := range names {
		l := f.lead(t, name, name+"@example.com")
		_, err := f.tracker.Enroll(ctx, testTenant, l.ID, q.cadence.ID, nil)
		require.NoError(t, err)
		q.members = append(q.members, l)
	}
	return q
}

func TestScheduleFirstStepStaggers(t *testing.T) {
	q := newQueueFixture(t, "Ann", "Bob", "Cid")
	ctx := context.Background()

	rows, err := q.queue.ScheduleFirstStep(ctx, testTenant, q.cadence.ID, "Europe/Berlin")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, row := range rows {
		require.Equal(t, q.members[i].ID, row.LeadID)
		require.Equal(t, q.first.ID, row.StepID)
		require.Equal(t, models.ScheduleScheduled, row.Status)
		require.Equal(t, "Europe/Berlin", row.Timezone)
		require.True(t, row.ScheduledAt.Equal(day0.Add(time.Duration(i)*10*time.Second)), "row %d at %s", i, row.ScheduledAt)
		require.Equal(t, "Hi {{first_name}}", row.MessageTemplate)
		require.Equal(t, "Hi "+q.members[i].FirstName, row.RenderedMessage)

		e := q.enrollment(t, q.members[i].ID, q.cadence.ID)
		require.Equal(t, models.EnrollmentScheduled, e.Status)
	}

	// Scheduled enrollments are no longer active, so nothing is queued twice.
	rows, err = q.queue.ScheduleFirstStep(ctx, testTenant, q.cadence.ID, "")
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestScheduleFirstStepWithoutSteps(t *testing.T) {
	f := newFixture(t)
	cadence := f.cadence(t, day0)
	_, err := f.queue.ScheduleFirstStep(context.Background(), testTenant, cadence.ID, "")
	require.True(t, errors.Is(err, ErrNoSteps))
}

func TestBulkCreateRejectsWholeBatch(t *testing.T) {
	q := newQueueFixture(t, "Ann")
	ctx := context.Background()
	at := day0.Add(time.Hour)

	_, err := q.queue.BulkCreate(ctx, testTenant, nil)
	require.True(t, errors.Is(err, ErrValidation))

	_, err = q.queue.BulkCreate(ctx, testTenant, []ScheduleEntry{
		{CadenceID: q.cadence.ID, StepID: q.first.ID, LeadID: q.members[0].ID, ScheduledAt: at},
		{CadenceID: q.cadence.ID, StepID: q.first.ID, LeadID: 999, ScheduledAt: at},
	})
	require.True(t, errors.Is(err, ErrNotFound))

	_, err = q.queue.BulkCreate(ctx, testTenant, []ScheduleEntry{
		{CadenceID: q.cadence.ID, StepID: q.first.ID, LeadID: q.members[0].ID, ScheduledAt: at, Timezone: "Mars/Olympus"},
	})
	require.True(t, errors.Is(err, ErrValidation))

	var count int64
	require.NoError(t, q.db.Model(&models.Schedule{}).Count(&count).Error)
	require.Zero(t, count)

	created, err := q.queue.BulkCreate(ctx, testTenant, []ScheduleEntry{
		{CadenceID: q.cadence.ID, StepID: q.first.ID, LeadID: q.members[0].ID, ScheduledAt: at},
		{CadenceID: q.cadence.ID, StepID: q.second.ID, LeadID: q.members[0].ID, ScheduledAt: at.Add(time.Hour)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, created)

	rows, _, err := q.queue.ListForCadence(ctx, testTenant, q.cadence.ID, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "UTC", rows[0].Timezone, "timezone defaults to the cadence's")
}

func TestCancelSchedule(t *testing.T) {
	q := newQueueFixture(t, "Ann", "Bob")
	ctx := context.Background()
	rows, err := q.queue.ScheduleFirstStep(ctx, testTenant, q.cadence.ID, "")
	require.NoError(t, err)

	row, err := q.queue.Cancel(ctx, testTenant, rows[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.ScheduleCanceled, row.Status)
	require.Equal(t, models.EnrollmentActive, q.enrollment(t, q.members[0].ID, q.cadence.ID).Status)
	require.Equal(t, models.EnrollmentScheduled, q.enrollment(t, q.members[1].ID, q.cadence.ID).Status)

	_, err = q.queue.Cancel(ctx, testTenant, rows[0].ID)
	require.True(t, errors.Is(err, ErrStaleState))

	_, err = q.queue.Cancel(ctx, testTenant+1, rows[1].ID)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestCancelExecutedScheduleIsNoop(t *testing.T) {
	q := newQueueFixture(t, "Ann")
	ctx := context.Background()
	rows, err := q.queue.ScheduleFirstStep(ctx, testTenant, q.cadence.ID, "")
	require.NoError(t, err)

	report, err := q.queue.RunDue(ctx, day0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Executed)

	_, err = q.queue.Cancel(ctx, testTenant, rows[0].ID)
	require.True(t, errors.Is(err, ErrStaleState))
	require.Equal(t, models.ScheduleExecuted, q.schedule(t, rows[0].ID).Status)
}

func TestCancelAll(t *testing.T) {
	q := newQueueFixture(t, "Ann", "Bob", "Cid")
	ctx := context.Background()
	rows, err := q.queue.ScheduleFirstStep(ctx, testTenant, q.cadence.ID, "")
	require.NoError(t, err)
	_, err = q.queue.Cancel(ctx, testTenant, rows[0].ID)
	require.NoError(t, err)

	count, err := q.queue.CancelAll(ctx, testTenant, q.cadence.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	for _, l := range q.members {
		require.Equal(t, models.EnrollmentActive, q.enrollment(t, l.ID, q.cadence.ID).Status)
	}

	_, summary, err := q.queue.ListForCadence(ctx, testTenant, q.cadence.ID, "")
	require.NoError(t, err)
	require.Equal(t, int64(3), summary.Total)
	require.Equal(t, int64(3), summary.Canceled)
	require.Zero(t, summary.Scheduled)
}

func TestRunDue(t *testing.T) {
	q := newQueueFixture(t, "Ann", "Bob", "Cid", "Dee")
	ctx := context.Background()
	rows, err := q.queue.ScheduleFirstStep(ctx, testTenant, q.cadence.ID, "")
	require.NoError(t, err)
	require.Len(t, rows, 4)

	// Bob leaves the cadence, Cid's send fails.
	require.NoError(t, q.tracker.Remove(ctx, testTenant, q.members[1].ID, q.cadence.ID))
	q.channel.failFor = map[uint]bool{q.members[2].ID: true}

	// Only the first three rows are due 20s in.
	report, err := q.queue.RunDue(ctx, day0.Add(20*time.Second), 10)
	require.NoError(t, err)
	require.Equal(t, 3, report.Claimed)
	require.Equal(t, 1, report.Executed)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, 1, report.Failed)

	executed := q.schedule(t, rows[0].ID)
	require.Equal(t, models.ScheduleExecuted, executed.Status)
	require.NotNil(t, executed.ExecutedAt)
	require.Equal(t, "Hi Ann", executed.RenderedMessage)
	require.Equal(t, q.second.ID, *q.enrollment(t, q.members[0].ID, q.cadence.ID).CurrentStepID)

	require.Equal(t, models.ScheduleSkipped, q.schedule(t, rows[1].ID).Status)

	failed := q.schedule(t, rows[2].ID)
	require.Equal(t, models.ScheduleFailed, failed.Status)
	require.NotEmpty(t, failed.LastError)
	require.Equal(t, q.first.ID, *q.enrollment(t, q.members[2].ID, q.cadence.ID).CurrentStepID)

	require.Equal(t, models.ScheduleScheduled, q.schedule(t, rows[3].ID).Status)

	var execution models.StepExecution
	require.NoError(t, q.db.Where("schedule_id = ?", rows[0].ID).First(&execution).Error)
	require.Equal(t, models.ExecutionSucceeded, execution.Status)

	_, summary, err := q.queue.ListForCadence(ctx, testTenant, q.cadence.ID, "")
	require.NoError(t, err)
	require.Equal(t, int64(4), summary.Total)
	require.Equal(t, int64(1), summary.Executed)
	require.Equal(t, int64(1), summary.Failed)
	require.Equal(t, int64(1), summary.Skipped)
	require.Equal(t, int64(1), summary.Scheduled)

	pending, _, err := q.queue.ListForCadence(ctx, testTenant, q.cadence.ID, models.ScheduleScheduled)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestRunDueDefersGatedRows(t *testing.T) {
	q := newQueueFixture(t, "Ann")
	ctx := context.Background()
	lead := q.members[0]

	_, err := q.queue.BulkCreate(ctx, testTenant, []ScheduleEntry{
		{CadenceID: q.cadence.ID, StepID: q.second.ID, LeadID: lead.ID, ScheduledAt: day0},
	})
	require.NoError(t, err)
	_, err = q.tracker.Enroll(ctx, testTenant, lead.ID, q.cadence.ID, &q.second.ID)
	require.NoError(t, err)

	report, err := q.queue.RunDue(ctx, day0.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deferred)
	require.Zero(t, report.Executed)
	require.Empty(t, q.channel.Calls())

	report, err = q.queue.RunDue(ctx, day0.AddDate(0, 0, 2), 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Executed)
	require.Equal(t, models.EnrollmentCompleted, q.enrollment(t, lead.ID, q.cadence.ID).Status)
}

func TestRunDueReadsPastGatedRows(t *testing.T) {
	q := newQueueFixture(t, "Ann", "Bob", "Cid", "Dee")
	ctx := context.Background()
	ann, bob, cid, dee := q.members[0], q.members[1], q.members[2], q.members[3]

	// Two day-2 rows sit at the head of the queue, ahead of two runnable rows.
	_, err := q.queue.BulkCreate(ctx, testTenant, []ScheduleEntry{
		{CadenceID: q.cadence.ID, StepID: q.second.ID, LeadID: ann.ID, ScheduledAt: day0},
		{CadenceID: q.cadence.ID, StepID: q.second.ID, LeadID: bob.ID, ScheduledAt: day0},
		{CadenceID: q.cadence.ID, StepID: q.first.ID, LeadID: cid.ID, ScheduledAt: day0.Add(time.Second)},
		{CadenceID: q.cadence.ID, StepID: q.first.ID, LeadID: dee.ID, ScheduledAt: day0.Add(2 * time.Second)},
	})
	require.NoError(t, err)
	for _, l := range []*models.Lead{ann, bob} {
		_, err = q.tracker.Enroll(ctx, testTenant, l.ID, q.cadence.ID, &q.second.ID)
		require.NoError(t, err)
	}

	report, err := q.queue.RunDue(ctx, day0.Add(time.Hour), 2)
	require.NoError(t, err)
	require.Equal(t, 2, report.Deferred)
	require.Equal(t, 2, report.Executed)
	require.Equal(t, q.second.ID, *q.enrollment(t, cid.ID, q.cadence.ID).CurrentStepID)
	require.Equal(t, q.second.ID, *q.enrollment(t, dee.ID, q.cadence.ID).CurrentStepID)
	require.Len(t, q.channel.Calls(), 2)

	_, summary, err := q.queue.ListForCadence(ctx, testTenant, q.cadence.ID, "")
	require.NoError(t, err)
	require.Equal(t, int64(2), summary.Scheduled)
	require.Equal(t, int64(2), summary.Executed)
}

func TestRunDueLimitCountsHandledRows(t *testing.T) {
	q := newQueueFixture(t, "Ann", "Bob", "Cid")
	ctx := context.Background()
	ann, bob, cid := q.members[0], q.members[1], q.members[2]

	_, err := q.queue.BulkCreate(ctx, testTenant, []ScheduleEntry{
		{CadenceID: q.cadence.ID, StepID: q.second.ID, LeadID: ann.ID, ScheduledAt: day0},
		{CadenceID: q.cadence.ID, StepID: q.first.ID, LeadID: bob.ID, ScheduledAt: day0.Add(time.Second)},
		{CadenceID: q.cadence.ID, StepID: q.first.ID, LeadID: cid.ID, ScheduledAt: day0.Add(2 * time.Second)},
	})
	require.NoError(t, err)
	_, err = q.tracker.Enroll(ctx, testTenant, ann.ID, q.cadence.ID, &q.second.ID)
	require.NoError(t, err)

	report, err := q.queue.RunDue(ctx, day0.Add(time.Hour), 1)
	require.NoError(t, err)
	require.Equal(t, 1, report.Deferred)
	require.Equal(t, 1, report.Executed)
	require.Equal(t, q.second.ID, *q.enrollment(t, bob.ID, q.cadence.ID).CurrentStepID)
	require.Equal(t, q.first.ID, *q.enrollment(t, cid.ID, q.cadence.ID).CurrentStepID)

	report, err = q.queue.RunDue(ctx, day0.Add(time.Hour), 1)
	require.NoError(t, err)
	require.Equal(t, 1, report.Executed)
	require.Equal(t, q.second.ID, *q.enrollment(t, cid.ID, q.cadence.ID).CurrentStepID)
}

type denyLocker struct{}

func (denyLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return false, nil }
func (denyLocker) Release(context.Context, string) error                         { return nil }

func TestRunDueSkipsLockedRows(t *testing.T) {
	q := newQueueFixture(t, "Ann")
	ctx := context.Background()
	_, err := q.queue.ScheduleFirstStep(ctx, testTenant, q.cadence.ID, "")
	require.NoError(t, err)

	q.queue.Locker = denyLocker{}
	report, err := q.queue.RunDue(ctx, day0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, report.Locked)
	require.Zero(t, report.Claimed)
	require.Empty(t, q.channel.Calls())
}
