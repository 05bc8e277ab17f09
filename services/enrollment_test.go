package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cadence/models"

	"github.com/stretchr/testify/require"
)

func TestEnrollStartsAtFirstStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cadence := f.cadence(t, day0)
	later := f.step(t, cadence.ID, models.StepTypeCall, 1, nil)
	first := f.step(t, cadence.ID, models.StepTypeEmail, 0, nil)
	lead := f.lead(t, "Ann", "ann@example.com")

	e, err := f.tracker.Enroll(ctx, testTenant, lead.ID, cadence.ID, nil)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentActive, e.Status)
	require.NotNil(t, e.CurrentStepID)
	require.Equal(t, first.ID, *e.CurrentStepID)
	require.True(t, e.EnrolledAt.Equal(day0))

	other := f.lead(t, "Bob", "bob@example.com")
	e, err = f.tracker.Enroll(ctx, testTenant, other.ID, cadence.ID, &later.ID)
	require.NoError(t, err)
	require.Equal(t, later.ID, *e.CurrentStepID)
}

func TestEnrollWithoutSteps(t *testing.T) {
	f := newFixture(t)
	cadence := f.cadence(t, day0)
	lead := f.lead(t, "Ann", "ann@example.com")

	e, err := f.tracker.Enroll(context.Background(), testTenant, lead.ID, cadence.ID, nil)
	require.NoError(t, err)
	require.Nil(t, e.CurrentStepID)
	require.Equal(t, models.EnrollmentActive, e.Status)
}

func TestEnrollRejectsForeignStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.cadence(t, day0)
	b := f.cadence(t, day0)
	f.step(t, a.ID, models.StepTypeEmail, 0, nil)
	foreign := f.step(t, b.ID, models.StepTypeEmail, 0, nil)
	lead := f.lead(t, "Ann", "ann@example.com")

	_, err := f.tracker.Enroll(ctx, testTenant, lead.ID, a.ID, &foreign.ID)
	require.True(t, errors.Is(err, ErrValidation))

	_, err = f.tracker.Enroll(ctx, testTenant, 999, a.ID, nil)
	require.True(t, errors.Is(err, ErrNotFound))

	var count int64
	require.NoError(t, f.db.Model(&models.CadenceLead{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestAdvanceWalksToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cadence := f.cadence(t, day0)
	s1 := f.step(t, cadence.ID, models.StepTypeEmail, 0, nil)
	s2 := f.step(t, cadence.ID, models.StepTypeCall, 1, nil)
	lead := f.lead(t, "Ann", "ann@example.com")
	_, err := f.tracker.Enroll(ctx, testTenant, lead.ID, cadence.ID, nil)
	require.NoError(t, err)

	res, err := f.tracker.Advance(ctx, testTenant, lead.ID, cadence.ID, s1.ID)
	require.NoError(t, err)
	require.True(t, res.Advanced)
	require.False(t, res.Completed)
	require.Equal(t, s2.ID, *res.Enrollment.CurrentStepID)

	res, err = f.tracker.Advance(ctx, testTenant, lead.ID, cadence.ID, s2.ID)
	require.NoError(t, err)
	require.True(t, res.Advanced)
	require.True(t, res.Completed)
	require.Nil(t, res.Enrollment.CurrentStepID)
	require.Equal(t, models.EnrollmentCompleted, res.Enrollment.Status)
	require.NotNil(t, res.Enrollment.CompletedAt)

	// A stale advance from an old position is a no-op.
	res, err = f.tracker.Advance(ctx, testTenant, lead.ID, cadence.ID, s1.ID)
	require.NoError(t, err)
	require.False(t, res.Advanced)
	require.Equal(t, models.EnrollmentCompleted, res.Enrollment.Status)
}

func TestConcurrentAdvanceProgressesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cadence := f.cadence(t, day0)
	s1 := f.step(t, cadence.ID, models.StepTypeEmail, 0, nil)
	s2 := f.step(t, cadence.ID, models.StepTypeEmail, 0, nil)
	f.step(t, cadence.ID, models.StepTypeEmail, 0, nil)
	lead := f.lead(t, "Ann", "ann@example.com")
	_, err := f.tracker.Enroll(ctx, testTenant, lead.ID, cadence.ID, nil)
	require.NoError(t, err)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		advanced int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.tracker.Advance(ctx, testTenant, lead.ID, cadence.ID, s1.ID)
			if err != nil || !res.Advanced {
				return
			}
			mu.Lock()
			advanced++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, advanced)
	e := f.enrollment(t, lead.ID, cadence.ID)
	require.Equal(t, s2.ID, *e.CurrentStepID)
}

func TestRemoveThenReenroll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cadence := f.cadence(t, day0)
	s1 := f.step(t, cadence.ID, models.StepTypeEmail, 0, nil)
	s2 := f.step(t, cadence.ID, models.StepTypeCall, 0, nil)
	f.step(t, cadence.ID, models.StepTypeTask, 1, nil)
	lead := f.lead(t, "Ann", "ann@example.com")

	_, err := f.tracker.Enroll(ctx, testTenant, lead.ID, cadence.ID, &s2.ID)
	require.NoError(t, err)

	require.NoError(t, f.tracker.Remove(ctx, testTenant, lead.ID, cadence.ID))
	e := f.enrollment(t, lead.ID, cadence.ID)
	require.Equal(t, models.EnrollmentPaused, e.Status)
	require.Nil(t, e.CurrentStepID)

	err = f.tracker.Remove(ctx, testTenant, 999, cadence.ID)
	require.True(t, errors.Is(err, ErrNotFound))

	e, err = f.tracker.Enroll(ctx, testTenant, lead.ID, cadence.ID, nil)
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentActive, e.Status)
	require.Equal(t, s1.ID, *e.CurrentStepID)
	require.Nil(t, e.CompletedAt)

	var count int64
	require.NoError(t, f.db.Model(&models.CadenceLead{}).Where("lead_id = ?", lead.ID).Count(&count).Error)
	require.Equal(t, int64(1), count, "re-enrolling reuses the row")
}

func TestEnrollmentQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.cadence(t, day0)
	b := f.cadence(t, day0)
	stepA := f.step(t, a.ID, models.StepTypeEmail, 0, nil)
	f.step(t, b.ID, models.StepTypeEmail, 0, nil)
	ann := f.lead(t, "Ann", "ann@example.com")
	bob := f.lead(t, "Bob", "bob@example.com")

	for _, c := range []uint{a.ID, b.ID} {
		_, err := f.tracker.Enroll(ctx, testTenant, ann.ID, c, nil)
		require.NoError(t, err)
	}
	_, err := f.tracker.Enroll(ctx, testTenant, bob.ID, a.ID, nil)
	require.NoError(t, err)
	require.NoError(t, f.tracker.Remove(ctx, testTenant, bob.ID, a.ID))

	rows, err := f.tracker.ForLead(ctx, testTenant, ann.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, a.ID, rows[0].CadenceID)
	require.NotNil(t, rows[0].Cadence)

	rows, err = f.tracker.ForCadence(ctx, testTenant, a.ID, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	rows, err = f.tracker.ForCadence(ctx, testTenant, a.ID, models.EnrollmentPaused)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, bob.ID, rows[0].LeadID)

	rows, err = f.tracker.AtStep(ctx, testTenant, a.ID, stepA.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, ann.ID, rows[0].LeadID)
	require.NotNil(t, rows[0].Lead)
}
