package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"cadence/channels"
	"cadence/config"
	"cadence/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testTenant uint = 7

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return openTestDB(t, t.Name())
}

// openTestDB opens a migrated in-memory database private to name.
func openTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), config.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, config.MigrateDB(db))
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// fakeChannel records every request and answers with resp or err.
type fakeChannel struct {
	mu    sync.Mutex
	calls []channels.Request
	resp  *channels.Response
	err   error
	// failFor rejects sends to these lead IDs.
	failFor map[uint]bool
}

func (f *fakeChannel) Send(_ context.Context, req channels.Request) (*channels.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.failFor[req.Lead.ID] {
		return nil, errors.New("remote rejected")
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &channels.Response{Success: true, MessageID: fmt.Sprintf("msg-%d", len(f.calls))}, nil
}

func (f *fakeChannel) Calls() []channels.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]channels.Request, len(f.calls))
	copy(out, f.calls)
	return out
}

type fixture struct {
	db         *gorm.DB
	clock      *testClock
	channel    *fakeChannel
	steps      *StepService
	tracker    *EnrollmentTracker
	dispatcher *Dispatcher
	queue      *ScheduleQueue
	promotion  *PromotionService
	cadences   *CadenceService
	leads      *LeadService
}

var day0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	log := quietLogger()
	clock := &testClock{now: day0}
	ch := &fakeChannel{}
	registry := channels.Registry{}
	for _, st := range models.StepTypes {
		if !st.Manual() {
			registry[st] = ch
		}
	}

	gate := NewDayGate(clock)
	tracker := NewEnrollmentTracker(db, clock, log)
	dispatcher := NewDispatcher(db, registry, tracker, gate, clock, log, 0)
	return &fixture{
		db:         db,
		clock:      clock,
		channel:    ch,
		steps:      NewStepService(db, log),
		tracker:    tracker,
		dispatcher: dispatcher,
		queue:      NewScheduleQueue(db, dispatcher, clock, log, 10*time.Second),
		promotion:  NewPromotionService(db, tracker, clock, log),
		cadences:   NewCadenceService(db, gate, log),
		leads:      NewLeadService(db, log),
	}
}

func (f *fixture) cadence(t *testing.T, createdAt time.Time) *models.Cadence {
	t.Helper()
	c := models.Cadence{
		TenantID: testTenant,
		Name:     "Outbound Q1",
		Status:   models.CadenceStatusActive,
		Timezone: "UTC",
	}
	c.CreatedAt = createdAt
	require.NoError(t, f.db.Create(&c).Error)
	return &c
}

func (f *fixture) step(t *testing.T, cadenceID uint, stepType models.StepType, day int, cfg models.StepConfig) *models.Step {
	t.Helper()
	step, err := f.steps.CreateStep(context.Background(), testTenant, cadenceID, CreateStepInput{
		StepType:  stepType,
		Label:     string(stepType),
		DayOffset: day,
		Config:    cfg,
	})
	require.NoError(t, err)
	return step
}

func (f *fixture) lead(t *testing.T, first, email string) *models.Lead {
	t.Helper()
	l := models.Lead{
		TenantID:    testTenant,
		FirstName:   first,
		LastName:    "Doe",
		Company:     "Acme",
		Email:       email,
		LinkedInURL: "https://www.linkedin.com/in/" + strings.ToLower(first),
	}
	require.NoError(t, f.db.Create(&l).Error)
	return &l
}

func (f *fixture) enrollment(t *testing.T, leadID, cadenceID uint) *models.CadenceLead {
	t.Helper()
	e, err := findEnrollment(context.Background(), f.db, testTenant, leadID, cadenceID)
	require.NoError(t, err)
	return e
}

func (f *fixture) schedule(t *testing.T, id uint) *models.Schedule {
	t.Helper()
	var s models.Schedule
	require.NoError(t, f.db.First(&s, id).Error)
	return &s
}
