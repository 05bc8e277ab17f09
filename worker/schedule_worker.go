package worker

import (
	"context"
	"fmt"
	"sync"

	"cadence/config"
	"cadence/services"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ScheduleWorker drains due schedule rows on a cron trigger.
type ScheduleWorker struct {
	Queue     *services.ScheduleQueue
	Clock     services.Clock
	Logger    logrus.FieldLogger
	Spec      string
	BatchSize int

	cron *cron.Cron
	ctx  context.Context
	mu   sync.Mutex
}

// cronLogger adapts logrus to cron.Logger
type cronLogger struct {
	logger logrus.FieldLogger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	out := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}

func NewScheduleWorker(queue *services.ScheduleQueue, clock services.Clock, cfg config.WorkerConfig, logger logrus.FieldLogger) *ScheduleWorker {
	if clock == nil {
		clock = services.SystemClock
	}
	spec := cfg.Spec
	if spec == "" {
		spec = "@every 30s"
	}
	cl := &cronLogger{logger: logger.WithField("component", "cron")}
	return &ScheduleWorker{
		Queue:     queue,
		Clock:     clock,
		Logger:    logger,
		Spec:      spec,
		BatchSize: cfg.BatchSize,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Start registers the job and starts the scheduler. The passed context is
// handed to every run; cancelling it aborts an in-progress pass.
func (w *ScheduleWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()

	if _, err := w.cron.AddFunc(w.Spec, func() { w.RunOnce(w.context()) }); err != nil {
		return fmt.Errorf("invalid worker schedule %q: %w", w.Spec, err)
	}
	w.cron.Start()
	w.Logger.WithField("spec", w.Spec).Info("Schedule worker started")
	return nil
}

// Stop waits for a running pass to finish.
func (w *ScheduleWorker) Stop() {
	<-w.cron.Stop().Done()
	w.Logger.Info("Schedule worker stopped")
}

func (w *ScheduleWorker) context() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

// RunOnce processes one batch of due schedules.
func (w *ScheduleWorker) RunOnce(ctx context.Context) *services.RunReport {
	report, err := w.Queue.RunDue(ctx, w.Clock.Now(), w.BatchSize)
	if err != nil {
		w.Logger.WithError(err).Error("Schedule pass failed")
	}
	if report != nil && report.Claimed+report.Locked > 0 {
		w.Logger.WithFields(logrus.Fields{
			"claimed":  report.Claimed,
			"executed": report.Executed,
			"failed":   report.Failed,
			"skipped":  report.Skipped,
			"deferred": report.Deferred,
			"locked":   report.Locked,
		}).Info("Schedule pass finished")
	}
	return report
}
