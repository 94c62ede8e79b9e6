package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned by Start when the background tasks run
var ErrAlreadyRunning = errors.New("state manager background tasks already running")

const stopTimeout = 30 * time.Second

// cronLogger adapts logrus to the cron.Logger interface
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(kvFields(keysAndValues)).Error("cron: " + msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

type job struct {
	name     string
	interval time.Duration
	run      func()
}

// Start schedules the stale re-poll, statistics aggregation and history
// pruning jobs
func (m *Manager) Start() error {
	m.cronMutex.Lock()
	defer m.cronMutex.Unlock()

	if m.scheduler != nil {
		return ErrAlreadyRunning
	}

	logger := cronLogger{logger: m.logger}
	scheduler := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		),
	)

	jobs := []job{
		{"stale_repoll", m.config.RepollInterval, m.repollStale},
		{"aggregate_statistics", m.config.AggregateInterval, m.aggregateStatistics},
		{"prune_history", m.config.PruneInterval, m.pruneHistory},
	}
	jobs = append(jobs, m.extraJobs...)
	for _, j := range jobs {
		if j.interval <= 0 {
			return fmt.Errorf("invalid interval for %s: %s", j.name, j.interval)
		}
		spec := fmt.Sprintf("@every %s", j.interval)
		if _, err := scheduler.AddFunc(spec, m.guard(j.run)); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
		m.logger.WithFields(logrus.Fields{
			"job":      j.name,
			"schedule": spec,
		}).Debug("Background job scheduled")
	}

	m.stopped.Store(false)
	scheduler.Start()
	m.scheduler = scheduler
	m.logger.Info("State manager background tasks started")
	return nil
}

// Stop sets the stop flag, stops the scheduler and waits for running jobs
func (m *Manager) Stop() {
	m.stopped.Store(true)

	m.cronMutex.Lock()
	scheduler := m.scheduler
	m.scheduler = nil
	m.cronMutex.Unlock()

	if scheduler == nil {
		return
	}

	select {
	case <-scheduler.Stop().Done():
		m.logger.Info("State manager background tasks stopped")
	case <-time.After(stopTimeout):
		m.logger.Warn("Timeout waiting for state manager jobs to complete")
	}
	m.bus.Close()
}

// guard skips a job once the stop flag is set
func (m *Manager) guard(job func()) func() {
	return func() {
		if m.stopped.Load() {
			return
		}
		job()
	}
}

// repollStale re-resolves devices that were not updated within the stale window
func (m *Manager) repollStale() {
	stale := m.StaleDevices()
	if len(stale) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.jobTimeout)
	defer cancel()

	events, err := m.Refresh(ctx, stale)
	if err != nil {
		m.logger.WithError(err).WithField("count", len(stale)).Warn("Stale device re-poll failed")
		return
	}
	m.logger.WithFields(logrus.Fields{
		"count":  len(stale),
		"events": len(events),
	}).Debug("Stale devices re-polled")
}

func (m *Manager) aggregateStatistics() {
	perMinute := m.stats.aggregate(m.now())
	m.logger.WithField("changes_per_minute", perMinute).Debug("Change statistics aggregated")
}

// pruneHistory drops history entries older than the retention window
func (m *Manager) pruneHistory() {
	dropped := m.history.Prune(m.now().Add(-m.config.HistoryRetention))
	if dropped > 0 {
		m.logger.WithField("dropped", dropped).Info("Pruned change history")
	}
}
