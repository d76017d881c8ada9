package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mailwatch-go/internal/config"
	"mailwatch-go/internal/lock"
	"mailwatch-go/internal/metrics"
	"mailwatch-go/internal/models"
	"mailwatch-go/internal/store"
)

// TenantEngine runs one tenant's ingestion pass. Satisfied by
// ingest.Engine.
type TenantEngine interface {
	IngestTenant(ctx context.Context, tenantID string) models.RunResult
}

// RetrySweeper re-drives pending notification attempts. Satisfied by
// notify.Dispatcher.
type RetrySweeper interface {
	RetryPending(ctx context.Context) error
}

// Scheduler fans the ingestion engine out across all eligible tenants
// on a cron schedule, bounding concurrency and holding the per-tenant
// advisory lock for the duration of each run. A second cron entry
// drives the notification retry sweep.
type Scheduler struct {
	cron       *cron.Cron
	entryID    cron.EntryID
	config     *config.SchedulerConfig
	store      store.Store
	engine     TenantEngine
	dispatcher RetrySweeper
	locker     lock.Locker
	metrics    *metrics.Metrics
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	mu         sync.RWMutex

	lastSummary *models.RunSummary
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, st store.Store, engine TenantEngine, dispatcher RetrySweeper, locker lock.Locker, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		config:     cfg,
		store:      st,
		engine:     engine,
		dispatcher: dispatcher,
		locker:     locker,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	schedule := fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes)
	entryID, err := s.cron.AddFunc(schedule, s.runScheduled)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entryID = entryID

	s.cron.Schedule(cron.Every(s.config.RetrySweepInterval), cron.FuncJob(s.runRetrySweep))

	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// runScheduled is the cron entry point for the ingestion pass
func (s *Scheduler) runScheduled() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping processing cycle")
		return
	}
	s.mu.RUnlock()

	if _, err := s.RunAll(s.ctx); err != nil {
		logrus.Errorf("Scheduled ingestion pass failed: %v", err)
	}
}

// runRetrySweep is the cron entry point for the notification retry sweep
func (s *Scheduler) runRetrySweep() {
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.dispatcher.RetryPending(s.ctx); err != nil {
		logrus.Errorf("Notification retry sweep failed: %v", err)
	}
}

// RunAll runs one ingestion pass across all eligible tenants with
// bounded concurrency. Every tenant gets a RunResult; one tenant's
// failure never aborts its siblings, and the whole pass is bounded by a
// wall-clock deadline.
func (s *Scheduler) RunAll(ctx context.Context) (*models.RunSummary, error) {
	runID := uuid.NewString()
	startTime := time.Now()
	s.metrics.RunCount.Inc()

	logrus.Infof("Starting ingestion pass %s", runID)

	mailboxes, err := s.store.ListEnabledMailboxes()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate tenants: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RunDeadline)
	defer cancel()

	var resultsMu sync.Mutex
	results := make(map[string]models.RunResult, len(mailboxes))

	g := new(errgroup.Group)
	g.SetLimit(s.config.MaxConcurrent)

	for _, mb := range mailboxes {
		tenantID := mb.TenantID
		g.Go(func() error {
			result := s.runLocked(ctx, tenantID)
			resultsMu.Lock()
			results[tenantID] = result
			resultsMu.Unlock()
			return nil
		})
	}
	g.Wait()

	summary := s.summarize(runID, startTime, results)
	s.mu.Lock()
	s.lastSummary = summary
	s.mu.Unlock()

	s.metrics.RunDuration.Observe(time.Since(startTime).Seconds())
	logrus.Infof("Ingestion pass %s completed in %v: %d tenant(s), %d new, %d processed, %d failed",
		runID, time.Since(startTime), summary.Tenants, summary.NewMails, summary.Processed, summary.Failed)

	return summary, nil
}

// RunTenant runs a single tenant through the same lock-guarded path as
// a full pass. Used by the manual trigger.
func (s *Scheduler) RunTenant(ctx context.Context, tenantID string) models.RunResult {
	ctx, cancel := context.WithTimeout(ctx, s.config.RunDeadline)
	defer cancel()
	return s.runLocked(ctx, tenantID)
}

// runLocked acquires the tenant's advisory lock and runs ingestion
// while holding it. Lock contention is a normal skip, not an error.
// Panics are contained at this boundary and become failed results.
func (s *Scheduler) runLocked(ctx context.Context, tenantID string) (result models.RunResult) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("Panic while ingesting tenant %s: %v", tenantID, r)
			result = models.RunResult{TenantID: tenantID, Error: fmt.Sprintf("panic: %v", r)}
		}
		s.recordResult(result)
	}()

	acquired, err := s.locker.WithLock(ctx, "ingest:"+tenantID, func(ctx context.Context) error {
		result = s.engine.IngestTenant(ctx, tenantID)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			// Pass deadline reached while this tenant was in flight.
			// Progress up to the last advanced checkpoint is retained.
			return models.RunResult{TenantID: tenantID, TimedOut: true, Error: ctx.Err().Error()}
		}
		return models.RunResult{TenantID: tenantID, Error: err.Error()}
	}
	if !acquired {
		logrus.Infof("Tenant %s is locked by another run, skipping", tenantID)
		return models.RunResult{TenantID: tenantID, Success: true, Skipped: true, SkipReason: "locked by another run"}
	}
	return result
}

// recordResult feeds the per-tenant outcome into metrics
func (s *Scheduler) recordResult(result models.RunResult) {
	switch {
	case result.Skipped:
		s.metrics.TenantsSkipped.Inc()
	case result.Success:
		s.metrics.TenantsProcessed.Inc()
	default:
		s.metrics.TenantsFailed.Inc()
	}
}

// summarize aggregates per-tenant results into the pass summary
func (s *Scheduler) summarize(runID string, startTime time.Time, results map[string]models.RunResult) *models.RunSummary {
	summary := &models.RunSummary{
		RunID:     runID,
		StartedAt: startTime,
		Duration:  time.Since(startTime).String(),
		Tenants:   len(results),
		Results:   results,
	}
	for _, result := range results {
		summary.NewMails += result.NewMails
		summary.Processed += result.Processed
		failed := result.Failed
		if failed == 0 && !result.Success && !result.Skipped {
			failed = 1
		}
		summary.Failed += failed
	}
	return summary
}

// RetrySweeper exposes the dispatcher for the manual retry trigger
func (s *Scheduler) RetrySweeper() RetrySweeper {
	return s.dispatcher
}

// LastSummary returns the summary of the most recent pass, or nil
func (s *Scheduler) LastSummary() *models.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSummary
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last scheduled run
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Prev
}

// Wait waits for in-flight jobs to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
