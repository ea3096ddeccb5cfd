// Package scheduler implements the Scheduler (C9): boot-time loading of
// active Schedules with missed-run catch-up, cron-driven dispatch to the
// Workflow Engine, and a watchdog that keeps the in-memory registration
// set honest against the store.
//
// Grounded on pkg/goclaw/copilot/assistant.go's initScheduler (file-
// based job storage, per-job handler closure keyed by an opaque id)
// generalized onto github.com/robfig/cron/v3's parser and scheduler,
// since the teacher hand-rolls next-tick computation the library does
// correctly (including the CRON_TZ= per-entry timezone prefix the spec
// relies on); the job map, watchdog goroutine, and missed-run catch-up
// check wrap the library rather than coming from it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/workflow"
)

const watchdogInterval = 5 * time.Minute

// Scheduler drives Schedules through robfig/cron, persisting
// lastRunAt/nextRunAt after every tick.
type Scheduler struct {
	repo   store.Store
	engine *workflow.Engine
	logger *slog.Logger

	cron *cron.Cron

	mu        sync.Mutex
	jobs      map[string]cron.EntryID
	schedules map[string]cron.Schedule

	stopWatchdog chan struct{}
}

// New builds a Scheduler bound to repo and engine. Call Start to load
// and register every active Schedule.
func New(repo store.Store, engine *workflow.Engine, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		repo:      repo,
		engine:    engine,
		logger:    logger.With("component", "scheduler"),
		cron:      cron.New(cron.WithChain(cron.DelayIfStillRunning(cron.DefaultLogger))),
		jobs:      make(map[string]cron.EntryID),
		schedules: make(map[string]cron.Schedule),
	}
}

// Start loads every active Schedule, runs missed-run catch-up, registers
// a cron job per schedule, starts the underlying cron.Cron, and launches
// the watchdog goroutine. Call Stop to shut down cleanly.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.repo.ListActiveSchedules(ctx)
	if err != nil {
		return err
	}
	for _, sc := range schedules {
		s.loadOne(ctx, sc)
	}
	s.cron.Start()

	s.stopWatchdog = make(chan struct{})
	go s.watchdogLoop(ctx)
	return nil
}

// Stop halts the cron scheduler and the watchdog goroutine. In-flight
// ticks are allowed to finish.
func (s *Scheduler) Stop() {
	if s.stopWatchdog != nil {
		close(s.stopWatchdog)
	}
	<-s.cron.Stop().Done()
}

func (s *Scheduler) loadOne(ctx context.Context, sc *store.Schedule) {
	parsed, err := s.parseSchedule(sc.CronExpression, sc.Timezone)
	if err != nil {
		s.logger.Warn("invalid cron expression, skipping schedule", "schedule_id", sc.ID, "error", err)
		return
	}
	if sc.NextRunAt != nil && sc.NextRunAt.Before(time.Now().UTC()) {
		s.logger.Info("missed-run catch-up", "schedule_id", sc.ID, "next_run_at", sc.NextRunAt)
		s.runTick(ctx, sc.ID, parsed)
	}
	s.registerParsed(sc.ID, parsed)
}

// parseSchedule normalizes the timezone (falling back to UTC on an
// invalid zone, with a warning) and parses the 5-field cron expression
// with the zone applied via robfig/cron's CRON_TZ= prefix convention.
func (s *Scheduler) parseSchedule(cronExpr, timezone string) (cron.Schedule, error) {
	tz := s.normalizeTimezone(timezone)
	spec := fmt.Sprintf("CRON_TZ=%s %s", tz, cronExpr)
	return cron.ParseStandard(spec)
}

func (s *Scheduler) normalizeTimezone(tz string) string {
	if tz == "" {
		return "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		s.logger.Warn("invalid schedule timezone, falling back to UTC", "timezone", tz, "error", err)
		return "UTC"
	}
	return tz
}

func (s *Scheduler) registerParsed(scheduleID string, parsed cron.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.jobs[scheduleID]; ok {
		s.cron.Remove(entryID)
	}
	id := scheduleID
	entryID := s.cron.Schedule(parsed, cron.FuncJob(func() {
		s.runTick(context.Background(), id, parsed)
	}))
	s.jobs[scheduleID] = entryID
	s.schedules[scheduleID] = parsed
}

// runTick executes the workflow bound to scheduleID and atomically
// records {lastRunAt=now, nextRunAt=<next tick>}. Each schedule runs at
// most one tick at a time because New wraps every cron job in
// cron.DelayIfStillRunning; a slow execution simply delays that job's
// next firing until it returns.
func (s *Scheduler) runTick(ctx context.Context, scheduleID string, sched cron.Schedule) {
	sc, err := s.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		s.logger.Warn("loading schedule for tick", "schedule_id", scheduleID, "error", err)
		return
	}
	if _, err := s.engine.Execute(ctx, sc.WorkflowID, sc.OwnerID); err != nil {
		s.logger.Warn("scheduled workflow execution failed", "schedule_id", scheduleID, "workflow_id", sc.WorkflowID, "error", err)
	}
	now := time.Now().UTC()
	next := sched.Next(now)
	if err := s.repo.UpdateScheduleTick(ctx, scheduleID, &now, &next); err != nil {
		s.logger.Warn("persisting schedule tick", "schedule_id", scheduleID, "error", err)
	}
}

// AddSchedule persists sc (if it has no id yet) and registers or
// replaces its cron job.
func (s *Scheduler) AddSchedule(ctx context.Context, sc *store.Schedule) error {
	if _, err := ValidateCronExpression(sc.CronExpression); err != nil {
		return err
	}
	if sc.ID == "" {
		if err := s.repo.CreateSchedule(ctx, sc); err != nil {
			return err
		}
	}
	parsed, err := s.parseSchedule(sc.CronExpression, sc.Timezone)
	if err != nil {
		return apperr.Wrap(apperr.Validation, "parsing cron expression", err)
	}
	s.registerParsed(sc.ID, parsed)
	return nil
}

// RemoveSchedule stops sc's cron job (if registered) and marks its row
// inactive in the store.
func (s *Scheduler) RemoveSchedule(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	if entryID, ok := s.jobs[scheduleID]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, scheduleID)
		delete(s.schedules, scheduleID)
	}
	s.mu.Unlock()
	return s.repo.RemoveSchedule(ctx, scheduleID)
}

// ReloadSchedules is a stop-then-start cycle: every registered job is
// removed and every active Schedule is reloaded from the store.
func (s *Scheduler) ReloadSchedules(ctx context.Context) error {
	s.mu.Lock()
	for id, entryID := range s.jobs {
		s.cron.Remove(entryID)
		delete(s.jobs, id)
		delete(s.schedules, id)
	}
	s.mu.Unlock()

	schedules, err := s.repo.ListActiveSchedules(ctx)
	if err != nil {
		return err
	}
	for _, sc := range schedules {
		s.loadOne(ctx, sc)
	}
	return nil
}

// watchdogLoop diffs the set of active schedules against the set of
// in-memory registrations every watchdogInterval, re-registering any
// that have gone missing.
func (s *Scheduler) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopWatchdog:
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

func (s *Scheduler) reconcile(ctx context.Context) {
	active, err := s.repo.ListActiveSchedules(ctx)
	if err != nil {
		s.logger.Warn("watchdog: listing active schedules", "error", err)
		return
	}
	for _, sc := range active {
		s.mu.Lock()
		_, registered := s.jobs[sc.ID]
		s.mu.Unlock()
		if !registered {
			s.logger.Warn("watchdog: re-registering missing schedule", "schedule_id", sc.ID)
			s.loadOne(ctx, sc)
		}
	}
}

// ValidateCronExpression parses a 5-field cron expression (with an
// optional CRON_TZ= prefix), returning an error for anything the parser
// rejects.
func ValidateCronExpression(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid cron expression", err)
	}
	return sched, nil
}

// ValidateTimezone reports whether tz is a loadable IANA timezone name.
func ValidateTimezone(tz string) error {
	if _, err := time.LoadLocation(tz); err != nil {
		return apperr.Wrap(apperr.Validation, "invalid timezone", err)
	}
	return nil
}

// GetNextRunTime returns the next firing time for cronExpr in timezone
// tz, or nil if either fails to parse.
func GetNextRunTime(cronExpr, timezone string) *time.Time {
	tz := timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %s", tz, cronExpr))
	if err != nil {
		return nil
	}
	next := sched.Next(time.Now().UTC())
	return &next
}
