package backup

import (
	"context"
	"sync"
	"time"

	cron "github.com/robfig/cron"

	"tourapp-admin/internal/logging"
)

// PolicySource provides the current retention policy
type PolicySource interface {
	RetentionPolicy(ctx context.Context) (RetentionPolicy, error)
}

// BackupHook observes automatic backups. action is "created" or "failed".
type BackupHook func(action string, record *BackupRecord, err error)

// Scheduler runs automatic backups and retention sweeps on cron schedules.
// Backups triggered here go through the same Coordinator as manual ones.
type Scheduler struct {
	manager       *Manager
	sweeper       *RetentionSweeper
	policies      PolicySource
	sweepSchedule string
	createdBy     string
	logger        *logging.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	policy RetentionPolicy
	hooks  []BackupHook
	now    func() time.Time
}

// NewScheduler creates a stopped scheduler
func NewScheduler(manager *Manager, sweeper *RetentionSweeper, policies PolicySource, sweepSchedule string, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if sweepSchedule == "" {
		sweepSchedule = DefaultSweepSchedule
	}
	return &Scheduler{
		manager:       manager,
		sweeper:       sweeper,
		policies:      policies,
		sweepSchedule: sweepSchedule,
		createdBy:     "scheduler",
		logger:        logger,
		now:           time.Now,
	}
}

// OnBackup registers hook for every automatic backup outcome. Skipped runs
// are not reported.
func (s *Scheduler) OnBackup(hook BackupHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *Scheduler) notify(action string, record *BackupRecord, err error) {
	s.mu.Lock()
	hooks := append([]BackupHook(nil), s.hooks...)
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(action, record, err)
	}
}

// Start reads the policy and registers the jobs
func (s *Scheduler) Start(ctx context.Context) error {
	return s.Reload(ctx)
}

// Reload re-reads the policy and replaces the running schedule
func (s *Scheduler) Reload(ctx context.Context) error {
	policy, err := s.policies.RetentionPolicy(ctx)
	if err != nil {
		return err
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	if _, err := cron.Parse(s.sweepSchedule); err != nil {
		return NewConfigurationError("invalid sweep schedule", err).WithContext("schedule", s.sweepSchedule)
	}

	c := cron.New()
	if policy.AutoBackupEnabled {
		if err := c.AddFunc(policy.CronSpec(), func() { s.RunBackup(context.Background()) }); err != nil {
			return NewConfigurationError("failed to schedule automatic backup", err)
		}
	}
	if err := c.AddFunc(s.sweepSchedule, func() { s.RunSweep(context.Background()) }); err != nil {
		return NewConfigurationError("failed to schedule retention sweep", err)
	}

	s.mu.Lock()
	old := s.cron
	s.cron = c
	s.policy = policy
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	c.Start()

	s.logger.WithFields(map[string]interface{}{
		"auto_backup":    policy.AutoBackupEnabled,
		"frequency":      policy.Frequency,
		"sweep_schedule": s.sweepSchedule,
	}).Info("Backup schedule loaded")
	return nil
}

// Stop halts both jobs; running jobs finish on their own
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

// Next reports when the next automatic backup fires. ok is false when
// automatic backups are disabled or the scheduler is not running.
func (s *Scheduler) Next() (next time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil || !s.policy.AutoBackupEnabled {
		return time.Time{}, false
	}
	schedule, err := cron.Parse(s.policy.CronSpec())
	if err != nil {
		return time.Time{}, false
	}
	return schedule.Next(s.now()), true
}

// RunBackup performs one automatic backup with the policy defaults followed
// by a sweep
func (s *Scheduler) RunBackup(ctx context.Context) {
	s.mu.Lock()
	policy := s.policy
	s.mu.Unlock()

	result, err := s.manager.CreateBackup(ctx, policy.BackupOptions(s.createdBy))
	if err != nil {
		entry := s.logger.WithFields(map[string]interface{}{
			"error":     err.Error(),
			"retryable": IsRetryable(err),
		})
		if IsPermanent(err) {
			entry.Error("Automatic backup failed")
		} else {
			entry.Warn("Automatic backup failed, next run may succeed")
		}
		s.notify("failed", nil, err)
		return
	}
	if result.Skipped {
		return
	}
	s.notify("created", result.Record, nil)

	if _, err := s.sweeper.Sweep(ctx, policy); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Retention sweep after automatic backup failed")
	}
}

// RunSweep applies the current policy once
func (s *Scheduler) RunSweep(ctx context.Context) {
	s.mu.Lock()
	policy := s.policy
	s.mu.Unlock()

	if _, err := s.sweeper.Sweep(ctx, policy); err != nil {
		s.logger.WithField("error", err.Error()).Warn("Scheduled retention sweep failed")
	}
}
