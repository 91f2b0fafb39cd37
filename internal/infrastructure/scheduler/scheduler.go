// Package scheduler runs the bot's background jobs on gocron. Every job is a
// singleton: a run that is still going when the next one is due makes the
// scheduler skip ahead instead of overlapping.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

var (
	ErrNilJob                  = errors.New("scheduler: nil job")
	ErrInvalidInterval         = errors.New("scheduler: interval must be positive")
	ErrJobAlreadyExists        = errors.New("scheduler: duplicate job")
	ErrJobNotFound             = errors.New("scheduler: unknown job")
	ErrSchedulerAlreadyRunning = errors.New("scheduler: already running")
	ErrSchedulerNotRunning     = errors.New("scheduler: not running")
)

// Job is a unit of periodic work. Run receives a context that is cancelled
// when the scheduler stops.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// JobResult describes one run of a job.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error

	// Manual is set for runs started through RunNow.
	Manual bool
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name        string
	Description string
	Interval    time.Duration
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// Totals sums the runs of every job.
type Totals struct {
	Runs     int64
	Failures int64
	Busy     time.Duration
}

type entry struct {
	job      Job
	interval time.Duration
	handle   gocron.Job

	runs     int64
	failures int64
	last     *JobResult
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Logger *slog.Logger

	// Timezone defaults to UTC.
	Timezone *time.Location
}

// Scheduler owns a gocron scheduler and the jobs registered on it.
type Scheduler struct {
	cron   gocron.Scheduler
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	totals  Totals
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(config SchedulerConfig) (*Scheduler, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := config.Timezone
	if loc == nil {
		loc = time.UTC
	}

	cron, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("scheduler: create: %w", err)
	}

	// Runs started before Start get a cancelled context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	return &Scheduler{
		cron:    cron,
		logger:  logger.With("component", "scheduler"),
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Register runs job every interval. With runImmediately set the first run
// happens as soon as the scheduler starts.
func (s *Scheduler) Register(job Job, interval time.Duration, runImmediately bool) error {
	if job == nil {
		return ErrNilJob
	}
	if interval <= 0 {
		return ErrInvalidInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	e := &entry{job: job, interval: interval}
	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithEventListeners(gocron.AfterJobRunsWithPanic(
			func(_ uuid.UUID, jobName string, recovered any) {
				s.logger.Error("job panicked", "job", jobName, "panic", fmt.Sprint(recovered))
			},
		)),
	}
	if runImmediately {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	task := gocron.NewTask(func() {
		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()
		s.run(ctx, e, false)
	})
	handle, err := s.cron.NewJob(gocron.DurationJob(interval), task, opts...)
	if err != nil {
		return fmt.Errorf("scheduler: register %s: %w", name, err)
	}
	e.handle = handle
	s.entries[name] = e

	s.logger.Info("job registered", "job", name, "interval", interval.String())
	return nil
}

// Start begins running registered jobs. Their context ends with ctx or Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.cron.Start()

	s.logger.Info("scheduler started", "jobs", len(s.entries))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RunNow runs the named job once on the caller's goroutine, outside its
// schedule. The returned error is the job's.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	res := s.run(ctx, e, true)
	return &res, res.Error
}

func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.job.Name()
	s.logger.Debug("job started", "job", name, "manual", manual)

	start := time.Now()
	err := e.job.Run(ctx)
	end := time.Now()

	res := JobResult{
		JobName:     name,
		StartedAt:   start,
		CompletedAt: end,
		Duration:    end.Sub(start),
		Success:     err == nil,
		Error:       err,
		Manual:      manual,
	}

	s.mu.Lock()
	e.runs++
	s.totals.Runs++
	s.totals.Busy += res.Duration
	if err != nil {
		e.failures++
		s.totals.Failures++
	}
	e.last = &res
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", name, "duration", res.Duration.String(), "error", err)
	} else {
		s.logger.Info("job completed", "job", name, "duration", res.Duration.String())
	}
	return res
}

// ListJobs describes the registered jobs, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		info := JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Interval:    e.interval,
			RunCount:    e.runs,
			FailCount:   e.failures,
			LastResult:  e.last,
		}
		if next, err := e.handle.NextRun(); err == nil {
			info.NextRun = next
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Totals returns the run counters summed over all jobs.
func (s *Scheduler) Totals() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals
}
