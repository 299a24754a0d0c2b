package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Default scheduling parameters.
const (
	DefaultInterval     = 15 * time.Minute
	DefaultRetryBackoff = 30 * time.Second
	DefaultMaxBackoff   = 10 * time.Minute
)

// Request reasons used by the scheduler itself.
const (
	ReasonPeriodic = "periodic"
	ReasonRetry    = "retry"
	ReasonStartup  = "startup"
	ReasonManual   = "manual"
)

// Runner is one synchronization pass. *Engine implements it.
type Runner interface {
	Run(ctx context.Context) (Report, error)
}

// SchedulerConfig holds the timing. Zero values use the defaults.
type SchedulerConfig struct {
	Interval     time.Duration
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// Scheduler runs sync passes on request, on a fixed period, and after
// failures with exponential backoff.
//
// Enqueue never blocks and coalesces: any number of requests made while a
// pass is pending or running result in at most one further pass.
type Scheduler struct {
	runner Runner
	cfg    SchedulerConfig
	logger *slog.Logger

	requests chan string
	onRun    func(reason string, rep Report, err error)

	mu       sync.Mutex
	attempt  int
	retry    *time.Timer
	finished bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// OnRun registers a callback invoked after every pass, from the Run goroutine.
func OnRun(fn func(reason string, rep Report, err error)) SchedulerOption {
	return func(s *Scheduler) { s.onRun = fn }
}

// NewScheduler creates a Scheduler for r.
func NewScheduler(r Runner, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = DefaultMaxBackoff
		if cfg.MaxBackoff < cfg.RetryBackoff {
			cfg.MaxBackoff = cfg.RetryBackoff
		}
	}
	s := &Scheduler{
		runner:   r,
		cfg:      cfg,
		logger:   slog.Default(),
		requests: make(chan string, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sync_scheduler")
	return s
}

// Enqueue requests a pass. Safe from any goroutine; never blocks.
func (s *Scheduler) Enqueue(reason string) {
	select {
	case s.requests <- reason:
		s.logger.Debug("sync requested", "reason", reason)
	default:
		s.logger.Debug("sync request coalesced", "reason", reason)
	}
}

// Run serves requests until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() { s.Enqueue(ReasonPeriodic) }))
	c.Start()
	defer func() { <-c.Stop().Done() }()

	s.logger.Info("sync scheduler starting", "interval", s.cfg.Interval.String())
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			s.logger.Info("sync scheduler stopping")
			return ctx.Err()
		case reason := <-s.requests:
			s.pass(ctx, reason)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context, reason string) {
	rep, err := s.runner.Run(ctx)
	switch {
	case err != nil:
		s.logger.Error("sync pass failed", "reason", reason, "error", err)
		s.scheduleRetry()
	case rep.Retry():
		s.scheduleRetry()
	default:
		s.mu.Lock()
		s.attempt = 0
		s.mu.Unlock()
	}
	if s.onRun != nil {
		s.onRun(reason, rep, err)
	}
}

func (s *Scheduler) scheduleRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.retry != nil {
		return
	}
	s.attempt++
	d := s.Backoff(s.attempt)
	s.retry = time.AfterFunc(d, func() {
		s.mu.Lock()
		s.retry = nil
		s.mu.Unlock()
		s.Enqueue(ReasonRetry)
	})
	s.logger.Info("sync retry scheduled", "attempt", s.attempt, "delay", d.String())
}

// Backoff returns the delay before retry attempt n (1-based):
// RetryBackoff doubled per attempt, capped at MaxBackoff.
func (s *Scheduler) Backoff(n int) time.Duration {
	d := s.cfg.RetryBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	return d
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}
