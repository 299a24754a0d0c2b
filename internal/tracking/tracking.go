// Package tracking runs the background work of an active session.
//
// While a session is open the service samples the location probe at the
// telemetry interval and re-checks the verification gate at the recheck
// interval. Both jobs run on a robfig/cron scheduler owned by the session;
// Stop tears the scheduler down so no timer outlives the session.
package tracking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/gate"
	"github.com/roach88/geoattend/internal/geo"
	"github.com/roach88/geoattend/internal/notify"
)

// Default intervals.
const (
	DefaultTelemetryInterval   = 5 * time.Second
	DefaultGateRecheckInterval = 5 * time.Minute
)

// Probe reports the last known device location.
type Probe interface {
	LastKnown(ctx context.Context) (attendance.Coordinate, bool, error)
}

// Config holds the job intervals. Zero values use the defaults.
type Config struct {
	TelemetryInterval   time.Duration
	GateRecheckInterval time.Duration
}

// Service is the continuous tracking service.
//
// Thread-safety: Start, Stop and Running may be called from any goroutine.
type Service struct {
	probe    Probe
	gate     *gate.Gate
	identity gate.IdentitySource
	notifier notify.Notifier
	logger   *slog.Logger
	zone     attendance.Zone
	cfg      Config

	onPermissionLost func()

	mu       sync.Mutex
	cron     *cron.Cron
	cancel   context.CancelFunc
	record   attendance.Record
	lostSent bool
}

// Option configures a Service.
type Option func(*Service)

// WithZone sets the zone used for distance logging.
func WithZone(z attendance.Zone) Option {
	return func(s *Service) { s.zone = z }
}

// WithNotifier sets the notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// OnPermissionLost registers fn, called at most once per session when the
// probe reports that location permission was revoked.
func OnPermissionLost(fn func()) Option {
	return func(s *Service) { s.onPermissionLost = fn }
}

// New creates a stopped Service.
func New(p Probe, g *gate.Gate, identity gate.IdentitySource, cfg Config, opts ...Option) *Service {
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = DefaultTelemetryInterval
	}
	if cfg.GateRecheckInterval <= 0 {
		cfg.GateRecheckInterval = DefaultGateRecheckInterval
	}
	s := &Service{
		probe:    p,
		gate:     g,
		identity: identity,
		notifier: notify.Discard,
		logger:   slog.Default(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tracking")
	return s
}

// Start schedules the tracking jobs for rec. Starting again for the same
// record is a no-op; starting for a different record replaces the jobs.
func (s *Service) Start(ctx context.Context, rec attendance.Record) error {
	s.mu.Lock()
	if s.cron != nil && s.record.ID == rec.ID {
		s.mu.Unlock()
		return nil
	}
	old, oldCancel := s.cron, s.cancel

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(s.cfg.TelemetryInterval), cron.FuncJob(func() { s.Sample(jobCtx) }))
	c.Schedule(cron.Every(s.cfg.GateRecheckInterval), cron.FuncJob(func() { s.CheckNetwork(jobCtx) }))

	s.cron, s.cancel, s.record, s.lostSent = c, cancel, rec, false
	c.Start()
	s.mu.Unlock()

	if old != nil {
		oldCancel()
		<-old.Stop().Done()
	}

	s.logger.Info("tracking started",
		"record_id", rec.ID,
		"telemetry_interval", s.cfg.TelemetryInterval.String(),
		"gate_recheck_interval", s.cfg.GateRecheckInterval.String(),
	)
	return nil
}

// Stop cancels every scheduled job and waits for a running one to return.
// Stopping a stopped service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	c, cancel, id := s.cron, s.cancel, s.record.ID
	s.cron, s.cancel, s.record = nil, nil, attendance.Record{}
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info("tracking stopped", "record_id", id)
}

// Running reports whether jobs are scheduled and for which record.
func (s *Service) Running() (bool, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil, s.record.ID
}

// Jobs returns the number of scheduled jobs (zero when stopped).
func (s *Service) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

// Sample takes one telemetry reading. It is the body of the telemetry job.
func (s *Service) Sample(ctx context.Context) {
	pos, ok, err := s.probe.LastKnown(ctx)
	if err != nil {
		if attendance.IsPermissionError(err) {
			s.permissionLost()
			return
		}
		s.logger.Warn("telemetry sample failed", "error", err)
		return
	}
	if !ok {
		s.logger.Debug("telemetry: no fix")
		return
	}

	attrs := []any{"lat", pos.Lat, "lon", pos.Lon}
	if s.zone.Armable() {
		inside, d := geo.Contains(s.zone, pos)
		attrs = append(attrs, "distance_m", d, "inside", inside)
	}
	s.logger.Debug("telemetry", attrs...)
}

// CheckNetwork re-evaluates the verification gate. It is the body of the
// recheck job. A failed check only warns; it never ends the session.
func (s *Service) CheckNetwork(ctx context.Context) gate.Decision {
	d := s.gate.Check(ctx, s.identity)
	if !d.Passed {
		s.logger.Warn("trusted network lost during session", "reason", d.Reason, "ssid", d.Identity.SSID)
		s.notifier.Notify(ctx, notify.TitleSessionPaused, "Session paused: reconnect to the trusted network.")
	}
	return d
}

func (s *Service) permissionLost() {
	s.mu.Lock()
	fire := !s.lostSent && s.onPermissionLost != nil
	s.lostSent = true
	s.mu.Unlock()

	s.logger.Warn("location permission lost during session")
	if fire {
		s.onPermissionLost()
	}
}
