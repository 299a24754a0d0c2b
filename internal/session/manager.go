package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/gate"
	"github.com/roach88/geoattend/internal/metrics"
	"github.com/roach88/geoattend/internal/notify"
)

// RecordStore is the subset of the record store the state machine uses.
type RecordStore interface {
	ActiveRecord(ctx context.Context, userID string) (attendance.Record, bool, error)
	OpenSession(ctx context.Context, userID, zoneLabel string, at time.Time) (attendance.Record, bool, error)
	CloseSession(ctx context.Context, userID string, at time.Time) (attendance.Record, bool, error)
}

// Tracker is the continuous tracking service. Start and Stop must both be
// idempotent.
type Tracker interface {
	Start(ctx context.Context, rec attendance.Record) error
	Stop()
}

// SyncEnqueuer requests a synchronization run. It must not block.
type SyncEnqueuer interface {
	Enqueue(reason string)
}

// Sync request reasons.
const (
	SyncReasonSessionClosed = "session_closed"
)

// Outcome is what a handled event did.
type Outcome int

const (
	// OutcomeCreated means a new active record was created.
	OutcomeCreated Outcome = iota + 1
	// OutcomeAlreadyActive means an active record existed; tracking was resumed.
	OutcomeAlreadyActive
	// OutcomeGateRejected means the verification gate blocked the check-in.
	OutcomeGateRejected
	// OutcomeClosed means the active record was checked out.
	OutcomeClosed
	// OutcomeNoActiveSession means there was nothing to close.
	OutcomeNoActiveSession
	// OutcomeIgnored means the event named a zone other than the monitored one.
	OutcomeIgnored
)

var outcomeNames = map[Outcome]string{
	OutcomeCreated:         "created",
	OutcomeAlreadyActive:   "already_active",
	OutcomeGateRejected:    "gate_rejected",
	OutcomeClosed:          "closed",
	OutcomeNoActiveSession: "no_active_session",
	OutcomeIgnored:         "ignored",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result describes a handled event.
//
// Record is the record the transition acted on (zero for GateRejected,
// NoActiveSession and Ignored). Gate is set whenever the gate was evaluated.
type Result struct {
	Outcome Outcome
	Record  attendance.Record
	Gate    *gate.Decision
}

// Manager is the session state machine.
//
// Thread-safety: Handle may be called from any goroutine. Events for the
// same user are serialized; events for different users run concurrently.
type Manager struct {
	store    RecordStore
	gate     *gate.Gate
	identity gate.IdentitySource
	tracker  Tracker
	syncer   SyncEnqueuer
	notifier notify.Notifier
	metrics  *metrics.Set
	logger   *slog.Logger
	now      func() time.Time
	userID   func() string
	zone     attendance.Zone

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithTracker sets the tracking service started and stopped by transitions.
func WithTracker(t Tracker) Option {
	return func(m *Manager) { m.tracker = t }
}

// WithSync sets where sync requests go after a checkout.
func WithSync(s SyncEnqueuer) Option {
	return func(m *Manager) { m.syncer = s }
}

// WithNotifier sets the notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithMetrics sets the metric collectors.
func WithMetrics(s *metrics.Set) Option {
	return func(m *Manager) { m.metrics = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides time.Now. Events that carry a timestamp use it instead.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithUser sets the current user. The function is called once per event, so
// a login change takes effect on the next event.
func WithUser(userID func() string) Option {
	return func(m *Manager) { m.userID = userID }
}

// WithUserID is WithUser for a fixed user.
func WithUserID(id string) Option {
	return WithUser(func() string { return id })
}

// WithZone sets the monitored zone. Zone events naming another zone id are
// ignored; the zone label is used for new records.
func WithZone(z attendance.Zone) Option {
	return func(m *Manager) { m.zone = z }
}

// New creates a Manager.
func New(s RecordStore, g *gate.Gate, identity gate.IdentitySource, opts ...Option) *Manager {
	m := &Manager{
		store:    s,
		gate:     g,
		identity: identity,
		tracker:  nopTracker{},
		syncer:   nopEnqueuer{},
		notifier: notify.Discard,
		logger:   slog.Default(),
		now:      time.Now,
		userID:   func() string { return "" },
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// Zone returns the monitored zone.
func (m *Manager) Zone() attendance.Zone {
	return m.zone
}

// Handle applies one event.
//
// Errors are store failures only. Gate rejections, duplicate events and
// events with nothing to do are reported through Result.Outcome.
func (m *Manager) Handle(ctx context.Context, ev attendance.Event) (Result, error) {
	if ev.At.IsZero() {
		ev.At = m.now()
	}

	res, err := m.handle(ctx, ev)
	if err != nil {
		m.logger.Error("event failed", "event", ev.Kind.String(), "source", ev.Source, "error", err)
		return Result{}, err
	}

	m.metrics.Transition(ev.Kind.String(), res.Outcome.String())
	m.logger.Info("event handled",
		"event", ev.Kind.String(),
		"zone_id", ev.ZoneID,
		"source", ev.Source,
		"outcome", res.Outcome.String(),
		"record_id", res.Record.ID,
	)
	return res, nil
}

func (m *Manager) handle(ctx context.Context, ev attendance.Event) (Result, error) {
	switch ev.Kind {
	case attendance.EventZoneEnter, attendance.EventZoneExit:
		if ev.ZoneID != "" && m.zone.ID != "" && ev.ZoneID != m.zone.ID {
			return Result{Outcome: OutcomeIgnored}, nil
		}
	case attendance.EventManualCheckIn, attendance.EventPermissionLost:
	default:
		return Result{}, fmt.Errorf("handle: unknown event kind %d", int(ev.Kind))
	}

	user := m.userID()
	unlock := m.lock(user)
	defer unlock()

	switch ev.Kind {
	case attendance.EventZoneEnter, attendance.EventManualCheckIn:
		return m.checkIn(ctx, user, ev)
	default:
		return m.checkOut(ctx, user, ev)
	}
}

// checkIn handles ZoneEnter and ManualCheckIn. Called with the user lock held.
func (m *Manager) checkIn(ctx context.Context, user string, ev attendance.Event) (Result, error) {
	active, ok, err := m.store.ActiveRecord(ctx, user)
	if err != nil {
		return Result{}, fmt.Errorf("check in: %w", err)
	}
	if ok {
		m.startTracking(ctx, active)
		return Result{Outcome: OutcomeAlreadyActive, Record: active}, nil
	}

	decision := m.gate.Check(ctx, m.identity)
	if !decision.Passed {
		m.logger.Warn("check-in rejected by verification gate",
			"event", ev.Kind.String(),
			"reason", decision.Reason,
			"ssid", decision.Identity.SSID,
		)
		m.notifier.Notify(ctx, notify.TitleCheckInRejected, "Connect to a trusted network to check in.")
		return Result{Outcome: OutcomeGateRejected, Gate: &decision}, nil
	}

	rec, created, err := m.store.OpenSession(ctx, user, m.zone.DisplayLabel(), ev.At)
	if err != nil {
		return Result{}, fmt.Errorf("check in: %w", err)
	}
	m.startTracking(ctx, rec)
	m.metrics.SetActive(true)
	if !created {
		// Another process opened the session between our read and insert.
		return Result{Outcome: OutcomeAlreadyActive, Record: rec, Gate: &decision}, nil
	}

	if user == "" {
		m.logger.Warn("session opened without a user; it will not sync until attributed", "record_id", rec.ID)
	}
	m.notifier.Notify(ctx, notify.TitleCheckedIn, "Checked in at "+rec.ZoneLabel)
	return Result{Outcome: OutcomeCreated, Record: rec, Gate: &decision}, nil
}

// checkOut handles ZoneExit and PermissionLost. Called with the user lock held.
func (m *Manager) checkOut(ctx context.Context, user string, ev attendance.Event) (Result, error) {
	rec, closed, err := m.store.CloseSession(ctx, user, ev.At)
	if err != nil {
		return Result{}, fmt.Errorf("check out: %w", err)
	}

	// Stop is idempotent; stopping without a session cancels timers left
	// behind by a session another process closed.
	m.tracker.Stop()
	m.metrics.SetTracking(false)
	m.metrics.SetActive(false)

	res := Result{Outcome: OutcomeNoActiveSession}
	if closed {
		res = Result{Outcome: OutcomeClosed, Record: rec}
		m.syncer.Enqueue(SyncReasonSessionClosed)
		if ev.Kind == attendance.EventPermissionLost {
			m.notifier.Notify(ctx, notify.TitlePermissionLost, "Session ended because location access was lost.")
		} else {
			m.notifier.Notify(ctx, notify.TitleCheckedOut, "Checked out of "+rec.ZoneLabel)
		}
	}

	if ev.Kind == attendance.EventZoneExit {
		decision := m.gate.Check(ctx, m.identity)
		res.Gate = &decision
		if decision.Passed {
			m.logger.Warn("trusted network still connected outside zone", "ssid", decision.Identity.SSID)
			m.notifier.Notify(ctx, notify.TitleTrustedOutside,
				"Attention needed: still connected to "+decision.Identity.SSID+" while outside the zone.")
		}
	}
	return res, nil
}

func (m *Manager) startTracking(ctx context.Context, rec attendance.Record) {
	if err := m.tracker.Start(ctx, rec); err != nil {
		// The record is committed; tracking resumes on the next enter or recovery.
		m.logger.Error("start tracking failed", "record_id", rec.ID, "error", err)
		return
	}
	m.metrics.SetTracking(true)
}

// lock acquires the mutex for user and returns its release function.
func (m *Manager) lock(user string) func() {
	m.mu.Lock()
	l, ok := m.locks[user]
	if !ok {
		l = &sync.Mutex{}
		m.locks[user] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

type nopTracker struct{}

func (nopTracker) Start(context.Context, attendance.Record) error { return nil }
func (nopTracker) Stop()                                          {}

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(string) {}
