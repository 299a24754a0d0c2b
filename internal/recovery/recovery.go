// Package recovery reconciles persisted session state after a restart.
//
// A Procedure runs once per process before live presence events are
// delivered. It re-arms zone monitoring from the persisted zone, and when
// the store holds an active session (or nothing at all) it takes a location
// fix and drives the session state machine with the event the fix implies.
// What happens when no fix can be had, and whether an empty store should
// trigger a check-in, are named policies rather than hidden fallbacks.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/geo"
	"github.com/roach88/geoattend/internal/metrics"
	"github.com/roach88/geoattend/internal/notify"
	"github.com/roach88/geoattend/internal/session"
)

// DefaultFixTimeout bounds the fresh location request.
const DefaultFixTimeout = 10 * time.Second

// ErrAlreadyRan is returned by a second Run on the same Procedure.
var ErrAlreadyRan = errors.New("recovery already ran")

// ProbeFailurePolicy decides what to do with an active session when no
// location fix can be obtained.
type ProbeFailurePolicy string

const (
	// CloseOnProbeFailure ends the session as a permission loss.
	CloseOnProbeFailure ProbeFailurePolicy = "close"
	// KeepOnProbeFailure leaves the session open until the next live signal.
	KeepOnProbeFailure ProbeFailurePolicy = "keep"
)

// EmptyStorePolicy decides what to do when the store has never held a record.
type EmptyStorePolicy string

const (
	// CheckInOnEmptyStore probes and checks in if the device is inside the zone.
	CheckInOnEmptyStore EmptyStorePolicy = "check_in"
	// WaitOnEmptyStore does nothing and waits for a live presence signal.
	WaitOnEmptyStore EmptyStorePolicy = "wait"
)

// Policy groups the recovery decisions.
type Policy struct {
	OnProbeFailure ProbeFailurePolicy
	OnEmptyStore   EmptyStorePolicy
	FixTimeout     time.Duration
}

// DefaultPolicy returns close-on-failure, check-in-on-empty, 10s timeout.
func DefaultPolicy() Policy {
	return Policy{
		OnProbeFailure: CloseOnProbeFailure,
		OnEmptyStore:   CheckInOnEmptyStore,
		FixTimeout:     DefaultFixTimeout,
	}
}

// Action is what a recovery run did.
type Action string

const (
	ActionNone             Action = "none"
	ActionResumed          Action = "resumed"
	ActionCheckedIn        Action = "checked_in"
	ActionGateRejected     Action = "gate_rejected"
	ActionClosedOutside    Action = "closed_outside"
	ActionClosedNoFix      Action = "closed_no_fix"
	ActionKeptNoFix        Action = "kept_no_fix"
	ActionOutsideNoSession Action = "outside_no_session"
	ActionWaiting          Action = "waiting"
	// ActionAlreadyClosed means another writer closed the session first.
	ActionAlreadyClosed Action = "already_closed"
	// ActionIgnored means the state machine ignored the event, e.g. the
	// persisted zone is not the zone being monitored.
	ActionIgnored Action = "ignored"
)

// enterAction maps the outcome of a recovery ZoneEnter.
func enterAction(o session.Outcome) Action {
	switch o {
	case session.OutcomeAlreadyActive:
		return ActionResumed
	case session.OutcomeCreated:
		return ActionCheckedIn
	case session.OutcomeGateRejected:
		return ActionGateRejected
	default:
		return ActionIgnored
	}
}

// closeAction maps the outcome of a recovery ZoneExit or PermissionLost.
// closed is the action reported when the session was actually closed.
func closeAction(o session.Outcome, closed Action) Action {
	switch o {
	case session.OutcomeClosed:
		return closed
	case session.OutcomeNoActiveSession:
		return ActionAlreadyClosed
	default:
		return ActionIgnored
	}
}

// Fix sources reported in Report.FixSource.
const (
	FixLastKnown = "last_known"
	FixFresh     = "fresh"
)

// Report describes a recovery run.
type Report struct {
	Rearmed   bool
	Action    Action
	FixSource string
	Distance  float64
	Record    attendance.Record
}

// Monitor is the presence signal source's re-arm call.
type Monitor interface {
	Rearm(ctx context.Context, z attendance.Zone) error
}

// Probe acquires a location fix.
type Probe interface {
	LastKnown(ctx context.Context) (attendance.Coordinate, bool, error)
	Fresh(ctx context.Context) (attendance.Coordinate, error)
}

// Store is the subset of the record store recovery reads.
type Store interface {
	LoadZone(ctx context.Context) (attendance.Zone, bool, error)
	ActiveRecord(ctx context.Context, userID string) (attendance.Record, bool, error)
	Count(ctx context.Context) (int, error)
}

// Procedure is a one-shot recovery run.
type Procedure struct {
	store    Store
	monitor  Monitor
	probe    Probe
	handler  session.Handler
	policy   Policy
	userID   string
	fallback attendance.Zone
	notifier notify.Notifier
	metrics  *metrics.Set
	logger   *slog.Logger
	now      func() time.Time

	ran atomic.Bool
}

// Option configures a Procedure.
type Option func(*Procedure)

// WithPolicy overrides DefaultPolicy. Zero fields keep their defaults.
func WithPolicy(p Policy) Option {
	return func(r *Procedure) {
		if p.OnProbeFailure != "" {
			r.policy.OnProbeFailure = p.OnProbeFailure
		}
		if p.OnEmptyStore != "" {
			r.policy.OnEmptyStore = p.OnEmptyStore
		}
		if p.FixTimeout > 0 {
			r.policy.FixTimeout = p.FixTimeout
		}
	}
}

// WithUserID sets the user whose active session is inspected.
func WithUserID(id string) Option {
	return func(r *Procedure) { r.userID = id }
}

// WithFallbackZone sets the zone used when none was persisted (typically the
// configured zone). Monitoring is only re-armed from the persisted zone.
func WithFallbackZone(z attendance.Zone) Option {
	return func(r *Procedure) { r.fallback = z }
}

// WithNotifier sets the notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Procedure) { r.notifier = n }
}

// WithMetrics sets the metric collectors.
func WithMetrics(s *metrics.Set) Option {
	return func(r *Procedure) { r.metrics = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Procedure) { r.logger = l }
}

// WithClock overrides time.Now for the events recovery emits.
func WithClock(now func() time.Time) Option {
	return func(r *Procedure) { r.now = now }
}

// New creates a Procedure. handler is normally the session Manager.
func New(s Store, m Monitor, p Probe, h session.Handler, opts ...Option) *Procedure {
	r := &Procedure{
		store:    s,
		monitor:  m,
		probe:    p,
		handler:  h,
		policy:   DefaultPolicy(),
		notifier: notify.Discard,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "recovery")
	return r
}

// Run performs recovery. Only store failures and a second call return an
// error; monitoring and probe failures are logged and resolved by policy.
func (r *Procedure) Run(ctx context.Context) (Report, error) {
	if !r.ran.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRan
	}

	r.notifier.Notify(ctx, notify.TitleRecovering, "Checking where you are.")

	rep, err := r.run(ctx)
	if err != nil {
		r.logger.Error("recovery failed", "error", err)
		return rep, err
	}
	r.metrics.Recovery(string(rep.Action))
	r.logger.Info("recovery finished",
		"action", string(rep.Action),
		"rearmed", rep.Rearmed,
		"fix_source", rep.FixSource,
		"distance_m", rep.Distance,
		"record_id", rep.Record.ID,
	)
	return rep, nil
}

func (r *Procedure) run(ctx context.Context) (Report, error) {
	var rep Report

	zone, rearmed, err := r.rearm(ctx)
	if err != nil {
		return rep, err
	}
	rep.Rearmed = rearmed
	if !zone.Armable() {
		zone = r.fallback
	}

	active, hasActive, err := r.store.ActiveRecord(ctx, r.userID)
	if err != nil {
		return rep, fmt.Errorf("recovery: %w", err)
	}
	total, err := r.store.Count(ctx)
	if err != nil {
		return rep, fmt.Errorf("recovery: %w", err)
	}
	empty := total == 0
	rep.Record = active

	if !hasActive && !empty {
		rep.Action = ActionNone
		return rep, nil
	}
	if !hasActive && r.policy.OnEmptyStore == WaitOnEmptyStore {
		rep.Action = ActionWaiting
		return rep, nil
	}
	if !zone.Armable() {
		r.logger.Warn("no zone to evaluate the fix against; waiting for live signal")
		rep.Action = ActionWaiting
		if hasActive {
			rep.Action = ActionKeptNoFix
		}
		return rep, nil
	}

	pos, source, err := r.fix(ctx)
	if err != nil {
		r.logger.Warn("no location fix", "error", err, "active", hasActive)
		if !hasActive {
			rep.Action = ActionWaiting
			return rep, nil
		}
		if r.policy.OnProbeFailure == KeepOnProbeFailure {
			rep.Action = ActionKeptNoFix
			return rep, nil
		}
		res, err := r.emit(ctx, attendance.EventPermissionLost, "")
		if err != nil {
			return rep, err
		}
		if res.Record.ID != 0 {
			rep.Record = res.Record
		}
		rep.Action = closeAction(res.Outcome, ActionClosedNoFix)
		return rep, nil
	}

	rep.FixSource = source
	inside, distance := geo.Contains(zone, pos)
	rep.Distance = distance

	if inside {
		res, err := r.emit(ctx, attendance.EventZoneEnter, zone.ID)
		if err != nil {
			return rep, err
		}
		if res.Record.ID != 0 {
			rep.Record = res.Record
		}
		rep.Action = enterAction(res.Outcome)
		return rep, nil
	}

	if !hasActive {
		rep.Action = ActionOutsideNoSession
		return rep, nil
	}
	res, err := r.emit(ctx, attendance.EventZoneExit, zone.ID)
	if err != nil {
		return rep, err
	}
	if res.Record.ID != 0 {
		rep.Record = res.Record
	}
	rep.Action = closeAction(res.Outcome, ActionClosedOutside)
	return rep, nil
}

// rearm restores monitoring from the persisted zone and returns that zone.
// Only a store failure is returned; a missing zone or a monitor error is
// logged. After a monitor error the persisted zone is still returned, since
// it remains the reference for the location fix.
func (r *Procedure) rearm(ctx context.Context) (attendance.Zone, bool, error) {
	zone, ok, err := r.store.LoadZone(ctx)
	if err != nil {
		return attendance.Zone{}, false, fmt.Errorf("recovery: %w", err)
	}
	if !ok || !zone.Armable() {
		r.logger.Warn("no persisted zone; monitoring not re-armed")
		return attendance.Zone{}, false, nil
	}
	if err := r.monitor.Rearm(ctx, zone); err != nil {
		r.logger.Error("re-arm monitoring failed", "zone_id", zone.ID, "error", err)
		return zone, false, nil
	}
	r.logger.Info("monitoring re-armed", "zone_id", zone.ID, "radius_m", zone.RadiusMeters)
	return zone, true, nil
}

// fix tries the last-known location, then a fresh fix bounded by FixTimeout.
func (r *Procedure) fix(ctx context.Context) (attendance.Coordinate, string, error) {
	pos, ok, err := r.probe.LastKnown(ctx)
	if err != nil && attendance.IsPermissionError(err) {
		return attendance.Coordinate{}, "", err
	}
	if err == nil && ok {
		return pos, FixLastKnown, nil
	}

	fctx, cancel := context.WithTimeout(ctx, r.policy.FixTimeout)
	defer cancel()
	pos, err = r.probe.Fresh(fctx)
	if err != nil {
		if fctx.Err() != nil && !attendance.IsTimeout(err) {
			err = attendance.WrapError(attendance.ErrCodeProbeTimeout, "recovery.fix", err)
		}
		return attendance.Coordinate{}, "", err
	}
	return pos, FixFresh, nil
}

func (r *Procedure) emit(ctx context.Context, kind attendance.EventKind, zoneID string) (session.Result, error) {
	res, err := r.handler.Handle(ctx, attendance.Event{
		Kind:   kind,
		ZoneID: zoneID,
		Source: "recovery",
		At:     r.now(),
	})
	if err != nil {
		return session.Result{}, fmt.Errorf("recovery: %s: %w", kind, err)
	}
	return res, nil
}
