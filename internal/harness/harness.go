package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/gate"
	"github.com/roach88/geoattend/internal/geo"
	"github.com/roach88/geoattend/internal/notify"
	"github.com/roach88/geoattend/internal/presence"
	"github.com/roach88/geoattend/internal/recovery"
	"github.com/roach88/geoattend/internal/session"
	"github.com/roach88/geoattend/internal/store"
	"github.com/roach88/geoattend/internal/syncer"
	"github.com/roach88/geoattend/internal/testutil"
)

// ScenarioStart is the fake clock's start time.
var ScenarioStart = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

// fixTimeout bounds fresh fixes in scenarios; the timeout fix mode would
// otherwise hold a run for the production default.
const fixTimeout = 20 * time.Millisecond

// outcomeNoEvent is the trace outcome of a poll that emitted nothing.
const outcomeNoEvent = "no_event"

// Harness is the scenario execution engine.
type Harness struct {
	scenario *Scenario
	zone     attendance.Zone
	store    *store.Store
	clock    *testutil.Clock
	probe    *testutil.Probe
	identity *testutil.Identity
	remote   *testutil.Remote
	enqueuer *testutil.Enqueuer
	notes    *notify.Recorder
	gate     *gate.Gate
	engine   *syncer.Engine
	logger   *slog.Logger

	// Rebuilt on restart.
	tracker   *testutil.Tracker
	manager   *session.Manager
	geofencer *presence.Geofencer
	recovery  *recovery.Procedure
	restarts  int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
// 1. Create fresh in-memory database, save the zone, seed records
// 2. Build the in-process components
// 3. Execute steps, checking each step's expect clause
// 4. Evaluate assertions against the trace and final state
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(scenario, st)
	ctx := context.Background()

	if err := h.setup(ctx); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	h.boot()

	result := NewResult()
	if err := h.executeSteps(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	if err := h.collectState(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to collect final state: %w", err)
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

func newHarness(s *Scenario, st *store.Store) *Harness {
	zone := attendance.Zone{
		ID:           s.Zone.ID,
		Label:        s.Zone.Label,
		Center:       attendance.Coordinate{Lat: s.Zone.Lat, Lon: s.Zone.Lon},
		RadiusMeters: s.Zone.RadiusM,
	}

	network := attendance.NetworkIdentity{}
	if s.Network != nil {
		network = *s.Network
	} else if len(s.TrustedNetworks) > 0 {
		network = s.TrustedNetworks[0]
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	remote := testutil.NewRemote()

	h := &Harness{
		scenario: s,
		zone:     zone,
		store:    st,
		clock:    testutil.NewClock(ScenarioStart),
		probe:    testutil.NewProbe(zone.Center),
		identity: testutil.NewIdentity(network),
		remote:   remote,
		enqueuer: &testutil.Enqueuer{},
		notes:    &notify.Recorder{},
		gate:     gate.New(s.TrustedNetworks...),
		logger:   logger,
	}
	h.engine = syncer.NewEngine(st, remote, syncer.WithLogger(logger))
	return h
}

// setup saves the zone and seeds the scenario's records.
func (h *Harness) setup(ctx context.Context) error {
	if err := h.store.SaveZone(ctx, h.zone); err != nil {
		return err
	}

	for i, seed := range h.scenario.Setup {
		in, _ := time.ParseDuration(seed.CheckedIn)
		label := seed.Label
		if label == "" {
			label = h.zone.DisplayLabel()
		}
		rec, _, err := h.store.OpenSession(ctx, seed.UserID, label, ScenarioStart.Add(-in))
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if seed.CheckedOut == "" {
			continue
		}
		out, _ := time.ParseDuration(seed.CheckedOut)
		if _, _, err := h.store.CloseSession(ctx, seed.UserID, ScenarioStart.Add(-out)); err != nil {
			return fmt.Errorf("setup[%d] record %d: %w", i, rec.ID, err)
		}
	}
	return nil
}

// boot builds the in-process components, as process start does. The
// geofencer is armed with the scenario zone; a recover step re-arms it from
// the store.
func (h *Harness) boot() {
	h.tracker = &testutil.Tracker{}
	h.manager = session.New(h.store, h.gate, h.identity,
		session.WithUserID(h.scenario.UserID),
		session.WithZone(h.zone),
		session.WithTracker(h.tracker),
		session.WithSync(h.enqueuer),
		session.WithNotifier(h.notes),
		session.WithClock(h.clock.Now),
		session.WithLogger(h.logger),
	)
	h.geofencer = presence.NewGeofencer(h.probe,
		presence.WithClock(h.clock.Now),
		presence.WithLogger(h.logger),
	)
	_ = h.geofencer.Rearm(context.Background(), h.zone)

	policy := recovery.Policy{
		OnProbeFailure: recovery.ProbeFailurePolicy(h.scenario.Recovery.OnProbeFailure),
		OnEmptyStore:   recovery.EmptyStorePolicy(h.scenario.Recovery.OnEmptyStore),
		FixTimeout:     fixTimeout,
	}
	h.recovery = recovery.New(h.store, h.geofencer, h.probe, h.manager,
		recovery.WithPolicy(policy),
		recovery.WithUserID(h.scenario.UserID),
		recovery.WithFallbackZone(h.zone),
		recovery.WithNotifier(h.notes),
		recovery.WithClock(h.clock.Now),
		recovery.WithLogger(h.logger),
	)
}

// executeSteps runs every step and checks its expect clause.
func (h *Harness) executeSteps(ctx context.Context, result *Result) error {
	for i, step := range h.scenario.Steps {
		events, err := h.execute(ctx, step, result)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		if step.Expect == "" {
			continue
		}
		// A poll step matches if any event it produced has the outcome.
		matched := false
		var got []string
		for _, ev := range events {
			got = append(got, ev.Outcome)
			if ev.Outcome == step.Expect {
				matched = true
			}
		}
		if !matched {
			result.AddError(fmt.Sprintf("step %d (%s): expected outcome %q, got %v", i, step.Action, step.Expect, got))
		}

		h.logger.Info("step completed",
			"step", i,
			"action", step.Action,
			"expected", step.Expect,
			"actual", got,
		)
	}
	return nil
}

// execute runs one step and returns the trace events it produced.
func (h *Harness) execute(ctx context.Context, step Step, result *Result) ([]TraceEvent, error) {
	switch step.Action {
	case ActionEvent:
		kind, err := attendance.ParseEventKind(step.Kind)
		if err != nil {
			return nil, err
		}
		ev := attendance.Event{Kind: kind, Source: "scenario"}
		if kind == attendance.EventZoneEnter || kind == attendance.EventZoneExit {
			ev.ZoneID = h.zone.ID
			if step.ZoneID != nil {
				ev.ZoneID = *step.ZoneID
			}
		}
		res, err := h.manager.Handle(ctx, ev)
		if err != nil {
			return nil, err
		}
		args := map[string]any{"kind": kind.String()}
		if ev.ZoneID != "" {
			args["zone_id"] = ev.ZoneID
		}
		return []TraceEvent{result.AddTrace(ActionEvent, args, res.Outcome.String(), res.Record.ID)}, nil

	case ActionPoll:
		sink := &collector{}
		h.geofencer.Poll(ctx, sink)
		if len(sink.events) == 0 {
			return []TraceEvent{result.AddTrace(ActionPoll, nil, outcomeNoEvent, 0)}, nil
		}
		var out []TraceEvent
		for _, ev := range sink.events {
			res, err := h.manager.Handle(ctx, ev)
			if err != nil {
				return nil, err
			}
			args := map[string]any{"kind": ev.Kind.String()}
			out = append(out, result.AddTrace(ActionPoll, args, res.Outcome.String(), res.Record.ID))
		}
		return out, nil

	case ActionRecover:
		rep, err := h.recovery.Run(ctx)
		if errors.Is(err, recovery.ErrAlreadyRan) {
			return []TraceEvent{result.AddTrace(ActionRecover, nil, "already_ran", 0)}, nil
		}
		if err != nil {
			return nil, err
		}
		args := map[string]any{"rearmed": rep.Rearmed}
		if rep.FixSource != "" {
			args["fix_source"] = rep.FixSource
			args["distance_m"] = int64(math.Round(rep.Distance))
		}
		return []TraceEvent{result.AddTrace(ActionRecover, args, string(rep.Action), rep.Record.ID)}, nil

	case ActionSync:
		rep, err := h.engine.Run(ctx)
		if err != nil {
			return nil, err
		}
		return []TraceEvent{result.AddTrace(ActionSync, nil, rep.String(), 0)}, nil

	case ActionMove:
		pos := geo.Offset(h.zone.Center, step.NorthM, step.EastM)
		h.probe.Set(probeMode(step.Fix), pos)
		args := map[string]any{
			"distance_m": int64(math.Round(geo.Distance(h.zone.Center, pos))),
		}
		if step.Fix != "" {
			args["fix"] = step.Fix
		}
		return []TraceEvent{result.AddTrace(ActionMove, args, "ok", 0)}, nil

	case ActionNetwork:
		var args map[string]any
		if step.Network != nil {
			h.identity.Set(*step.Network)
			args = map[string]any{"ssid": step.Network.SSID}
		} else {
			h.identity.Set(attendance.NetworkIdentity{})
		}
		return []TraceEvent{result.AddTrace(ActionNetwork, args, "ok", 0)}, nil

	case ActionRemote:
		h.remote.SetFailing(step.Failing)
		args := map[string]any{"failing": step.Failing}
		return []TraceEvent{result.AddTrace(ActionRemote, args, "ok", 0)}, nil

	case ActionAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return nil, err
		}
		h.clock.Advance(d)
		return []TraceEvent{result.AddTrace(ActionAdvance, map[string]any{"duration": step.Duration}, "ok", 0)}, nil

	case ActionRestart:
		h.restarts++
		h.boot()
		return []TraceEvent{result.AddTrace(ActionRestart, nil, "ok", 0)}, nil
	}
	return nil, fmt.Errorf("unknown action %q", step.Action)
}

// collectState fills the result's state summary, records and notifications.
func (h *Harness) collectState(ctx context.Context, result *Result) error {
	records, err := h.store.AllRecords(ctx)
	if err != nil {
		return err
	}
	active, err := h.activeCount(ctx)
	if err != nil {
		return err
	}

	creates, updates := h.remote.Calls()
	starts, stops := h.tracker.Counts()
	running, _ := h.tracker.Running()

	result.State = map[string]any{
		"records":        len(records),
		"active_records": active,
		"sync_requests":  len(h.enqueuer.Reasons()),
		"remote_creates": creates,
		"remote_updates": updates,
		"remote_docs":    h.remote.Len(),
		"tracking":       running,
		"tracker_starts": starts,
		"tracker_stops":  stops,
		"restarts":       h.restarts,
	}

	result.Records = make([]map[string]any, 0, len(records))
	for _, rec := range records {
		result.Records = append(result.Records, recordMap(rec))
	}
	result.Notifications = h.notes.Titles()
	return nil
}

// activeCount counts open records across all users.
func (h *Harness) activeCount(ctx context.Context) (int, error) {
	var n int
	err := h.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attendance_records WHERE check_out_time IS NULL`).Scan(&n)
	return n, err
}

// recordMap projects a record into the shape used by record assertions and
// golden traces. Absent optional values are omitted.
func recordMap(r attendance.Record) map[string]any {
	m := map[string]any{
		"id":         r.ID,
		"zone_label": r.ZoneLabel,
		"check_in":   r.CheckInTime.UTC().Format(time.RFC3339),
		"completed":  r.Completed(),
		"synced":     r.Synced,
	}
	if r.CheckOutTime != nil {
		m["check_out"] = r.CheckOutTime.UTC().Format(time.RFC3339)
	}
	if r.UserID != "" {
		m["user_id"] = r.UserID
	}
	if r.RemoteID != "" {
		m["remote_id"] = r.RemoteID
	}
	return m
}

func probeMode(fix string) testutil.ProbeMode {
	switch fix {
	case FixFreshOnly:
		return testutil.ProbeFreshOnly
	case FixTimeout:
		return testutil.ProbeTimeout
	case FixDenied:
		return testutil.ProbeDenied
	default:
		return testutil.ProbeLastKnown
	}
}

// collector is a presence sink that keeps emitted events for synchronous
// handling.
type collector struct {
	events []attendance.Event
}

func (c *collector) Enqueue(ev attendance.Event) bool {
	c.events = append(c.events, ev)
	return true
}
