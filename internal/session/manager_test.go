package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/gate"
	"github.com/roach88/geoattend/internal/notify"
	"github.com/roach88/geoattend/internal/store"
	"github.com/roach88/geoattend/internal/testutil"
)

var (
	start     = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	trusted   = attendance.NetworkIdentity{SSID: "Office", BSSID: "4a:ce:45:52:b8:5c"}
	untrusted = attendance.NetworkIdentity{SSID: "Cafe", BSSID: "00:11:22:33:44:55"}
	office    = attendance.Zone{
		ID:           "office",
		Label:        "HQ",
		Center:       attendance.Coordinate{Lat: 28.720126, Lon: 77.0822006},
		RadiusMeters: 150,
	}
)

type fixture struct {
	store    *store.Store
	manager  *Manager
	clock    *testutil.Clock
	identity *testutil.Identity
	tracker  *testutil.Tracker
	enqueuer *testutil.Enqueuer
	notes    *notify.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "attendance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:    s,
		clock:    testutil.NewClock(start),
		identity: testutil.NewIdentity(trusted),
		tracker:  &testutil.Tracker{},
		enqueuer: &testutil.Enqueuer{},
		notes:    &notify.Recorder{},
	}
	f.manager = New(s, gate.New(trusted), f.identity,
		WithTracker(f.tracker),
		WithSync(f.enqueuer),
		WithNotifier(f.notes),
		WithClock(f.clock.Now),
		WithUserID("user-1"),
		WithZone(office),
	)
	return f
}

func (f *fixture) handle(t *testing.T, kind attendance.EventKind) Result {
	t.Helper()
	res, err := f.manager.Handle(context.Background(), attendance.Event{Kind: kind, ZoneID: office.ID, Source: "test"})
	require.NoError(t, err)
	return res
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestZoneEnter_CreatesRecordAndStartsTracking(t *testing.T) {
	f := newFixture(t)

	res := f.handle(t, attendance.EventZoneEnter)

	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "HQ", res.Record.ZoneLabel)
	assert.Equal(t, "user-1", res.Record.UserID)
	assert.True(t, res.Record.CheckInTime.Equal(start))
	running, id := f.tracker.Running()
	assert.True(t, running)
	assert.Equal(t, res.Record.ID, id)
	assert.Equal(t, []string{notify.TitleCheckedIn}, f.notes.Titles())
	assert.Empty(t, f.enqueuer.Reasons())
}

func TestZoneEnter_GateFailureCreatesNothing(t *testing.T) {
	f := newFixture(t)
	f.identity.Set(untrusted)

	res := f.handle(t, attendance.EventZoneEnter)

	assert.Equal(t, OutcomeGateRejected, res.Outcome)
	require.NotNil(t, res.Gate)
	assert.Equal(t, gate.ReasonUntrusted, res.Gate.Reason)
	assert.Zero(t, f.count(t))
	running, _ := f.tracker.Running()
	assert.False(t, running)
	assert.Equal(t, []string{notify.TitleCheckInRejected}, f.notes.Titles())
}

func TestZoneEnter_IdentityErrorFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.identity.Fail(errors.New("wifi permission denied"))

	res := f.handle(t, attendance.EventZoneEnter)

	assert.Equal(t, OutcomeGateRejected, res.Outcome)
	assert.Zero(t, f.count(t))
}

func TestZoneEnter_DuplicateIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first := f.handle(t, attendance.EventZoneEnter)
	f.clock.Advance(time.Minute)
	// Gate no longer matters once a session is active.
	f.identity.Set(untrusted)
	second := f.handle(t, attendance.EventZoneEnter)

	assert.Equal(t, OutcomeAlreadyActive, second.Outcome)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.True(t, second.Record.CheckInTime.Equal(start))
	assert.Nil(t, second.Gate)
	assert.Equal(t, 1, f.count(t))

	starts, _ := f.tracker.Counts()
	assert.Equal(t, 2, starts, "re-entry resumes tracking")
}

func TestManualCheckIn_SameAsZoneEnter(t *testing.T) {
	f := newFixture(t)

	res, err := f.manager.Handle(context.Background(), attendance.Event{Kind: attendance.EventManualCheckIn, Source: "cli"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)

	res = f.handle(t, attendance.EventZoneEnter)
	assert.Equal(t, OutcomeAlreadyActive, res.Outcome)
	assert.Equal(t, 1, f.count(t))
}

func TestZoneExit_ClosesRecordAndEnqueuesSync(t *testing.T) {
	f := newFixture(t)
	opened := f.handle(t, attendance.EventZoneEnter)

	f.identity.Set(untrusted)
	f.clock.Advance(8 * time.Hour)
	res := f.handle(t, attendance.EventZoneExit)

	assert.Equal(t, OutcomeClosed, res.Outcome)
	assert.Equal(t, opened.Record.ID, res.Record.ID)
	require.NotNil(t, res.Record.CheckOutTime)
	assert.True(t, res.Record.CheckOutTime.Equal(start.Add(8*time.Hour)))
	assert.True(t, res.Record.Completed())
	assert.Equal(t, []string{SyncReasonSessionClosed}, f.enqueuer.Reasons())
	running, _ := f.tracker.Running()
	assert.False(t, running)
	assert.NotContains(t, f.notes.Titles(), notify.TitleTrustedOutside)
}

func TestZoneExit_TwiceWritesOnce(t *testing.T) {
	f := newFixture(t)
	f.handle(t, attendance.EventZoneEnter)
	f.identity.Set(untrusted)

	f.clock.Advance(time.Hour)
	first := f.handle(t, attendance.EventZoneExit)
	f.clock.Advance(time.Hour)
	second := f.handle(t, attendance.EventZoneExit)

	assert.Equal(t, OutcomeClosed, first.Outcome)
	assert.Equal(t, OutcomeNoActiveSession, second.Outcome)
	assert.Len(t, f.enqueuer.Reasons(), 1)

	rec, err := f.store.ReadRecord(context.Background(), first.Record.ID)
	require.NoError(t, err)
	assert.True(t, rec.CheckOutTime.Equal(start.Add(time.Hour)))
}

func TestZoneExit_NoSessionIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.identity.Set(untrusted)

	res := f.handle(t, attendance.EventZoneExit)

	assert.Equal(t, OutcomeNoActiveSession, res.Outcome)
	assert.Zero(t, f.count(t))
	assert.Empty(t, f.enqueuer.Reasons())
}

func TestZoneExit_TrustedNetworkRaisesAlertButStillCloses(t *testing.T) {
	f := newFixture(t)
	f.handle(t, attendance.EventZoneEnter)

	res := f.handle(t, attendance.EventZoneExit)

	assert.Equal(t, OutcomeClosed, res.Outcome)
	require.NotNil(t, res.Gate)
	assert.True(t, res.Gate.Passed)
	assert.Contains(t, f.notes.Titles(), notify.TitleTrustedOutside)
}

func TestPermissionLost(t *testing.T) {
	f := newFixture(t)
	f.handle(t, attendance.EventZoneEnter)

	res := f.handle(t, attendance.EventPermissionLost)
	assert.Equal(t, OutcomeClosed, res.Outcome)
	assert.Nil(t, res.Gate)
	assert.Equal(t, []string{SyncReasonSessionClosed}, f.enqueuer.Reasons())
	assert.Contains(t, f.notes.Titles(), notify.TitlePermissionLost)

	res = f.handle(t, attendance.EventPermissionLost)
	assert.Equal(t, OutcomeNoActiveSession, res.Outcome)
}

func TestForeignZoneIgnored(t *testing.T) {
	f := newFixture(t)

	res, err := f.manager.Handle(context.Background(), attendance.Event{Kind: attendance.EventZoneEnter, ZoneID: "warehouse"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Zero(t, f.count(t))
}

func TestUnknownEventKind(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Handle(context.Background(), attendance.Event{Kind: attendance.EventKind(99)})
	assert.Error(t, err)
}

func TestEventTimestampWins(t *testing.T) {
	f := newFixture(t)
	at := start.Add(-5 * time.Minute)

	res, err := f.manager.Handle(context.Background(), attendance.Event{Kind: attendance.EventZoneEnter, At: at})
	require.NoError(t, err)
	assert.True(t, res.Record.CheckInTime.Equal(at))
}

func TestTrackerStartFailureDoesNotFailCheckIn(t *testing.T) {
	f := newFixture(t)
	f.tracker.FailStart(errors.New("foreground service refused"))

	res := f.handle(t, attendance.EventZoneEnter)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, 1, f.count(t))
}

func TestConcurrentCheckIns_ExactlyOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := map[Outcome]int{}
	for i := 0; i < workers; i++ {
		kind := attendance.EventZoneEnter
		if i%2 == 0 {
			kind = attendance.EventManualCheckIn
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.manager.Handle(ctx, attendance.Event{Kind: kind, ZoneID: office.ID})
			assert.NoError(t, err)
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeCreated])
	assert.Equal(t, workers-1, outcomes[OutcomeAlreadyActive])
	assert.Equal(t, 1, f.count(t))
}

func TestConcurrentManagers_ShareStoreInvariant(t *testing.T) {
	f := newFixture(t)
	other := New(f.store, gate.New(trusted), f.identity, WithUserID("user-1"), WithZone(office))
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, m := range []*Manager{f.manager, other, f.manager, other} {
		wg.Add(1)
		go func(m *Manager) {
			defer wg.Done()
			_, err := m.Handle(ctx, attendance.Event{Kind: attendance.EventZoneEnter})
			assert.NoError(t, err)
		}(m)
	}
	wg.Wait()

	assert.Equal(t, 1, f.count(t))
}

func TestUsersAreIndependent(t *testing.T) {
	f := newFixture(t)
	user := "user-1"
	m := New(f.store, gate.New(trusted), f.identity, WithUser(func() string { return user }))
	ctx := context.Background()

	res, err := m.Handle(ctx, attendance.Event{Kind: attendance.EventZoneEnter})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)

	user = "user-2"
	res, err = m.Handle(ctx, attendance.Event{Kind: attendance.EventZoneEnter})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "user-2", res.Record.UserID)
	assert.Equal(t, attendance.DefaultZoneLabel, res.Record.ZoneLabel)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "created", OutcomeCreated.String())
	assert.Equal(t, "gate_rejected", OutcomeGateRejected.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
