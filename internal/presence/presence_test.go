package presence

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/geo"
	"github.com/roach88/geoattend/internal/testutil"
)

var office = attendance.Zone{
	ID:           "office",
	Label:        "HQ",
	Center:       attendance.Coordinate{Lat: 28.720126, Lon: 77.0822006},
	RadiusMeters: 150,
}

type sliceSink struct {
	mu     sync.Mutex
	events []attendance.Event
	closed bool
}

func (s *sliceSink) Enqueue(ev attendance.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *sliceSink) kinds() []attendance.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]attendance.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func TestGeofencer_Transitions(t *testing.T) {
	probe := testutil.NewProbe(geo.Offset(office.Center, 300, 0))
	clock := testutil.NewClock(time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC))
	g := NewGeofencer(probe, WithClock(clock.Now))
	sink := &sliceSink{}
	ctx := context.Background()

	// Unarmed: nothing happens.
	g.Poll(ctx, sink)
	assert.Empty(t, sink.kinds())

	require.NoError(t, g.Rearm(ctx, office))

	// First fix outside: no event.
	g.Poll(ctx, sink)
	assert.Empty(t, sink.kinds())

	probe.Set(testutil.ProbeLastKnown, geo.Offset(office.Center, 50, 0))
	g.Poll(ctx, sink)
	g.Poll(ctx, sink)

	probe.Set(testutil.ProbeLastKnown, geo.Offset(office.Center, 300, 0))
	g.Poll(ctx, sink)

	assert.Equal(t, []attendance.EventKind{attendance.EventZoneEnter, attendance.EventZoneExit}, sink.kinds())
	assert.Equal(t, "office", sink.events[0].ZoneID)
	assert.Equal(t, SourceGeofence, sink.events[0].Source)
	assert.Equal(t, clock.Now(), sink.events[0].At)
}

func TestGeofencer_FirstInsideFixEnters(t *testing.T) {
	probe := testutil.NewProbe(geo.Offset(office.Center, 20, 0))
	g := NewGeofencer(probe)
	sink := &sliceSink{}
	ctx := context.Background()

	require.NoError(t, g.Rearm(ctx, office))
	g.Poll(ctx, sink)

	// Re-arming forgets state, so the device is "entering" again.
	require.NoError(t, g.Rearm(ctx, office))
	g.Poll(ctx, sink)

	assert.Equal(t, []attendance.EventKind{attendance.EventZoneEnter, attendance.EventZoneEnter}, sink.kinds())
}

func TestGeofencer_PermissionLostOnce(t *testing.T) {
	probe := testutil.NewProbe(office.Center)
	g := NewGeofencer(probe)
	sink := &sliceSink{}
	ctx := context.Background()
	require.NoError(t, g.Rearm(ctx, office))

	probe.Set(testutil.ProbeDenied, office.Center)
	g.Poll(ctx, sink)
	g.Poll(ctx, sink)

	assert.Equal(t, []attendance.EventKind{attendance.EventPermissionLost}, sink.kinds())
	assert.Empty(t, sink.events[0].ZoneID)
}

func TestGeofencer_RearmRejectsBadZone(t *testing.T) {
	g := NewGeofencer(testutil.NewProbe(office.Center))

	err := g.Rearm(context.Background(), attendance.Zone{ID: "office"})
	assert.Equal(t, attendance.ErrCodeNoZone, attendance.CodeOf(err))

	err = g.Rearm(context.Background(), attendance.Zone{ID: "x", RadiusMeters: 10, Center: attendance.Coordinate{Lat: 91}})
	assert.Equal(t, attendance.ErrCodeNoZone, attendance.CodeOf(err))

	_, armed := g.Zone()
	assert.False(t, armed)
}

func TestGeofencer_RunStopsOnCancel(t *testing.T) {
	g := NewGeofencer(testutil.NewProbe(office.Center), WithPollInterval(time.Millisecond))
	require.NoError(t, g.Rearm(context.Background(), office))
	sink := &sliceSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, sink) }()

	require.Eventually(t, func() bool { return len(sink.kinds()) == 1 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestLineReader_Parse(t *testing.T) {
	r := NewLineReader("", nil)

	ev, err := r.Parse([]byte(`{"kind":"zone_exit","zone_id":"office","at":"2025-01-06T17:00:00+02:00"}`))
	require.NoError(t, err)
	assert.Equal(t, attendance.EventZoneExit, ev.Kind)
	assert.Equal(t, "office", ev.ZoneID)
	assert.Equal(t, SourceLines, ev.Source)
	assert.Equal(t, time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC), ev.At)

	for _, name := range attendance.EventKindNames() {
		_, err := r.Parse([]byte(`{"kind":"` + name + `"}`))
		assert.NoError(t, err, name)
	}
}

func TestLineReader_ParseRejects(t *testing.T) {
	r := NewLineReader("", nil)

	tests := []struct {
		name string
		line string
	}{
		{"unknown kind", `{"kind":"teleport"}`},
		{"missing kind", `{"zone_id":"office"}`},
		{"unknown field", `{"kind":"zone_enter","floor":3}`},
		{"not json", `zone_enter office`},
		{"zone id too long", `{"kind":"zone_enter","zone_id":"` + strings.Repeat("z", 129) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Parse([]byte(tt.line))
			assert.Error(t, err)
		})
	}
}

func TestLineReader_Forward(t *testing.T) {
	r := NewLineReader("stdin", nil)
	sink := &sliceSink{}
	in := strings.NewReader(`
# morning
{"kind":"zone_enter","zone_id":"office"}
{"kind":"bogus"}

{"kind":"zone_exit","zone_id":"office"}
`)

	st, err := r.Forward(context.Background(), in, sink)
	require.NoError(t, err)
	assert.Equal(t, Stats{Accepted: 2, Rejected: 1}, st)
	assert.Equal(t, []attendance.EventKind{attendance.EventZoneEnter, attendance.EventZoneExit}, sink.kinds())
	assert.Equal(t, "stdin", sink.events[0].Source)
}

func TestLineReader_ForwardClosedSink(t *testing.T) {
	r := NewLineReader("", nil)
	sink := &sliceSink{closed: true}

	_, err := r.Forward(context.Background(), strings.NewReader(`{"kind":"zone_enter"}`), sink)
	assert.Error(t, err)
}
