package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/geoattend/internal/attendance"
	"github.com/roach88/geoattend/internal/geo"
)

// DefaultPollInterval is how often the Geofencer samples the probe.
const DefaultPollInterval = 5 * time.Second

// SourceGeofence names events emitted by the Geofencer.
const SourceGeofence = "geofence"

// Probe reports the last known device location.
type Probe interface {
	LastKnown(ctx context.Context) (attendance.Coordinate, bool, error)
}

type position int

const (
	positionUnknown position = iota
	positionInside
	positionOutside
)

// Geofencer watches one zone.
//
// Thread-safety: Rearm and Poll may be called from any goroutine.
type Geofencer struct {
	probe    Probe
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	zone     attendance.Zone
	armed    bool
	state    position
	lostSent bool
}

// GeofencerOption configures a Geofencer.
type GeofencerOption func(*Geofencer)

// WithPollInterval sets the sampling interval.
func WithPollInterval(d time.Duration) GeofencerOption {
	return func(g *Geofencer) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) GeofencerOption {
	return func(g *Geofencer) { g.logger = l }
}

// WithClock overrides time.Now for event timestamps.
func WithClock(now func() time.Time) GeofencerOption {
	return func(g *Geofencer) { g.now = now }
}

// NewGeofencer creates an unarmed Geofencer.
func NewGeofencer(p Probe, opts ...GeofencerOption) *Geofencer {
	g := &Geofencer{
		probe:    p,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "geofence")
	return g
}

// Rearm starts monitoring z, forgetting the previous boundary state. The
// next inside fix emits a ZoneEnter.
func (g *Geofencer) Rearm(_ context.Context, z attendance.Zone) error {
	if !z.Armable() {
		return attendance.NewError(attendance.ErrCodeNoZone, "geofence.rearm", "zone has no id or radius")
	}
	if !geo.ValidCoordinate(z.Center) {
		return attendance.NewError(attendance.ErrCodeNoZone, "geofence.rearm", "zone center out of range: "+z.Center.String())
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.zone = z
	g.armed = true
	g.state = positionUnknown
	g.logger.Info("geofence armed", "zone_id", z.ID, "center", z.Center.String(), "radius_m", z.RadiusMeters)
	return nil
}

// Zone returns the armed zone.
func (g *Geofencer) Zone() (attendance.Zone, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.zone, g.armed
}

// Run polls until ctx is cancelled.
func (g *Geofencer) Run(ctx context.Context, sink Sink) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		g.Poll(ctx, sink)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll takes one sample and emits at most one event.
func (g *Geofencer) Poll(ctx context.Context, sink Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.armed {
		return
	}

	pos, ok, err := g.probe.LastKnown(ctx)
	if err != nil {
		if attendance.IsPermissionError(err) {
			if !g.lostSent {
				g.lostSent = true
				g.emit(sink, attendance.EventPermissionLost)
			}
			return
		}
		g.logger.Warn("geofence sample failed", "error", err)
		return
	}
	g.lostSent = false
	if !ok {
		return
	}

	inside, distance := geo.Contains(g.zone, pos)
	next := positionOutside
	if inside {
		next = positionInside
	}
	prev := g.state
	g.state = next

	switch {
	case prev == next:
	case next == positionInside:
		g.logger.Debug("zone boundary crossed", "inside", true, "distance_m", distance)
		g.emit(sink, attendance.EventZoneEnter)
	case prev == positionInside:
		g.logger.Debug("zone boundary crossed", "inside", false, "distance_m", distance)
		g.emit(sink, attendance.EventZoneExit)
	}
}

// emit is called with g.mu held.
func (g *Geofencer) emit(sink Sink, kind attendance.EventKind) {
	ev := attendance.Event{Kind: kind, Source: SourceGeofence, At: g.now()}
	if kind != attendance.EventPermissionLost {
		ev.ZoneID = g.zone.ID
	}
	if !sink.Enqueue(ev) {
		g.logger.Warn("event dropped: sink closed", "event", kind.String())
	}
}
