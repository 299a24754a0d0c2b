// Package presence produces zone enter/exit events.
//
// The Geofencer is a software geofence over a location probe: it polls the
// last-known fix and emits an event whenever the device crosses the zone
// boundary. LineReader accepts events from an external source (a platform
// geofencing service, a script, a human at a terminal) as JSON lines.
//
// Both deliver into a Sink, normally the session Dispatcher.
package presence

import "github.com/roach88/geoattend/internal/attendance"

// Sink receives presence events. Enqueue must not block.
type Sink interface {
	Enqueue(ev attendance.Event) bool
}
