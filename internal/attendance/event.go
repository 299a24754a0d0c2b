package attendance

import (
	"fmt"
	"time"
)

// EventKind identifies the input that drives a session transition.
type EventKind int

const (
	// EventZoneEnter is delivered when the device enters the monitored zone.
	EventZoneEnter EventKind = iota + 1
	// EventZoneExit is delivered when the device leaves the monitored zone.
	EventZoneExit
	// EventManualCheckIn is a user-initiated check-in.
	EventManualCheckIn
	// EventPermissionLost is raised when location or network permission is revoked.
	EventPermissionLost
)

var eventKindNames = map[EventKind]string{
	EventZoneEnter:      "zone_enter",
	EventZoneExit:       "zone_exit",
	EventManualCheckIn:  "manual_check_in",
	EventPermissionLost: "permission_lost",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event_kind(%d)", int(k))
}

// ParseEventKind converts the wire name of an event kind back to its value.
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range eventKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// EventKindNames returns the wire names of all event kinds.
func EventKindNames() []string {
	return []string{
		EventZoneEnter.String(),
		EventZoneExit.String(),
		EventManualCheckIn.String(),
		EventPermissionLost.String(),
	}
}

// Event is a single input to the session state machine.
//
// Source names the producer (geofence, manual, recovery, stdin...) and is
// used only for logging. ZoneID may be empty for manual events.
type Event struct {
	Kind   EventKind
	ZoneID string
	Source string
	At     time.Time
}

func (e Event) String() string {
	if e.ZoneID == "" {
		return fmt.Sprintf("%s from %s", e.Kind, e.Source)
	}
	return fmt.Sprintf("%s(%s) from %s", e.Kind, e.ZoneID, e.Source)
}
