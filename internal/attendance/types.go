package attendance

import (
	"fmt"
	"time"
)

// DefaultZoneLabel is used when neither the caller nor the configuration
// names the zone.
const DefaultZoneLabel = "Headquarters"

// Record is one attendance session.
//
// Empty strings stand in for absent optional values: RemoteID == "" means the
// remote store has not accepted the record yet, UserID == "" means the record
// could not be attributed when it was created. SyncKey is assigned once when
// the record is created and is unique across databases, unlike ID.
type Record struct {
	ID           int64
	SyncKey      string
	ZoneLabel    string
	CheckInTime  time.Time
	CheckOutTime *time.Time
	Synced       bool
	RemoteID     string
	UserID       string
}

// Completed reports whether the session has been closed.
func (r Record) Completed() bool {
	return r.CheckOutTime != nil
}

// Active reports whether the session is still open.
func (r Record) Active() bool {
	return r.CheckOutTime == nil
}

// Eligible reports whether the record should be pushed to the remote store.
func (r Record) Eligible() bool {
	return r.Completed() && !r.Synced
}

// Duration returns the session length, or zero for an active session.
func (r Record) Duration() time.Duration {
	if r.CheckOutTime == nil {
		return 0
	}
	return r.CheckOutTime.Sub(r.CheckInTime)
}

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Lat, c.Lon)
}

// Zone is a circular monitored region.
type Zone struct {
	ID           string
	Label        string
	Center       Coordinate
	RadiusMeters float64
}

// Armable reports whether the zone carries enough information to re-arm
// monitoring. A zone with no id or a zero radius was never saved.
func (z Zone) Armable() bool {
	return z.ID != "" && z.RadiusMeters > 0
}

// DisplayLabel returns the label, falling back to DefaultZoneLabel.
func (z Zone) DisplayLabel() string {
	if z.Label == "" {
		return DefaultZoneLabel
	}
	return z.Label
}

// NetworkIdentity identifies the network the device is associated with.
type NetworkIdentity struct {
	SSID  string `json:"ssid" yaml:"ssid"`
	BSSID string `json:"bssid" yaml:"bssid"`
}

// Empty reports whether the device is not associated with any network.
func (n NetworkIdentity) Empty() bool {
	return n.SSID == "" && n.BSSID == ""
}
