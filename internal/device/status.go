// Package device adapts a device status file to the location probe and
// network identity interfaces.
//
// The status file is YAML maintained by whatever platform layer owns the
// radios (a companion app, a test rig, an operator):
//
//	location:
//	  lat: 28.720126
//	  lon: 77.0822006
//	  fixed_at: 2025-01-06T09:00:00Z
//	location_permission: granted
//	network:
//	  ssid: Office
//	  bssid: 4a:ce:45:52:b8:5c
//
// A missing file means no fix and no network. A fresh fix is one whose
// fixed_at is not older than the moment it was requested.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/geoattend/internal/attendance"
)

// DefaultPollInterval is how often Fresh re-reads the file.
const DefaultPollInterval = 250 * time.Millisecond

// Permission values.
const (
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// Status is the decoded status file.
type Status struct {
	Location           *Location                   `yaml:"location,omitempty"`
	LocationPermission string                      `yaml:"location_permission,omitempty"`
	NetworkPermission  string                      `yaml:"network_permission,omitempty"`
	Network            *attendance.NetworkIdentity `yaml:"network,omitempty"`
}

// Location is a timestamped fix.
type Location struct {
	Lat     float64   `yaml:"lat"`
	Lon     float64   `yaml:"lon"`
	FixedAt time.Time `yaml:"fixed_at"`
}

// StatusFile reads device state from a YAML file on every call.
type StatusFile struct {
	path         string
	pollInterval time.Duration
	now          func() time.Time
}

// Option configures a StatusFile.
type Option func(*StatusFile)

// WithPollInterval sets how often Fresh re-reads the file.
func WithPollInterval(d time.Duration) Option {
	return func(f *StatusFile) {
		if d > 0 {
			f.pollInterval = d
		}
	}
}

// WithClock overrides time.Now for fix freshness.
func WithClock(now func() time.Time) Option {
	return func(f *StatusFile) { f.now = now }
}

// NewStatusFile returns an adapter for path.
func NewStatusFile(path string, opts ...Option) *StatusFile {
	f := &StatusFile{path: path, pollInterval: DefaultPollInterval, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the status file path.
func (f *StatusFile) Path() string {
	return f.path
}

// Read decodes the status file. A missing file is an empty Status.
func (f *StatusFile) Read() (Status, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read device status: %w", err)
	}

	var st Status
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&st); err != nil && !errors.Is(err, io.EOF) {
		return Status{}, fmt.Errorf("parse device status %s: %w", f.path, err)
	}
	return st, nil
}

// Write replaces the status file.
func (f *StatusFile) Write(st Status) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode device status: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write device status: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("write device status: %w", err)
	}
	return nil
}

// LastKnown returns the most recent fix without waiting.
func (f *StatusFile) LastKnown(context.Context) (attendance.Coordinate, bool, error) {
	st, err := f.Read()
	if err != nil {
		return attendance.Coordinate{}, false, err
	}
	if st.LocationPermission == PermissionDenied {
		return attendance.Coordinate{}, false, attendance.NewError(attendance.ErrCodePermissionDenied, "device.last_known", "location permission denied")
	}
	if st.Location == nil {
		return attendance.Coordinate{}, false, nil
	}
	return attendance.Coordinate{Lat: st.Location.Lat, Lon: st.Location.Lon}, true, nil
}

// Fresh waits for a fix taken at or after the call, until ctx is done.
func (f *StatusFile) Fresh(ctx context.Context) (attendance.Coordinate, error) {
	const op = "device.fresh"
	requested := f.now().Truncate(time.Second)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		st, err := f.Read()
		if err != nil {
			return attendance.Coordinate{}, err
		}
		if st.LocationPermission == PermissionDenied {
			return attendance.Coordinate{}, attendance.NewError(attendance.ErrCodePermissionDenied, op, "location permission denied")
		}
		if loc := st.Location; loc != nil && !loc.FixedAt.Before(requested) {
			return attendance.Coordinate{Lat: loc.Lat, Lon: loc.Lon}, nil
		}

		select {
		case <-ctx.Done():
			return attendance.Coordinate{}, attendance.WrapError(attendance.ErrCodeProbeTimeout, op, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Current returns the associated network. No network is an empty identity.
func (f *StatusFile) Current(context.Context) (attendance.NetworkIdentity, error) {
	st, err := f.Read()
	if err != nil {
		return attendance.NetworkIdentity{}, err
	}
	if st.NetworkPermission == PermissionDenied {
		return attendance.NetworkIdentity{}, attendance.NewError(attendance.ErrCodePermissionDenied, "device.network", "network permission denied")
	}
	if st.Network == nil {
		return attendance.NetworkIdentity{}, nil
	}
	return *st.Network, nil
}
