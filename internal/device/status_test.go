package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/geoattend/internal/attendance"
)

var fixTime = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func writeStatus(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLastKnownAndCurrent(t *testing.T) {
	path := writeStatus(t, `
location:
  lat: 28.720126
  lon: 77.0822006
  fixed_at: 2025-01-06T09:00:00Z
location_permission: granted
network:
  ssid: Office
  bssid: 4a:ce:45:52:b8:5c
`)
	f := NewStatusFile(path)
	ctx := context.Background()

	pos, ok, err := f.LastKnown(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, attendance.Coordinate{Lat: 28.720126, Lon: 77.0822006}, pos)

	id, err := f.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, attendance.NetworkIdentity{SSID: "Office", BSSID: "4a:ce:45:52:b8:5c"}, id)
}

func TestMissingFile(t *testing.T) {
	f := NewStatusFile(filepath.Join(t.TempDir(), "absent.yaml"))
	ctx := context.Background()

	_, ok, err := f.LastKnown(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := f.Current(ctx)
	require.NoError(t, err)
	assert.True(t, id.Empty())
}

func TestPermissionDenied(t *testing.T) {
	f := NewStatusFile(writeStatus(t, "location_permission: denied\nnetwork_permission: denied\n"))
	ctx := context.Background()

	_, _, err := f.LastKnown(ctx)
	assert.True(t, attendance.IsPermissionError(err))

	_, err = f.Fresh(ctx)
	assert.True(t, attendance.IsPermissionError(err))

	_, err = f.Current(ctx)
	assert.True(t, attendance.IsPermissionError(err))
}

func TestUnknownFieldRejected(t *testing.T) {
	f := NewStatusFile(writeStatus(t, "altitude: 12\n"))

	_, _, err := f.LastKnown(context.Background())
	assert.Error(t, err)
}

func TestFresh_StaleFixTimesOut(t *testing.T) {
	f := NewStatusFile(writeStatus(t, `
location:
  lat: 1
  lon: 2
  fixed_at: 2025-01-06T09:00:00Z
`), WithPollInterval(5*time.Millisecond), WithClock(func() time.Time { return fixTime.Add(time.Minute) }))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := f.Fresh(ctx)
	assert.True(t, attendance.IsTimeout(err))
}

func TestFresh_WaitsForNewFix(t *testing.T) {
	path := writeStatus(t, "location_permission: granted\n")
	f := NewStatusFile(path, WithPollInterval(5*time.Millisecond), WithClock(func() time.Time { return fixTime }))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = NewStatusFile(path).Write(Status{
			Location: &Location{Lat: 3, Lon: 4, FixedAt: fixTime.Add(time.Second)},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pos, err := f.Fresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, attendance.Coordinate{Lat: 3, Lon: 4}, pos)
}

func TestWriteRoundTrip(t *testing.T) {
	f := NewStatusFile(filepath.Join(t.TempDir(), "device.yaml"))
	want := Status{
		Location:           &Location{Lat: 1.5, Lon: -2.25, FixedAt: fixTime},
		LocationPermission: PermissionGranted,
		Network:            &attendance.NetworkIdentity{SSID: "Office", BSSID: "aa:bb:cc:dd:ee:ff"},
	}
	require.NoError(t, f.Write(want))

	got, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, want.Network, got.Network)
	assert.Equal(t, want.Location.Lat, got.Location.Lat)
	assert.True(t, want.Location.FixedAt.Equal(got.Location.FixedAt))
}
