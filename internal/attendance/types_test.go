package attendance

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_DerivedState(t *testing.T) {
	r := Record{CheckInTime: time.Now()}
	assert.True(t, r.Active())
	assert.False(t, r.Completed())
	assert.False(t, r.Eligible())
	assert.Zero(t, r.Duration())

	out := r.CheckInTime.Add(time.Hour)
	r.CheckOutTime = &out
	assert.True(t, r.Completed())
	assert.True(t, r.Eligible())
	assert.Equal(t, time.Hour, r.Duration())

	r.Synced = true
	assert.False(t, r.Eligible())
}

func TestZone_Armable(t *testing.T) {
	assert.False(t, Zone{}.Armable())
	assert.False(t, Zone{ID: "office"}.Armable())
	assert.False(t, Zone{RadiusMeters: 150}.Armable())
	assert.True(t, Zone{ID: "office", RadiusMeters: 150}.Armable())
}

func TestZone_DisplayLabel(t *testing.T) {
	assert.Equal(t, DefaultZoneLabel, Zone{}.DisplayLabel())
	assert.Equal(t, "Annex", Zone{Label: "Annex"}.DisplayLabel())
}

func TestParseEventKind_RoundTrip(t *testing.T) {
	for _, name := range EventKindNames() {
		k, err := ParseEventKind(name)
		require.NoError(t, err)
		assert.Equal(t, name, k.String())
	}

	_, err := ParseEventKind("teleport")
	assert.Error(t, err)
}

func TestError_WrappedCodes(t *testing.T) {
	base := NewError(ErrCodePermissionDenied, "probe", "location permission revoked")
	wrapped := fmt.Errorf("recovery: %w", base)

	assert.True(t, IsPermissionError(wrapped))
	assert.False(t, IsTimeout(wrapped))
	assert.Contains(t, wrapped.Error(), "PERMISSION_DENIED")

	timeout := WrapError(ErrCodeProbeTimeout, "fresh fix", errors.New("deadline exceeded"))
	assert.True(t, IsTimeout(timeout))
	assert.Equal(t, "fresh fix: PROBE_TIMEOUT: deadline exceeded", timeout.Error())

	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
}
