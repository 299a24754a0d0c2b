package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/geoattend/internal/attendance"
)

type staticIdentity struct {
	id  attendance.NetworkIdentity
	err error
}

func (s staticIdentity) Current(context.Context) (attendance.NetworkIdentity, error) {
	return s.id, s.err
}

var officeWifi = attendance.NetworkIdentity{SSID: "Redmi 12 5G", BSSID: "4a:ce:45:52:b8:5c"}

func TestAllows(t *testing.T) {
	g := New(officeWifi)

	tests := []struct {
		name string
		id   attendance.NetworkIdentity
		want bool
	}{
		{"exact match", officeWifi, true},
		{"quoted ssid", attendance.NetworkIdentity{SSID: `"Redmi 12 5G"`, BSSID: "4a:ce:45:52:b8:5c"}, true},
		{"uppercase bssid", attendance.NetworkIdentity{SSID: "Redmi 12 5G", BSSID: "4A:CE:45:52:B8:5C"}, true},
		{"dashed bssid", attendance.NetworkIdentity{SSID: "Redmi 12 5G", BSSID: "4a-ce-45-52-b8-5c"}, true},
		{"ssid matches bssid differs", attendance.NetworkIdentity{SSID: "Redmi 12 5G", BSSID: "00:11:22:33:44:55"}, false},
		{"bssid matches ssid differs", attendance.NetworkIdentity{SSID: "Guest", BSSID: "4a:ce:45:52:b8:5c"}, false},
		{"ssid case differs", attendance.NetworkIdentity{SSID: "redmi 12 5g", BSSID: "4a:ce:45:52:b8:5c"}, false},
		{"empty", attendance.NetworkIdentity{}, false},
		{"ssid only", attendance.NetworkIdentity{SSID: "Redmi 12 5G"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Allows(tt.id))
		})
	}
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	g := New(officeWifi, attendance.NetworkIdentity{SSID: "HQ-5G", BSSID: "aa:bb:cc:dd:ee:ff"})

	d := g.Check(ctx, staticIdentity{id: attendance.NetworkIdentity{SSID: "HQ-5G", BSSID: "AA:BB:CC:DD:EE:FF"}})
	assert.True(t, d.Passed)
	assert.Equal(t, ReasonTrusted, d.Reason)

	d = g.Check(ctx, staticIdentity{id: attendance.NetworkIdentity{SSID: "Cafe", BSSID: "01:02:03:04:05:06"}})
	assert.False(t, d.Passed)
	assert.Equal(t, ReasonUntrusted, d.Reason)

	d = g.Check(ctx, staticIdentity{})
	assert.False(t, d.Passed)
	assert.Equal(t, ReasonNotAssociated, d.Reason)

	d = g.Check(ctx, staticIdentity{err: errors.New("wifi off")})
	assert.False(t, d.Passed)
	assert.Equal(t, ReasonIdentityFailed, d.Reason)
}

func TestCheck_EmptyAllowListFailsClosed(t *testing.T) {
	g := New()

	d := g.Check(context.Background(), staticIdentity{id: officeWifi})
	assert.False(t, d.Passed)
	assert.Equal(t, ReasonNoTrustedList, d.Reason)
	assert.Empty(t, g.Trusted())
}

func TestNew_SkipsEmptyEntries(t *testing.T) {
	g := New(attendance.NetworkIdentity{}, officeWifi)
	assert.Len(t, g.Trusted(), 1)
}
