package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/geoattend/internal/attendance"
)

var office = attendance.Zone{
	ID:           "office",
	Center:       attendance.Coordinate{Lat: 28.720126, Lon: 77.0822006},
	RadiusMeters: 150,
}

func TestDistance_Zero(t *testing.T) {
	assert.InDelta(t, 0, Distance(office.Center, office.Center), 1e-9)
}

func TestDistance_KnownPair(t *testing.T) {
	// Paris to London, roughly 343.5 km.
	paris := attendance.Coordinate{Lat: 48.8566, Lon: 2.3522}
	london := attendance.Coordinate{Lat: 51.5074, Lon: -0.1278}
	assert.InDelta(t, 343_500, Distance(paris, london), 1_000)
}

func TestDistance_Symmetric(t *testing.T) {
	a := attendance.Coordinate{Lat: 10, Lon: 20}
	b := attendance.Coordinate{Lat: -5, Lon: 33}
	assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-6)
}

func TestOffset_RoundTripsDistance(t *testing.T) {
	tests := []struct {
		name        string
		north, east float64
	}{
		{"north 50m", 50, 0},
		{"east 300m", 0, 300},
		{"south-west 120m", -84.85, -84.85},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Offset(office.Center, tt.north, tt.east)
			want := math.Hypot(tt.north, tt.east)
			assert.InDelta(t, want, Distance(office.Center, p), 0.5)
		})
	}
}

func TestContains(t *testing.T) {
	inside, d := Contains(office, Offset(office.Center, 50, 0))
	assert.True(t, inside)
	assert.InDelta(t, 50, d, 0.5)

	inside, d = Contains(office, Offset(office.Center, 300, 0))
	assert.False(t, inside)
	assert.InDelta(t, 300, d, 0.5)

	inside, _ = Contains(office, office.Center)
	assert.True(t, inside)
}

func TestValidCoordinate(t *testing.T) {
	assert.True(t, ValidCoordinate(office.Center))
	assert.False(t, ValidCoordinate(attendance.Coordinate{Lat: 91}))
	assert.False(t, ValidCoordinate(attendance.Coordinate{Lon: -181}))
	assert.False(t, ValidCoordinate(attendance.Coordinate{Lat: math.NaN()}))
}
