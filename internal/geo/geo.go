// Package geo computes geodesic distances between coordinates and decides
// zone containment.
//
// Distances use the haversine formula on a sphere with the IUGG mean Earth
// radius. For zone radii of tens to hundreds of meters the error against an
// ellipsoidal model is well under a meter.
package geo

import (
	"math"

	"github.com/roach88/geoattend/internal/attendance"
)

// EarthRadiusMeters is the IUGG mean Earth radius.
const EarthRadiusMeters = 6371008.8

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Distance returns the great-circle distance in meters between a and b.
func Distance(a, b attendance.Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Clamp against rounding just above 1 for antipodal points.
	h = math.Min(1, h)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Contains reports whether c lies inside the zone (boundary inclusive) and
// returns the distance to the zone center.
func Contains(z attendance.Zone, c attendance.Coordinate) (bool, float64) {
	d := Distance(z.Center, c)
	return d <= z.RadiusMeters, d
}

// Offset returns the coordinate reached by moving north and east (meters,
// negative for south/west) from c along the local tangent plane.
func Offset(c attendance.Coordinate, northMeters, eastMeters float64) attendance.Coordinate {
	lat := c.Lat + toDegrees(northMeters/EarthRadiusMeters)
	lon := c.Lon + toDegrees(eastMeters/(EarthRadiusMeters*math.Cos(toRadians(c.Lat))))
	return attendance.Coordinate{Lat: lat, Lon: lon}
}

// ValidCoordinate reports whether c is within the WGS84 range.
func ValidCoordinate(c attendance.Coordinate) bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lon) &&
		c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}
