package mapview

import (
	"context"
	"errors"
	"log/slog"
	"math"
)

const (
	earthRadiusMeters = 6371000
	lookAtTiltDeg     = 60
)

// Location is a point to frame. Alt is an offset above ground elevation.
type Location struct {
	Lat float64
	Lng float64
	Alt float64
}

// Elevator returns ground elevation in metres.
type Elevator interface {
	Elevation(ctx context.Context, lat, lng float64) (float64, error)
}

// View is a camera target computed by LookAt.
type View struct {
	Lat      float64
	Lng      float64
	Altitude float64
	Range    float64
	Tilt     float64
	Heading  float64
}

var errNoLocations = errors.New("look-at: no locations")

// LookAt fits a tilted camera over locations: the target is the center of
// their bounding box and the range keeps every location in view. The ground
// elevation of the first location is used for all of them; a failing or nil
// elevator counts as sea level.
func LookAt(ctx context.Context, locations []Location, elevator Elevator, heading float64, logger *slog.Logger) (View, error) {
	if len(locations) == 0 {
		return View{}, errNoLocations
	}
	var ground float64
	if elevator != nil {
		e, err := elevator.Elevation(ctx, locations[0].Lat, locations[0].Lng)
		if err != nil {
			if logger != nil {
				logger.Warn("elevation lookup failed", "error", err)
			}
		} else {
			ground = e
		}
	}
	return fit(locations, ground, heading), nil
}

func fit(locations []Location, ground, heading float64) View {
	minLat, maxLat := math.Inf(1), math.Inf(-1)
	minLng, maxLng := math.Inf(1), math.Inf(-1)
	var sumAlt float64
	for _, loc := range locations {
		minLat = math.Min(minLat, loc.Lat)
		maxLat = math.Max(maxLat, loc.Lat)
		minLng = math.Min(minLng, loc.Lng)
		maxLng = math.Max(maxLng, loc.Lng)
		sumAlt += ground + loc.Alt
	}
	centerLat := (minLat + maxLat) / 2
	centerLng := (minLng + maxLng) / 2

	var maxAngle float64
	for _, loc := range locations {
		maxAngle = math.Max(maxAngle, haversine(centerLat, centerLng, loc.Lat, loc.Lng))
	}

	horizontal := 2 * maxAngle * earthRadiusMeters
	vertical := horizontal / math.Tan(lookAtTiltDeg*math.Pi/180)
	return View{
		Lat:      centerLat,
		Lng:      centerLng,
		Altitude: sumAlt / float64(len(locations)),
		Range:    math.Sqrt(horizontal*horizontal + vertical*vertical),
		Tilt:     lookAtTiltDeg,
		Heading:  heading,
	}
}

// haversine returns the angular distance between two points in radians.
func haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Pow(math.Sin(dLng/2), 2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
