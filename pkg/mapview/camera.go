// Package mapview is the client side of the 3D map surface: camera commands,
// the look-at camera fit, and framing of grounded places.
package mapview

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type LatLngAltitude struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Altitude float64 `json:"altitude"`
}

// Camera is a 3D map camera pose. Range is metres from the center; angles are degrees.
type Camera struct {
	Center  LatLngAltitude `json:"center"`
	Range   float64        `json:"range"`
	Tilt    float64        `json:"tilt"`
	Heading float64        `json:"heading"`
	Roll    float64        `json:"roll"`
}

// FlyToOptions animates the camera to EndCamera.
type FlyToOptions struct {
	EndCamera      Camera `json:"endCamera"`
	DurationMillis int    `json:"durationMillis"`
}

// InitialCamera is the view before any tool moved the camera.
var InitialCamera = Camera{
	Center: LatLngAltitude{Lat: 41.8739368, Lng: -87.6372648, Altitude: 1000},
	Range:  3000,
	Tilt:   30,
}

// Marker is a labelled pin on the map.
type Marker struct {
	Position LatLngAltitude `json:"position"`
	Label    string         `json:"label"`
}

// Surface accepts camera commands.
type Surface interface {
	FlyCameraTo(ctx context.Context, opts FlyToOptions) error
}

// MarkerSurface is a Surface that can also show markers.
type MarkerSurface interface {
	Surface
	SetMarkers(ctx context.Context, markers []Marker) error
}

// LoggingSurface is a headless surface: it tracks the camera and markers and
// logs every command.
type LoggingSurface struct {
	logger *slog.Logger

	mu      sync.Mutex
	camera  Camera
	flights []FlyToOptions
	markers []Marker
	watch   []func(Camera)
}

func NewLoggingSurface(logger *slog.Logger) *LoggingSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingSurface{logger: logger.With("component", "map"), camera: InitialCamera}
}

func (s *LoggingSurface) FlyCameraTo(ctx context.Context, opts FlyToOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.camera = opts.EndCamera
	s.flights = append(s.flights, opts)
	watch := slices.Clone(s.watch)
	s.mu.Unlock()

	c := opts.EndCamera
	s.logger.Info("camera flight",
		"lat", c.Center.Lat, "lng", c.Center.Lng, "altitude", c.Center.Altitude,
		"range", c.Range, "tilt", c.Tilt, "heading", c.Heading, "duration_ms", opts.DurationMillis)
	for _, fn := range watch {
		fn(c)
	}
	return nil
}

func (s *LoggingSurface) SetMarkers(ctx context.Context, markers []Marker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.markers = append([]Marker(nil), markers...)
	s.mu.Unlock()
	for _, m := range markers {
		s.logger.Info("marker", "label", m.Label, "lat", m.Position.Lat, "lng", m.Position.Lng)
	}
	return nil
}

// OnCameraChange registers fn for every completed camera command.
func (s *LoggingSurface) OnCameraChange(fn func(Camera)) {
	s.mu.Lock()
	s.watch = append(s.watch, fn)
	s.mu.Unlock()
}

// Camera returns the current pose.
func (s *LoggingSurface) Camera() Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

// Flights returns every command received so far.
func (s *LoggingSurface) Flights() []FlyToOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FlyToOptions(nil), s.flights...)
}

func (s *LoggingSurface) Markers() []Marker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Marker(nil), s.markers...)
}
