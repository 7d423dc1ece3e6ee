package mapview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
)

// Place is a resolved place with a display name and position.
type Place struct {
	ID       string
	Name     string
	Location LatLng
}

// PlaceResolver looks up a place by id (without the "places/" prefix).
type PlaceResolver interface {
	ResolvePlace(ctx context.Context, id string) (Place, error)
}

// MentionedChunks keeps the maps chunks whose title appears in text.
func MentionedChunks(text string, chunks []types.GroundingChunk) []types.GroundingChunk {
	if text == "" {
		return nil
	}
	var out []types.GroundingChunk
	for _, c := range chunks {
		if c.Maps == nil || c.Maps.Title == "" || c.PlaceID() == "" {
			continue
		}
		if strings.Contains(text, c.Maps.Title) {
			out = append(out, c)
		}
	}
	return out
}

// Framer shows the places of a grounded answer: markers for every resolved
// place and a camera flight that frames all of them.
type Framer struct {
	Surface  Surface
	Resolver PlaceResolver
	Elevator Elevator
	Logger   *slog.Logger
}

const (
	frameDurationMillis = 5000
	frameRangePadding   = 1000
)

// Frame resolves the places mentioned in resp and flies the camera over them.
// Places that fail to resolve are skipped. It returns the places shown.
func (f *Framer) Frame(ctx context.Context, resp *types.GroundedResponse) ([]Place, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if f.Surface == nil || f.Resolver == nil || resp == nil {
		return nil, nil
	}
	chunks := MentionedChunks(resp.Text(), resp.Chunks())
	if len(chunks) == 0 {
		return nil, nil
	}

	resolved := make([]*Place, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range chunks {
		g.Go(func() error {
			p, err := f.Resolver.ResolvePlace(gctx, c.PlaceID())
			if err != nil {
				logger.Warn("place lookup failed", "place_id", c.PlaceID(), "title", c.Maps.Title, "error", err)
				return nil
			}
			resolved[i] = &p
			return nil
		})
	}
	_ = g.Wait()

	var places []Place
	for _, p := range resolved {
		if p != nil {
			places = append(places, *p)
		}
	}

	if ms, ok := f.Surface.(MarkerSurface); ok {
		markers := make([]Marker, 0, len(places))
		for _, p := range places {
			markers = append(markers, Marker{
				Position: LatLngAltitude{Lat: p.Location.Lat, Lng: p.Location.Lng, Altitude: 1},
				Label:    p.Name,
			})
		}
		if err := ms.SetMarkers(ctx, markers); err != nil {
			return places, fmt.Errorf("set markers: %w", err)
		}
	}
	if len(places) == 0 {
		logger.Info("no places found, skipping camera flight")
		return nil, nil
	}

	locations := make([]Location, 0, len(places))
	for _, p := range places {
		locations = append(locations, Location{Lat: p.Location.Lat, Lng: p.Location.Lng})
	}
	view, err := LookAt(ctx, locations, f.Elevator, 0, logger)
	if err != nil {
		return places, err
	}
	err = f.Surface.FlyCameraTo(ctx, FlyToOptions{
		DurationMillis: frameDurationMillis,
		EndCamera: Camera{
			Center: LatLngAltitude{Lat: view.Lat, Lng: view.Lng, Altitude: view.Altitude},
			Range:  view.Range + frameRangePadding,
			Tilt:   view.Tilt,
		},
	})
	if err != nil {
		return places, fmt.Errorf("fly camera: %w", err)
	}
	return places, nil
}
