package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/vango-go/vai-maps-live/pkg/core/types"
	"github.com/vango-go/vai-maps-live/pkg/grounding"
	"github.com/vango-go/vai-maps-live/pkg/mapview"
)

const (
	MapsGrounding    = "mapsGrounding"
	DisplayCityOnMap = "displayCityOnMap"
)

const mapsGroundingDescription = `
    Call this function to get information about a place, restaurant, or activity from the maps
    grounding agent.

    Args:
        query: a string describing the search parameters. The prompt needs to
        include a location and preferences.

    Returns:
        A response from the maps grounding agent, which will include a
        conversational description and supporting metadata.
    `

// City camera used by displayCityOnMap.
const (
	cityAltitude = 5000
	cityRange    = 3000
	cityTilt     = 10
	cityFlightMS = 3000
)

// Holder keeps a grounded response for the next agent turn.
type Holder interface {
	Hold(resp *types.GroundedResponse)
}

// Itinerary implements the itinerary-planner tools against the map surface
// and the grounded-search client.
type Itinerary struct {
	Surface      mapview.Surface
	Grounder     grounding.Client
	Holder       Holder
	EnableWidget bool

	// OnGrounded, when set, receives every successful grounded response, e.g.
	// to frame the mentioned places on the map. It must not block.
	OnGrounded func(resp *types.GroundedResponse)
}

// Tools returns both tools, enabled, with INTERRUPT scheduling.
func (it *Itinerary) Tools() []Tool {
	return []Tool{
		{
			Declaration: types.FunctionDeclaration{
				Name:        MapsGrounding,
				Description: mapsGroundingDescription,
				Parameters: &types.Schema{
					Type:       types.SchemaObject,
					Properties: map[string]*types.Schema{"query": {Type: types.SchemaString}},
					Required:   []string{"query"},
				},
			},
			Scheduling: types.SchedulingInterrupt,
			Enabled:    true,
			Handler:    it.MapsGrounding,
		},
		{
			Declaration: types.FunctionDeclaration{
				Name:        DisplayCityOnMap,
				Description: "Call this function to display a city on the map using its latitude and longitude.",
				Parameters: &types.Schema{
					Type: types.SchemaObject,
					Properties: map[string]*types.Schema{
						"lat": {Type: types.SchemaNumber},
						"lng": {Type: types.SchemaNumber},
					},
					Required: []string{"lat", "lng"},
				},
			},
			Scheduling: types.SchedulingInterrupt,
			Enabled:    true,
			Handler:    it.DisplayCityOnMap,
		},
	}
}

// DisplayCityOnMap flies the camera to the city at lat/lng.
func (it *Itinerary) DisplayCityOnMap(ctx context.Context, args map[string]any) (any, error) {
	lat, err := numberArg(args, "lat")
	if err != nil {
		return nil, err
	}
	lng, err := numberArg(args, "lng")
	if err != nil {
		return nil, err
	}
	if it.Surface == nil {
		return nil, errors.New("map surface is not available")
	}
	err = it.Surface.FlyCameraTo(ctx, mapview.FlyToOptions{
		EndCamera: mapview.Camera{
			Center: mapview.LatLngAltitude{Lat: lat, Lng: lng, Altitude: cityAltitude},
			Range:  cityRange,
			Tilt:   cityTilt,
		},
		DurationMillis: cityFlightMS,
	})
	if err != nil {
		return nil, fmt.Errorf("fly camera: %w", err)
	}
	return fmt.Sprintf("Displayed city at latitude %s and longitude %s.", formatNumber(lat), formatNumber(lng)), nil
}

// MapsGrounding asks the grounded-search service and returns its full response.
func (it *Itinerary) MapsGrounding(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query must be a non-empty string")
	}
	if it.Grounder == nil {
		return nil, errors.New("grounding client is not configured")
	}
	resp, err := it.Grounder.Ground(ctx, grounding.Request{Prompt: query, EnableWidget: it.EnableWidget})
	if err != nil {
		return nil, err
	}
	if it.Holder != nil {
		it.Holder.Hold(resp)
	}
	if it.OnGrounded != nil {
		it.OnGrounded(resp)
	}
	return resp, nil
}

func numberArg(args map[string]any, name string) (float64, error) {
	switch v := args[name].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("missing required argument %q", name)
	default:
		return 0, fmt.Errorf("argument %q must be a number, got %T", name, v)
	}
}

// formatNumber prints the shortest decimal that round-trips.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
