package mapview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	DefaultPlacesBaseURL    = "https://places.googleapis.com/v1"
	DefaultElevationBaseURL = "https://maps.googleapis.com/maps/api/elevation/json"
)

// PlacesAPI resolves place ids through the Places API.
type PlacesAPI struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

type placeResponse struct {
	ID          string `json:"id"`
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
}

func (p *PlacesAPI) ResolvePlace(ctx context.Context, id string) (Place, error) {
	id = strings.TrimPrefix(strings.TrimSpace(id), "places/")
	if id == "" {
		return Place{}, errors.New("empty place id")
	}
	base := p.BaseURL
	if base == "" {
		base = DefaultPlacesBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/places/"+url.PathEscape(id), nil)
	if err != nil {
		return Place{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Goog-Api-Key", p.APIKey)
	req.Header.Set("X-Goog-FieldMask", "id,displayName,location")

	var out placeResponse
	if err := doJSON(p.HTTPClient, req, &out); err != nil {
		return Place{}, err
	}
	if out.Location == nil {
		return Place{}, fmt.Errorf("place %s has no location", id)
	}
	return Place{
		ID:       id,
		Name:     out.DisplayName.Text,
		Location: LatLng{Lat: out.Location.Latitude, Lng: out.Location.Longitude},
	}, nil
}

// ElevationAPI looks up ground elevation through the Elevation API.
type ElevationAPI struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

type elevationResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error_message"`
	Results []struct {
		Elevation float64 `json:"elevation"`
	} `json:"results"`
}

func (e *ElevationAPI) Elevation(ctx context.Context, lat, lng float64) (float64, error) {
	base := e.BaseURL
	if base == "" {
		base = DefaultElevationBaseURL
	}
	q := url.Values{}
	q.Set("locations", fmt.Sprintf("%g,%g", lat, lng))
	q.Set("key", e.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	var out elevationResponse
	if err := doJSON(e.HTTPClient, req, &out); err != nil {
		return 0, err
	}
	if out.Status != "OK" || len(out.Results) == 0 {
		return 0, fmt.Errorf("elevation: status %s: %s", out.Status, out.Error)
	}
	return out.Results[0].Elevation, nil
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
