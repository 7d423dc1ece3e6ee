package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-maps-live/pkg/mapview"
)

func newLookAtCmd(root *rootOptions) *cobra.Command {
	var heading float64
	cmd := &cobra.Command{
		Use:   "lookat <lat,lng[,alt]>...",
		Short: "Compute the camera that frames a set of locations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			locations := make([]mapview.Location, 0, len(args))
			for _, arg := range args {
				loc, err := parseLocation(arg)
				if err != nil {
					return err
				}
				locations = append(locations, loc)
			}
			var elevator mapview.Elevator
			if cfg.MapsAPIKey != "" {
				elevator = &mapview.ElevationAPI{APIKey: cfg.MapsAPIKey}
			}
			view, err := mapview.LookAt(cmd.Context(), locations, elevator, heading, logger)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	}
	cmd.Flags().Float64Var(&heading, "heading", 0, "camera heading in degrees")
	return cmd
}

// parseLocation reads "lat,lng" or "lat,lng,alt".
func parseLocation(s string) (mapview.Location, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 && len(parts) != 3 {
		return mapview.Location{}, fmt.Errorf("location %q: want lat,lng[,alt]", s)
	}
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return mapview.Location{}, fmt.Errorf("location %q: %w", s, err)
		}
		vals[i] = v
	}
	loc := mapview.Location{Lat: vals[0], Lng: vals[1]}
	if len(vals) == 3 {
		loc.Alt = vals[2]
	}
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return mapview.Location{}, fmt.Errorf("location %q: out of range", s)
	}
	return loc, nil
}
