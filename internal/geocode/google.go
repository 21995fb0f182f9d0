// Package geocode resolves free-text addresses through Google's Geocoding
// API. It backs up Georef when the public directory has no match.
package geocode

import (
	"context"
	"strings"

	"googlemaps.github.io/maps"

	apperrors "delivery-geolocation/pkg/errors"
	"delivery-geolocation/pkg/geography"
)

// Candidate is one geocoded match.
type Candidate struct {
	FormattedAddress string
	Coordinates      geography.Coordinates
	PlaceID          string
	Partial          bool
}

type GoogleGeocoder struct {
	client  *maps.Client
	country string
}

type Option = maps.ClientOption

// NewGoogleGeocoder restricts lookups to Argentina. Extra options are passed
// to the maps client (e.g. maps.WithBaseURL in tests).
func NewGoogleGeocoder(apiKey string, opts ...Option) (*GoogleGeocoder, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, apperrors.NewValidation("geocode.NewGoogleGeocoder", "invalid google maps configuration", err)
	}
	return &GoogleGeocoder{client: client, country: "AR"}, nil
}

// Geocode returns candidates for address, optionally scoped to a province.
// No match is an empty slice, not an error.
func (g *GoogleGeocoder) Geocode(ctx context.Context, address, province string) ([]Candidate, error) {
	req := &maps.GeocodingRequest{
		Address:    address,
		Region:     strings.ToLower(g.country),
		Language:   "es",
		Components: map[maps.Component]string{maps.ComponentCountry: g.country},
	}
	if province != "" {
		req.Components[maps.ComponentAdministrativeArea] = province
	}

	results, err := g.client.Geocode(ctx, req)
	if err != nil {
		return nil, apperrors.NewExternal("geocode.Geocode", "google", "geocoding failed", err)
	}

	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		out = append(out, Candidate{
			FormattedAddress: r.FormattedAddress,
			Coordinates:      geography.Coordinates{Lat: r.Geometry.Location.Lat, Lon: r.Geometry.Location.Lng},
			PlaceID:          r.PlaceID,
			Partial:          r.PartialMatch,
		})
	}
	return out, nil
}
