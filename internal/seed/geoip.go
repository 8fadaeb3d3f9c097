// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package seed

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/wneessen/locsim/internal/geo"
	lshttp "github.com/wneessen/locsim/internal/http"
)

const (
	GeoIPEndpoint = "https://reallyfreegeoip.org/json/"
	GeoIPTimeout  = time.Second * 5

	geoIPProviderName = "geoip"
	geoIPPrecision    = 4
)

// Accuracy radius in meters of an IP based position, by the most detailed field the
// lookup returned.
const (
	accuracyCountry = 300000
	accuracyRegion  = 100000
	accuracyCity    = 15000
	accuracyZip     = 3000
	accuracyUnknown = 1000000
)

// GeoIPProvider resolves a coarse start position from the public IP address.
type GeoIPProvider struct {
	name     string
	http     *lshttp.Client
	endpoint string
	timeout  time.Duration
}

type geoIPResult struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	RegionCode  string  `json:"region_code,omitempty"`
	City        string  `json:"city,omitempty"`
	ZipCode     string  `json:"zip_code,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// NewGeoIPProvider returns a GeoIPProvider that queries the given endpoint. An empty
// endpoint selects GeoIPEndpoint.
func NewGeoIPProvider(client *lshttp.Client, endpoint string) *GeoIPProvider {
	if endpoint == "" {
		endpoint = GeoIPEndpoint
	}
	return &GeoIPProvider{
		name:     geoIPProviderName,
		http:     client,
		endpoint: endpoint,
		timeout:  GeoIPTimeout,
	}
}

// Name returns the name of the GeoIPProvider instance.
func (p *GeoIPProvider) Name() string {
	return p.name
}

// Locate looks up the position of the public IP address.
func (p *GeoIPProvider) Locate(ctx context.Context) (Result, error) {
	result := new(geoIPResult)
	status, err := p.http.GetWithTimeout(ctx, p.endpoint, result, nil, nil, p.timeout)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	if status != http.StatusOK {
		return Result{}, fmt.Errorf("failed to get geolocation data from API: unexpected status code %d", status)
	}
	if result.Latitude == 0 && result.Longitude == 0 {
		return Result{}, ErrNoCoordinates
	}

	return Result{
		Position: geo.WGS84{
			Lon: truncate(result.Longitude, geoIPPrecision),
			Lat: truncate(result.Latitude, geoIPPrecision),
		},
		AccuracyMeters: result.accuracy(),
	}, nil
}

func (r *geoIPResult) accuracy() float64 {
	switch {
	case r.ZipCode != "":
		return accuracyZip
	case r.City != "":
		return accuracyCity
	case r.RegionCode != "":
		return accuracyRegion
	case r.CountryCode != "":
		return accuracyCountry
	default:
		return accuracyUnknown
	}
}

func truncate(x float64, precision int) float64 {
	pow := math.Pow(10, float64(precision))
	return math.Trunc(x*pow) / pow
}
