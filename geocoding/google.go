// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/guntherweissenbaeck/fbfregion/spatial"
	"github.com/guntherweissenbaeck/fbfregion/utils/httputils"
)

// DefaultGoogleMapsEndpoint is the Google Maps Geocoding API.
const DefaultGoogleMapsEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// googleComponentKeys maps Google address component types onto the
// Nominatim-style keys understood by Address.
var googleComponentKeys = map[string]string{
	"locality":                    "city",
	"postal_town":                 "town",
	"sublocality":                 "village",
	"administrative_area_level_3": "county",
	"administrative_area_level_2": "district",
	"administrative_area_level_1": "state",
	"country":                     "country",
	"postal_code":                 "postcode",
}

// GoogleMapsClient uses the Google Maps Geocoding API.
type GoogleMapsClient struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	throttle   *httputils.Throttle
}

// NewGoogleMapsClient creates a new Google Maps geocoding client.
func NewGoogleMapsClient(apiKey string, options *ClientOptions) *GoogleMapsClient {
	opts := options.withDefaults(DefaultGoogleMapsEndpoint)

	return &GoogleMapsClient{
		apiKey:     apiKey,
		endpoint:   opts.Endpoint,
		httpClient: newHTTPClient(opts),
		throttle:   httputils.NewThrottle(opts.RequestsPerSecond),
	}
}

type googleMapsResponse struct {
	Results []struct {
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		FormattedAddress string `json:"formatted_address"`
	} `json:"results"`
	Status       string `json:"status"` // OK, ZERO_RESULTS, OVER_QUERY_LIMIT, ...
	ErrorMessage string `json:"error_message"`
}

// Search geocodes query, biased to Germany, returning at most limit candidates.
func (g *GoogleMapsClient) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	params := url.Values{}
	params.Set("address", query)
	params.Set("key", g.apiKey)
	params.Set("region", "de")
	params.Set("language", "de")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &GeocodingError{Message: "creating request", Err: err}
	}

	resp, err := send(ctx, g.httpClient, g.throttle, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, ClassifyHTTPError(resp.StatusCode)
	}

	var gmResp googleMapsResponse
	if err := json.NewDecoder(resp.Body).Decode(&gmResp); err != nil {
		return nil, malformedError(resp.StatusCode, err)
	}

	switch gmResp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return &SearchResult{StatusCode: resp.StatusCode}, nil
	case "OVER_QUERY_LIMIT", "OVER_DAILY_LIMIT":
		return nil, &GeocodingError{
			Type:       ErrorTypeRateLimit,
			StatusCode: resp.StatusCode,
			Message:    "google maps status: " + gmResp.Status,
		}
	default:
		return nil, &GeocodingError{
			Type:       ErrorTypeUnexpectedStatus,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("google maps status: %s %s", gmResp.Status, gmResp.ErrorMessage),
		}
	}

	results := gmResp.Results
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	candidates := make([]Candidate, 0, len(results))

	for _, r := range results {
		c := Candidate{
			Point:       spatial.Point{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
			DisplayName: r.FormattedAddress,
			Address:     Address{},
		}
		c.HasPoint = c.Point.Validate() == nil

		for _, comp := range r.AddressComponents {
			for _, t := range comp.Types {
				if key, ok := googleComponentKeys[t]; ok {
					if _, seen := c.Address[key]; !seen {
						c.Address[key] = comp.LongName
					}
				}
			}
		}

		candidates = append(candidates, c)
	}

	return &SearchResult{StatusCode: resp.StatusCode, Candidates: candidates}, nil
}
