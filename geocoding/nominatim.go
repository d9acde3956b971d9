// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/guntherweissenbaeck/fbfregion/spatial"
	"github.com/guntherweissenbaeck/fbfregion/utils/httputils"
)

// Provider defaults.
const (
	DefaultNominatimEndpoint = "https://nominatim.openstreetmap.org/search"
	DefaultUserAgent         = "fbf-region-resolver/unknown (+https://github.com/guntherweissenbaeck/django-fbf)"
	DefaultTimeout           = 10 * time.Second
)

// ClientOptions configures the HTTP side of a geocoding client.
type ClientOptions struct {
	// Endpoint is the search URL of the provider.
	Endpoint string

	// UserAgent is sent with every request. Nominatim rejects generic agents.
	UserAgent string

	// Timeout bounds a single request, including reading the body.
	Timeout time.Duration

	// RequestsPerSecond throttles outgoing requests; zero disables throttling.
	RequestsPerSecond float64

	// TraceWriter receives a dump of every request and response when set.
	TraceWriter io.Writer

	// TraceBody includes bodies in the trace.
	TraceBody bool
}

func (o *ClientOptions) withDefaults(endpoint string) ClientOptions {
	var opts ClientOptions
	if o != nil {
		opts = *o
	}

	if opts.Endpoint == "" {
		opts.Endpoint = endpoint
	}

	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return opts
}

func newHTTPClient(opts ClientOptions) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
	}

	loggingTransport := &httputils.LoggingRoundTripper{
		Writer:    opts.TraceWriter,
		DumpBody:  opts.TraceBody,
		Transport: transport,
	}

	headerTransport := &httputils.AppendRequestHeadersRoundTripper{
		Headers: map[string]string{
			"User-Agent": opts.UserAgent,
			"Accept":     "application/json",
		},
		Transport: loggingTransport,
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: headerTransport,
	}
}

// send waits for a request slot, then issues req. The client timeout starts
// once the slot is granted. A slot that cannot be granted before ctx expires
// is reported as a rate limit.
func send(ctx context.Context, client *http.Client, throttle *httputils.Throttle, req *http.Request) (*http.Response, error) {
	if err := throttle.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, networkError(err)
		}

		return nil, throttledError(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, networkError(err)
	}

	return resp, nil
}

// NominatimClient queries an OpenStreetMap Nominatim search endpoint.
type NominatimClient struct {
	endpoint   string
	httpClient *http.Client
	throttle   *httputils.Throttle
}

// NewNominatimClient creates a client for the endpoint in options, falling back
// to the public OpenStreetMap instance.
func NewNominatimClient(options *ClientOptions) *NominatimClient {
	opts := options.withDefaults(DefaultNominatimEndpoint)

	return &NominatimClient{
		endpoint:   opts.Endpoint,
		httpClient: newHTTPClient(opts),
		throttle:   httputils.NewThrottle(opts.RequestsPerSecond),
	}
}

type nominatimPlace struct {
	Lat         json.RawMessage `json:"lat"`
	Lon         json.RawMessage `json:"lon"`
	DisplayName string          `json:"display_name"`
	Address     map[string]any  `json:"address"`
}

// Search issues GET <endpoint>?q=<query>&format=json&limit=<limit>&addressdetails=1.
func (c *NominatimClient) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, &GeocodingError{Message: "invalid endpoint " + c.endpoint, Err: err}
	}

	params := u.Query()
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", strconv.Itoa(max(limit, 1)))
	params.Set("addressdetails", "1")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &GeocodingError{Message: "creating request", Err: err}
	}

	resp, err := send(ctx, c.httpClient, c.throttle, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, ClassifyHTTPError(resp.StatusCode)
	}

	if !isJSON(resp.Header.Get("Content-Type")) {
		return nil, malformedError(resp.StatusCode,
			fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(fmt.Errorf("reading response body: %w", err))
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, malformedError(resp.StatusCode, err)
	}

	candidates := make([]Candidate, 0, len(places))
	for _, p := range places {
		candidates = append(candidates, p.candidate())
	}

	return &SearchResult{StatusCode: resp.StatusCode, Candidates: candidates}, nil
}

func (p nominatimPlace) candidate() Candidate {
	c := Candidate{
		DisplayName: p.DisplayName,
		Address:     make(Address, len(p.Address)),
	}

	for k, v := range p.Address {
		if s, ok := v.(string); ok {
			c.Address[k] = s
		}
	}

	lat, okLat := parseCoordinate(p.Lat)
	lon, okLon := parseCoordinate(p.Lon)

	if okLat && okLon {
		pt := spatial.Point{Lat: lat, Lng: lon}
		if pt.Validate() == nil {
			c.Point = pt
			c.HasPoint = true
		}
	}

	return c
}

// parseCoordinate accepts both "50.92" and 50.92.
func parseCoordinate(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(s, 64)

		return f, err == nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}

	return f, true
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mediaType == "application/json" || mediaType == "application/geo+json" ||
		mediaType == "text/json"
}
