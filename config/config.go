// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

// Package config gathers the settings shared by every command.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/guntherweissenbaeck/fbfregion/backfill"
	"github.com/guntherweissenbaeck/fbfregion/geocoding"
	"github.com/guntherweissenbaeck/fbfregion/region"
)

// GeocoderType names a geocoding provider.
type GeocoderType string

const (
	GeocoderNominatim GeocoderType = "nominatim"
	GeocoderGoogle    GeocoderType = "google"
)

// DatabaseFile is the DuckDB file name inside Config.DbPath.
const DatabaseFile = "fbf.duckdb"

var (
	ErrUnknownGeocoder = errors.New("unknown geocoder")
	ErrMissingAgent    = errors.New("geocoder user agent is required")
)

// Config holds every tunable of the resolver, the backfill and the server.
type Config struct {
	DbPath string
	Listen string

	Geocoder          GeocoderType
	GeocoderEndpoint  string
	UserAgent         string
	GeocoderTimeout   time.Duration
	RequestsPerSecond float64

	// GoogleMapsAPIKey is looked up through Application Default Credentials when empty.
	GoogleMapsAPIKey   string
	GoogleCloudProject string

	CacheTTL   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	BatchPause time.Duration

	TraceHTTP     bool
	TraceHTTPBody bool
}

// Default returns the built-in configuration for the given build version.
func Default(version string) Config {
	return Config{
		DbPath:            "db",
		Listen:            "localhost:8080",
		Geocoder:          GeocoderNominatim,
		UserAgent:         fmt.Sprintf("fbf-region-resolver/%s (+https://github.com/guntherweissenbaeck/django-fbf)", version),
		GeocoderTimeout:   geocoding.DefaultTimeout,
		RequestsPerSecond: 1,
		CacheTTL:          region.DefaultCacheTTL,
		StaleAfter:        backfill.DefaultStaleAfter,
		BatchSize:         backfill.DefaultBatchSize,
		BatchPause:        backfill.DefaultPause,
	}
}

// LoadFromEnv overlays the environment on Default(version).
//
// Environment variables:
//   - FBF_DB_PATH: directory holding the DuckDB file (default: db)
//   - FBF_LISTEN: HTTP listen address (default: localhost:8080)
//   - FBF_GEOCODER: "nominatim" or "google" (default: nominatim)
//   - FBF_GEOCODER_ENDPOINT: provider URL (default: the provider's public endpoint)
//   - FBF_GEOCODER_USER_AGENT: User-Agent sent to the provider
//   - FBF_GEOCODER_TIMEOUT: per-request timeout (default: 10s)
//   - FBF_GEOCODER_RPS: client-side request rate, 0 disables (default: 1)
//   - GOOGLE_MAPS_API_KEY, GOOGLE_CLOUD_PROJECT: Google provider credentials
//   - FBF_CACHE_TTL: interactive cache TTL (default: 30m)
//   - FBF_STALE_AFTER: backfill stale threshold (default: 120s)
//   - FBF_BACKFILL_BATCH_SIZE: records per batch (default: 50)
//   - FBF_BACKFILL_PAUSE: pause between batches (default: 200ms)
func LoadFromEnv(version string) (Config, error) {
	c := Default(version)

	var errs []error

	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}

	duration := func(name string, dst *time.Duration) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))

				return
			}

			*dst = d
		}
	}

	str("FBF_DB_PATH", &c.DbPath)
	str("FBF_LISTEN", &c.Listen)
	str("FBF_GEOCODER_ENDPOINT", &c.GeocoderEndpoint)
	str("FBF_GEOCODER_USER_AGENT", &c.UserAgent)
	str("GOOGLE_MAPS_API_KEY", &c.GoogleMapsAPIKey)
	str("GOOGLE_CLOUD_PROJECT", &c.GoogleCloudProject)

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("FBF_GEOCODER"))); v != "" {
		c.Geocoder = GeocoderType(v)
	}

	duration("FBF_GEOCODER_TIMEOUT", &c.GeocoderTimeout)
	duration("FBF_CACHE_TTL", &c.CacheTTL)
	duration("FBF_STALE_AFTER", &c.StaleAfter)
	duration("FBF_BACKFILL_PAUSE", &c.BatchPause)

	if v := strings.TrimSpace(os.Getenv("FBF_GEOCODER_RPS")); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("FBF_GEOCODER_RPS: %w", err))
		} else {
			c.RequestsPerSecond = rps
		}
	}

	if v := strings.TrimSpace(os.Getenv("FBF_BACKFILL_BATCH_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("FBF_BACKFILL_BATCH_SIZE: %w", err))
		} else {
			c.BatchSize = n
		}
	}

	return c, errors.Join(errs...)
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	switch c.Geocoder {
	case GeocoderNominatim, GeocoderGoogle:
	default:
		errs = append(errs, fmt.Errorf("%w %q", ErrUnknownGeocoder, c.Geocoder))
	}

	if c.Geocoder == GeocoderNominatim && strings.TrimSpace(c.UserAgent) == "" {
		errs = append(errs, ErrMissingAgent)
	}

	if c.GeocoderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("geocoder timeout must be positive (got %s)", c.GeocoderTimeout))
	}

	if c.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("requests per second must not be negative (got %g)", c.RequestsPerSecond))
	}

	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("cache TTL must be positive (got %s)", c.CacheTTL))
	}

	if c.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("stale threshold must be positive (got %s)", c.StaleAfter))
	}

	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive (got %d)", c.BatchSize))
	}

	if c.BatchPause < 0 {
		errs = append(errs, fmt.Errorf("batch pause must not be negative (got %s)", c.BatchPause))
	}

	return errors.Join(errs...)
}

// DatabasePath is the DuckDB file to open.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DbPath, DatabaseFile)
}

// ClientOptions returns the HTTP settings for the geocoding client. Traces go
// to trace when TraceHTTP is set.
func (c Config) ClientOptions(trace io.Writer) *geocoding.ClientOptions {
	opts := &geocoding.ClientOptions{
		Endpoint:          c.GeocoderEndpoint,
		UserAgent:         c.UserAgent,
		Timeout:           c.GeocoderTimeout,
		RequestsPerSecond: c.RequestsPerSecond,
	}

	if c.TraceHTTP {
		opts.TraceWriter = trace
		opts.TraceBody = c.TraceHTTPBody
	}

	return opts
}

// NewGeocoder builds the configured provider client wrapped with rate-limit
// retries. The Google key is discovered through ADC when not configured.
func (c Config) NewGeocoder(ctx context.Context, trace io.Writer) (geocoding.Client, error) {
	var client geocoding.Client

	switch c.Geocoder {
	case GeocoderGoogle:
		key := c.GoogleMapsAPIKey
		if key == "" {
			log.Println("GOOGLE_MAPS_API_KEY is not set. Attempting to retrieve via ADC...")

			var err error

			key, err = geocoding.GoogleAPIKeyFromADC(ctx, c.GoogleCloudProject)
			if err != nil {
				return nil, fmt.Errorf("retrieving Google Maps API key: %w", err)
			}

			log.Println("✅ Successfully retrieved Google Maps API Key via ADC")
		}

		client = geocoding.NewGoogleMapsClient(key, c.ClientOptions(trace))
	case GeocoderNominatim:
		client = geocoding.NewNominatimClient(c.ClientOptions(trace))
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownGeocoder, c.Geocoder)
	}

	return geocoding.NewRetryingClient(client), nil
}

// BackfillOptions maps the backfill settings.
func (c Config) BackfillOptions() backfill.Options {
	pause := c.BatchPause
	if pause == 0 {
		pause = -1
	}

	return backfill.Options{
		BatchSize:  c.BatchSize,
		Pause:      pause,
		StaleAfter: c.StaleAfter,
	}
}
