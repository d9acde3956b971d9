// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/guntherweissenbaeck/fbfregion/config"
)

type logWriter struct {
	writer io.Writer
}

func (w *logWriter) Write(bytes []byte) (int, error) {
	return fmt.Fprintf(w.writer, "%s %s", time.Now().Format("2006-01-02 15:04:05"), string(bytes))
}

func init() {
	log.SetFlags(0)
	log.SetOutput(&logWriter{writer: os.Stderr})
}

var rootCmd = &cobra.Command{
	Use:   "fbf",
	Short: "region resolution for wild bird rescue patients",
	Long: `
fbf assigns a region (city, county or state) to the free-text place where a
patient was found. Places are resolved through a geocoding service (Nominatim
or Google Maps) and every attempt is recorded.

Settings are read from the environment (FBF_*) and from .env.local. Flags
take precedence.
`,
	SilenceUsage:      true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return loadConfig(cmd) },
}

var Version = "dev"

var (
	// cfg is the effective configuration, set before any RunE.
	cfg config.Config
	// flagCfg receives flag values; only flags set explicitly override cfg.
	flagCfg = config.Default(Version)
)

// flagOverrides copies an explicitly set flag from flagCfg into the effective
// configuration.
var flagOverrides = map[string]func(dst *config.Config){
	"db-path":           func(c *config.Config) { c.DbPath = flagCfg.DbPath },
	"listen":            func(c *config.Config) { c.Listen = flagCfg.Listen },
	"geocoder":          func(c *config.Config) { c.Geocoder = flagCfg.Geocoder },
	"geocoder-endpoint": func(c *config.Config) { c.GeocoderEndpoint = flagCfg.GeocoderEndpoint },
	"user-agent":        func(c *config.Config) { c.UserAgent = flagCfg.UserAgent },
	"geocoder-timeout":  func(c *config.Config) { c.GeocoderTimeout = flagCfg.GeocoderTimeout },
	"geocoder-rps":      func(c *config.Config) { c.RequestsPerSecond = flagCfg.RequestsPerSecond },
	"cache-ttl":         func(c *config.Config) { c.CacheTTL = flagCfg.CacheTTL },
	"stale-after":       func(c *config.Config) { c.StaleAfter = flagCfg.StaleAfter },
	"batch-size":        func(c *config.Config) { c.BatchSize = flagCfg.BatchSize },
	"batch-pause":       func(c *config.Config) { c.BatchPause = flagCfg.BatchPause },
	"trace-http":        func(c *config.Config) { c.TraceHTTP = flagCfg.TraceHTTP },
	"trace-http-body":   func(c *config.Config) { c.TraceHTTPBody = flagCfg.TraceHTTPBody },
}

func loadConfig(cmd *cobra.Command) error {
	_ = godotenv.Load(".env.local")

	c, err := config.LoadFromEnv(Version)
	if err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	applyFlags(cmd.Flags(), &c)

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cfg = c

	return nil
}

func applyFlags(flags *pflag.FlagSet, c *config.Config) {
	flags.Visit(func(f *pflag.Flag) {
		if apply, ok := flagOverrides[f.Name]; ok {
			apply(c)
		}
	})
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagCfg.DbPath, "db-path", flagCfg.DbPath, "Directory holding the database [FBF_DB_PATH]")
	flags.StringVar(
		(*string)(&flagCfg.Geocoder),
		"geocoder",
		string(flagCfg.Geocoder),
		"Geocoding provider: nominatim or google [FBF_GEOCODER]",
	)
	flags.StringVar(
		&flagCfg.GeocoderEndpoint,
		"geocoder-endpoint",
		"",
		"Geocoding provider URL [FBF_GEOCODER_ENDPOINT]",
	)
	flags.StringVar(&flagCfg.UserAgent, "user-agent", "", "User-Agent sent to the provider [FBF_GEOCODER_USER_AGENT]")
	flags.DurationVar(
		&flagCfg.GeocoderTimeout,
		"geocoder-timeout",
		flagCfg.GeocoderTimeout,
		"Per-request timeout [FBF_GEOCODER_TIMEOUT]",
	)
	flags.Float64Var(
		&flagCfg.RequestsPerSecond,
		"geocoder-rps",
		flagCfg.RequestsPerSecond,
		"Requests per second, 0 disables the limit [FBF_GEOCODER_RPS]",
	)
	flags.BoolVar(&flagCfg.TraceHTTP, "trace-http", false, "Log every HTTP request to stderr")
	flags.BoolVar(&flagCfg.TraceHTTPBody, "trace-http-body", false, "With --trace-http, include response bodies")
}

func Execute(version string) {
	Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
