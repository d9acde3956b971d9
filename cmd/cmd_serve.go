// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/guntherweissenbaeck/fbfregion/region"
	"github.com/guntherweissenbaeck/fbfregion/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the lookup, backfill and audit API over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		resolver, err := a.resolver(cmd.Context())
		if err != nil {
			return err
		}

		cache := region.NewCache(cfg.CacheTTL)
		cache.Start()
		defer cache.Stop()

		srv := server.NewServer(
			region.NewService(resolver, a.regions, cache),
			a.regions,
			a.manager(resolver, nil),
		)

		log.Printf("📍 Geocoding with %s, database %s", cfg.Geocoder, cfg.DatabasePath())
		log.Printf("🚀 Listening on http://%s", cfg.Listen)

		if err := srv.Run(cfg.Listen); err != nil {
			return fmt.Errorf("serving: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&flagCfg.Listen, "listen", flagCfg.Listen, "HTTP listen address [FBF_LISTEN]")
	serveCmd.Flags().DurationVar(&flagCfg.CacheTTL, "cache-ttl", flagCfg.CacheTTL, "Lookup cache TTL [FBF_CACHE_TTL]")
	backfillFlags(serveCmd)
}
