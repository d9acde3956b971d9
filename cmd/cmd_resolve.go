// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/guntherweissenbaeck/fbfregion/region"
)

var resolveDebug bool

var resolveCmd = &cobra.Command{
	Use:   "resolve [place...]",
	Short: "Resolves places to regions and prints the result as JSON",
	Long: `Resolves every argument, or one place per line from stdin when no
argument is given, and prints one JSON object per place. Regions created along
the way are stored and every attempt is recorded.

$ fbf resolve "Erfurt, Domplatz"
{"success":true,"outcome":"resolved","city":"Erfurt",…,"region_name":"Erfurt",…}
`,
	RunE: func(cmd *cobra.Command, args []string) error {
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
		service := region.NewService(resolver, a.regions, cache)

		if len(args) > 0 {
			for _, place := range args {
				if err := printLookup(cmd.Context(), os.Stdout, service, place); err != nil {
					return err
				}
			}

			return nil
		}

		if isatty.IsTerminal(os.Stdin.Fd()) {
			fmt.Fprintln(os.Stderr, "Enter places to resolve, one per line…")
		}

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := printLookup(cmd.Context(), os.Stdout, service, scanner.Text()); err != nil {
				return err
			}
		}

		return scanner.Err()
	},
}

func printLookup(ctx context.Context, w io.Writer, service *region.Service, place string) error {
	res, err := service.Lookup(ctx, place, resolveDebug)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", place, err)
	}

	b, err := json.Marshal(res)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "%s\n", b)

	return err
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolVar(&resolveDebug, "debug", false, "Include attempted queries, coordinates and distance")
}
