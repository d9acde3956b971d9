// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/guntherweissenbaeck/fbfregion/region"
	"github.com/guntherweissenbaeck/fbfregion/spatial"
)

var centerCmd = &cobra.Command{
	Use:   "center",
	Short: "Manages the reference center used to pick among candidates",
}

var centerFlags struct {
	lat, lng float64
	address  string
}

var centerSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Sets the active reference center",
	Long: `Sets the active reference center. Ambiguous places resolve to the
candidate nearest to it.

$ fbf center set --lat 50.9787 --lng 11.0328 --address "Domplatz, Erfurt"`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pt := spatial.Point{Lat: centerFlags.lat, Lng: centerFlags.lng}
		if err := pt.Validate(); err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		center := &region.ReferenceCenter{Point: pt, Address: strings.TrimSpace(centerFlags.address)}
		if err := a.regions.SetReferenceCenter(cmd.Context(), center); err != nil {
			return fmt.Errorf("saving reference center: %w", err)
		}

		return printJSON(center)
	},
}

var centerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Prints the active reference center",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		center, err := a.regions.ActiveReferenceCenter(cmd.Context())
		if err != nil {
			return fmt.Errorf("reading reference center: %w", err)
		}

		if center == nil {
			fmt.Fprintln(os.Stderr, "No reference center configured")

			return nil
		}

		return printJSON(center)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(centerCmd)
	centerCmd.AddCommand(centerSetCmd)
	centerCmd.AddCommand(centerShowCmd)
	centerSetCmd.Flags().Float64Var(&centerFlags.lat, "lat", 0, "Latitude")
	centerSetCmd.Flags().Float64Var(&centerFlags.lng, "lng", 0, "Longitude")
	centerSetCmd.Flags().StringVar(&centerFlags.address, "address", "", "Human readable address")
	_ = centerSetCmd.MarkFlagRequired("lat")
	_ = centerSetCmd.MarkFlagRequired("lng")
}
