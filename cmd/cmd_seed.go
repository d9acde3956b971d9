// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/guntherweissenbaeck/fbfregion/region"
	"github.com/guntherweissenbaeck/fbfregion/utils/textutils"
)

var errEmptyPlace = errors.New("place is empty")

// seedRecord is one entry of a seed file.
type seedRecord struct {
	ID        string     `json:"id"`
	Place     string     `json:"place"`
	CreatedAt *time.Time `json:"created_at"`
}

// readSeed decodes a JSON array of seed records. Missing ids get a random
// UUID and missing timestamps get now.
func readSeed(r io.Reader, now time.Time) ([]*region.Patient, error) {
	var records []seedRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding seed: %w", err)
	}

	patients := make([]*region.Patient, 0, len(records))

	for i, rec := range records {
		place := strings.TrimSpace(rec.Place)
		if place == "" {
			return nil, fmt.Errorf("record %d: %w", i, errEmptyPlace)
		}

		p := &region.Patient{ID: rec.ID, Place: place, CreatedAt: now}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}

		if rec.CreatedAt != nil {
			p.CreatedAt = rec.CreatedAt.UTC()
		}

		patients = append(patients, p)
	}

	return patients, nil
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.json>",
		Short: "Loads patient records to backfill",
		Long: `Loads patients from a JSON array, "-" reads stdin:

[{"place": "Erfurt, Domplatz", "created_at": "2025-03-01T10:00:00Z"}]

Records whose id already exists are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening seed file: %w", err)
				}
				defer f.Close()

				in = f
			}

			patients, err := readSeed(in, time.Now().UTC())
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.regions.SavePatients(cmd.Context(), patients)
			if err != nil {
				return fmt.Errorf("saving patients: %w", err)
			}

			log.Printf(
				"Seeded %s new patients out of %s records",
				textutils.FormatInt(int64(n)),
				textutils.FormatInt(int64(len(patients))),
			)

			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newSeedCmd())
}
