// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guntherweissenbaeck/fbfregion/config"
)

func TestPrintRungs(t *testing.T) {
	var out bytes.Buffer

	err := printRungs(strings.NewReader("Klinikum Jena\n\nKirche Kahla\n"), &out)
	require.NoError(t, err)

	want := "Klinikum Jena\n" +
		"\traw\tKlinikum Jena\n" +
		"\tcountry\tKlinikum Jena, Deutschland\n" +
		"\tdrop-institution\tJena, Deutschland\n" +
		"\n" +
		"Kirche Kahla\n" +
		"\traw\tKirche Kahla\n" +
		"\tcountry\tKirche Kahla, Deutschland\n" +
		"\tkirche\tKahla Kirche\n" +
		"\tlast-word\tKahla, Deutschland\n"
	assert.Equal(t, want, out.String())
}

func TestReadSeed(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	in := `[
		{"id": "p-1", "place": " Erfurt ", "created_at": "2025-02-01T10:00:00+01:00"},
		{"place": "Jena"}
	]`

	patients, err := readSeed(strings.NewReader(in), now)
	require.NoError(t, err)
	require.Len(t, patients, 2)

	assert.Equal(t, "p-1", patients[0].ID)
	assert.Equal(t, "Erfurt", patients[0].Place)
	assert.Equal(t, time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC), patients[0].CreatedAt)

	_, err = uuid.Parse(patients[1].ID)
	require.NoError(t, err, "generated id should be a UUID")
	assert.Equal(t, now, patients[1].CreatedAt)
}

func TestReadSeedErrors(t *testing.T) {
	_, err := readSeed(strings.NewReader(`[{"place": "  "}]`), time.Now())
	require.ErrorIs(t, err, errEmptyPlace)

	_, err = readSeed(strings.NewReader(`{"place": "Erfurt"}`), time.Now())
	require.Error(t, err)
}

func TestLoadConfigFlagPrecedence(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FBF_DB_PATH", "from-env")
	t.Setenv("FBF_BACKFILL_BATCH_SIZE", "20")

	saved := flagCfg
	t.Cleanup(func() { flagCfg = saved })

	c := &cobra.Command{Use: "test"}
	c.Flags().StringVar(&flagCfg.DbPath, "db-path", flagCfg.DbPath, "")
	c.Flags().IntVar(&flagCfg.BatchSize, "batch-size", flagCfg.BatchSize, "")
	require.NoError(t, c.Flags().Parse([]string{"--batch-size", "5"}))

	require.NoError(t, loadConfig(c))

	assert.Equal(t, "from-env", cfg.DbPath, "unset flag must not override the environment")
	assert.Equal(t, 5, cfg.BatchSize)
	assert.Equal(t, config.GeocoderNominatim, cfg.Geocoder)
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(".env.local", []byte("FBF_LISTEN=0.0.0.0:9000\n"), 0o600))

	// godotenv does not override variables that are already set.
	t.Setenv("FBF_LISTEN", "")
	require.NoError(t, os.Unsetenv("FBF_LISTEN"))

	require.NoError(t, loadConfig(&cobra.Command{Use: "test"}))
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
}
