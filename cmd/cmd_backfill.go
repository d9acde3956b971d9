// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/guntherweissenbaeck/fbfregion/backfill"
	"github.com/guntherweissenbaeck/fbfregion/utils/textutils"
)

var errBackfillNotStarted = errors.New("backfill not started")

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Assigns regions to every patient that has none",
	Long: `Runs a backfill task in the foreground. Patients created after the task
starts are left for the next run. Ctrl-C aborts the task after the record in
progress.`,
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

		bar := &progressReporter{enabled: isatty.IsTerminal(os.Stderr.Fd())}
		manager := a.manager(resolver, bar.update)

		start, err := manager.Start(cmd.Context())
		if err != nil {
			return fmt.Errorf("starting backfill: %w", err)
		}

		if !start.Started {
			return fmt.Errorf("%w: %s", errBackfillNotStarted, start.Reason)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		done := make(chan struct{})
		defer close(done)

		go func() {
			select {
			case <-done:
			case <-ctx.Done():
				if _, err := manager.Abort(context.WithoutCancel(ctx)); err != nil {
					log.Printf("[backfill] abort: %v", err)
				}
			}
		}()

		progress, err := manager.Wait(context.WithoutCancel(ctx))
		bar.finish()

		if err != nil {
			return fmt.Errorf("waiting for backfill: %w", err)
		}

		printSummary(progress)

		return nil
	},
}

// progressReporter draws the worker's snapshots on a terminal progress bar.
type progressReporter struct {
	enabled bool

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func (r *progressReporter) update(s backfill.Snapshot) {
	if !r.enabled || s.Total == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar == nil {
		r.bar = progressbar.NewOptions(
			s.Total,
			progressbar.OptionSetDescription("Resolving places"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	_ = r.bar.Set(s.Processed)
}

func (r *progressReporter) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

func printSummary(p backfill.Progress) {
	log.Printf(
		"[backfill] task %d %s - %s of %s processed, %s resolved, %s failed",
		p.TaskID,
		p.State,
		textutils.FormatInt(int64(p.Processed)),
		textutils.FormatInt(int64(p.Total)),
		textutils.FormatInt(int64(p.Success)),
		textutils.FormatInt(int64(p.Errors)),
	)

	for _, e := range p.RecentErrors {
		log.Printf("[backfill]   %s: %s", e.RecordID, e.Reason)
	}
}

// backfillFlags registers the batch settings on cmd.
func backfillFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&flagCfg.BatchSize, "batch-size", flagCfg.BatchSize, "Records per batch [FBF_BACKFILL_BATCH_SIZE]")
	cmd.Flags().DurationVar(
		&flagCfg.BatchPause,
		"batch-pause",
		flagCfg.BatchPause,
		"Pause between batches, 0 disables it [FBF_BACKFILL_PAUSE]",
	)
	cmd.Flags().DurationVar(
		&flagCfg.StaleAfter,
		"stale-after",
		flagCfg.StaleAfter,
		"Running tasks with no progress after this long are stale [FBF_STALE_AFTER]",
	)
}

func init() {
	rootCmd.AddCommand(backfillCmd)
	backfillFlags(backfillCmd)
}
