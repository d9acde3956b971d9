// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package backfill

import (
	"math"
	"time"
)

// minProcessedForRate is the number of records needed before a rate is reported.
const minProcessedForRate = 5

// Progress is the derived, read-only view of a task.
type Progress struct {
	Active        bool         `json:"active"`
	TaskID        int64        `json:"task_id,omitempty"`
	State         State        `json:"state,omitempty"`
	Processed     int          `json:"processed"`
	Total         int          `json:"total"`
	Success       int          `json:"success"`
	Errors        int          `json:"errors"`
	Percent       float64      `json:"percent"`
	Finished      bool         `json:"finished"`
	Stale         bool         `json:"stale"`
	RatePerSecond *float64     `json:"rate_per_second,omitempty"`
	EtaSeconds    *float64     `json:"eta_seconds,omitempty"`
	Aborted       bool         `json:"aborted"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	RecentErrors  []ErrorEntry `json:"recent_errors,omitempty"`
}

// recentErrors is how many error entries Progress carries.
const recentErrors = 10

// ComputeProgress derives percentage, rate and ETA from s as of now.
func ComputeProgress(s Snapshot, now time.Time) Progress {
	p := Progress{
		Active:     !s.State.Finished(),
		TaskID:     s.ID,
		State:      s.State,
		Processed:  s.Processed,
		Total:      s.Total,
		Success:    s.Success,
		Errors:     s.Errors,
		Finished:   s.State.Finished(),
		Stale:      s.State == StateStale,
		Aborted:    s.AbortRequested || s.State == StateAborted,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	}

	switch {
	case s.Total > 0:
		p.Percent = round1(float64(s.Processed) * 100 / float64(s.Total))
	case p.Finished:
		p.Percent = 100
	}

	if n := len(s.ErrorLog); n > 0 {
		p.RecentErrors = s.ErrorLog[max(0, n-recentErrors):]
	}

	if s.StartedAt == nil || s.Processed <= minProcessedForRate {
		return p
	}

	end := now
	if s.FinishedAt != nil {
		end = *s.FinishedAt
	}

	elapsed := end.Sub(*s.StartedAt).Seconds()
	if elapsed <= 0 {
		return p
	}

	rate := float64(s.Processed) / elapsed
	shown := round1(rate)
	p.RatePerSecond = &shown

	if !p.Finished {
		eta := math.Round(float64(max(s.Total-s.Processed, 0)) / rate)
		p.EtaSeconds = &eta
	}

	return p
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
