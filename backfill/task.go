// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

// Package backfill assigns regions to every historical patient that lacks one,
// in a single background task with observable progress.
package backfill

import (
	"context"
	"slices"
	"sync"
	"time"
)

// State of a backfill task.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateStale     State = "stale"
)

// Terminal reasons appended to the error log.
const (
	ReasonAborted     = "aborted by user"
	ReasonStale       = "no progress, marked stale"
	ReasonRateLimited = "geocoding service rate limited"
)

// Finished reports whether s is terminal.
func (s State) Finished() bool {
	return s == StateCompleted || s == StateAborted || s == StateStale
}

// ErrorEntry is one failed record, or a terminal note with an empty RecordID.
type ErrorEntry struct {
	RecordID string `json:"record_id"`
	Reason   string `json:"reason"`
}

// Snapshot is an immutable copy of a task's state.
type Snapshot struct {
	ID             int64
	State          State
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	UpdatedAt      time.Time
	Total          int
	Processed      int
	Success        int
	Errors         int
	ErrorLog       []ErrorEntry
	BatchSize      int
	AbortRequested bool
}

// IsRunning mirrors the persisted is_running flag.
func (s Snapshot) IsRunning() bool {
	return !s.State.Finished()
}

func (s Snapshot) clone() Snapshot {
	s.ErrorLog = slices.Clone(s.ErrorLog)

	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}

	if s.FinishedAt != nil {
		t := *s.FinishedAt
		s.FinishedAt = &t
	}

	return s
}

// Task is a backfill run owned by a Manager. Counters are only changed by the
// worker; readers take copies through Snapshot.
type Task struct {
	mu     sync.Mutex
	snap   Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

func newTask(snap Snapshot, cancel context.CancelFunc) *Task {
	return &Task{snap: snap, cancel: cancel, done: make(chan struct{})}
}

// Snapshot returns a copy of the current state.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snap.clone()
}

// Done is closed when the worker has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) begin(total int, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.State != StatePending {
		return false
	}

	t.snap.State = StateRunning
	t.snap.StartedAt = &now
	t.snap.UpdatedAt = now
	t.snap.Total = total

	return true
}

func (t *Task) record(recordID string, ok bool, reason string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Processed++
	t.snap.UpdatedAt = now

	if ok {
		t.snap.Success++

		return
	}

	t.snap.Errors++
	t.snap.ErrorLog = append(t.snap.ErrorLog, ErrorEntry{RecordID: recordID, Reason: reason})
}

// skip counts a record that already had a region when its turn came.
func (t *Task) skip(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Processed++
	t.snap.UpdatedAt = now
}

func (t *Task) exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.snap.Processed >= t.snap.Total
}

// finish moves the task to a terminal state. It returns false if the task had
// already finished.
func (t *Task) finish(state State, reason string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.State.Finished() {
		return false
	}

	t.snap.State = state
	t.snap.FinishedAt = &now
	t.snap.UpdatedAt = now

	if reason != "" {
		t.snap.ErrorLog = append(t.snap.ErrorLog, ErrorEntry{Reason: reason})
	}

	return true
}

func (t *Task) requestAbort() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.State.Finished() {
		return false
	}

	t.snap.AbortRequested = true

	return true
}
