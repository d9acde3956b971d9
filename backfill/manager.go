// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package backfill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/guntherweissenbaeck/fbfregion/region"
	"github.com/guntherweissenbaeck/fbfregion/spatial"
)

// Defaults for Options.
const (
	DefaultBatchSize     = 50
	DefaultPause         = 200 * time.Millisecond
	DefaultStaleAfter    = 120 * time.Second
	DefaultFlushEvery    = 10
	DefaultFlushInterval = 2 * time.Second
)

const (
	reasonAlreadyRunning = "a backfill task is already running"
	reasonNotRunning     = "no backfill task is running"
)

// Resolver resolves one place. *region.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, raw string, ref *spatial.Point) (*region.Resolution, error)
}

// Records gives access to the patients being backfilled. region.Repository
// implements it.
type Records interface {
	ActiveReferenceCenter(ctx context.Context) (*region.ReferenceCenter, error)
	CountUnresolvedPatients(ctx context.Context, before time.Time) (int, error)
	ListUnresolvedPatients(ctx context.Context, cursor *region.PatientCursor, before time.Time, limit int) ([]*region.Patient, error)
	PatientRegionID(ctx context.Context, patientID string) (*int64, error)
	AssignRegion(ctx context.Context, patientID string, regionID int64) (bool, error)
}

// Options tunes a Manager. Zero values take the defaults above.
type Options struct {
	BatchSize int
	// Pause between batches; negative disables it.
	Pause time.Duration
	// StaleAfter is how long a running task may go without processing its
	// first record before readers mark it stale.
	StaleAfter time.Duration
	// Counters are persisted every FlushEvery records or FlushInterval,
	// whichever comes first.
	FlushEvery    int
	FlushInterval time.Duration

	// Now and Sleep are replaced by tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	// OnProgress is called by the worker after every record.
	OnProgress func(Snapshot)
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}

	switch {
	case o.Pause == 0:
		o.Pause = DefaultPause
	case o.Pause < 0:
		o.Pause = 0
	}

	if o.StaleAfter <= 0 {
		o.StaleAfter = DefaultStaleAfter
	}

	if o.FlushEvery <= 0 {
		o.FlushEvery = DefaultFlushEvery
	}

	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}

	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}

	if o.Sleep == nil {
		o.Sleep = sleepContext
	}

	return o
}

// StartResult answers Start.
type StartResult struct {
	Started bool   `json:"started"`
	TaskID  int64  `json:"task_id"`
	Reason  string `json:"reason,omitempty"`
}

// AbortResult answers Abort.
type AbortResult struct {
	Aborted bool   `json:"aborted"`
	TaskID  int64  `json:"task_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Manager runs at most one backfill task at a time.
type Manager struct {
	repo     Repository
	records  Records
	resolver Resolver
	opts     Options

	mu      sync.Mutex
	current *Task
}

// NewManager creates a manager. Nothing runs until Start.
func NewManager(repo Repository, records Records, resolver Resolver, opts Options) *Manager {
	return &Manager{
		repo:     repo,
		records:  records,
		resolver: resolver,
		opts:     opts.withDefaults(),
	}
}

// Start launches a new task unless one is already running, in which case the
// running task's id is returned with Started false. The worker does not
// inherit ctx.
func (m *Manager) Start(ctx context.Context) (StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()

	if t := m.current; t != nil {
		m.checkStale(ctx, t, now)

		if snap := t.Snapshot(); snap.IsRunning() {
			return StartResult{TaskID: snap.ID, Reason: reasonAlreadyRunning}, nil
		}
	}

	if err := m.reapOrphan(ctx, now); err != nil {
		return StartResult{}, err
	}

	snap := Snapshot{
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
		BatchSize: m.opts.BatchSize,
	}

	id, err := m.repo.Create(ctx, snap)
	if err != nil {
		return StartResult{}, err
	}

	snap.ID = id

	workerCtx, cancel := context.WithCancel(context.Background())
	task := newTask(snap, cancel)
	m.current = task

	go m.run(workerCtx, task)

	log.Printf("[backfill] task %d started", id)

	return StartResult{Started: true, TaskID: id}, nil
}

// reapOrphan marks stale a task row flagged as running that no worker of this
// manager owns. DuckDB admits a single writing process, so such a row was left
// behind by a process that exited mid-run.
func (m *Manager) reapOrphan(ctx context.Context, now time.Time) error {
	snap, err := m.repo.Running(ctx)
	if errors.Is(err, ErrNoTask) {
		return nil
	}

	if err != nil {
		return err
	}

	if m.current != nil && m.current.Snapshot().ID == snap.ID {
		return nil
	}

	snap.State = StateStale
	snap.FinishedAt = &now
	snap.UpdatedAt = now
	snap.ErrorLog = append(snap.ErrorLog, ErrorEntry{Reason: ReasonStale})

	log.Printf("[backfill] task %d was left running by a previous process, marking stale", snap.ID)

	return m.repo.Save(ctx, *snap)
}

// Progress reports the current task, or the last stored one. A running task
// that has processed nothing for longer than StaleAfter is marked stale here.
func (m *Manager) Progress(ctx context.Context) (Progress, error) {
	now := m.opts.Now()

	m.mu.Lock()
	t := m.current

	if t == nil {
		defer m.mu.Unlock()

		if err := m.reapOrphan(ctx, now); err != nil {
			return Progress{}, err
		}

		snap, err := m.repo.Latest(ctx)
		if errors.Is(err, ErrNoTask) {
			return Progress{}, nil
		}

		if err != nil {
			return Progress{}, err
		}

		return ComputeProgress(*snap, now), nil
	}
	m.mu.Unlock()

	m.checkStale(ctx, t, now)

	return ComputeProgress(t.Snapshot(), now), nil
}

func (m *Manager) checkStale(ctx context.Context, t *Task, now time.Time) {
	snap := t.Snapshot()
	if !snap.IsRunning() || snap.Processed > 0 {
		return
	}

	since := snap.CreatedAt
	if snap.StartedAt != nil {
		since = *snap.StartedAt
	}

	if now.Sub(since) <= m.opts.StaleAfter {
		return
	}

	if !t.finish(StateStale, ReasonStale, now) {
		return
	}

	log.Printf("[backfill] task %d made no progress in %s, marking stale", snap.ID, now.Sub(since))
	t.cancel()
	m.save(ctx, t)
}

// Abort asks the running task to stop. The worker notices before its next record.
func (m *Manager) Abort(ctx context.Context) (AbortResult, error) {
	m.mu.Lock()
	t := m.current
	m.mu.Unlock()

	if t == nil || !t.requestAbort() {
		return AbortResult{Reason: reasonNotRunning}, nil
	}

	t.cancel()
	m.save(ctx, t)

	id := t.Snapshot().ID
	log.Printf("[backfill] abort requested for task %d", id)

	return AbortResult{Aborted: true, TaskID: id}, nil
}

// Wait blocks until the current task's worker returns, then reports its progress.
func (m *Manager) Wait(ctx context.Context) (Progress, error) {
	m.mu.Lock()
	t := m.current
	m.mu.Unlock()

	if t != nil {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return Progress{}, ctx.Err()
		}
	}

	return m.Progress(ctx)
}

func (m *Manager) save(ctx context.Context, t *Task) {
	snap := t.Snapshot()
	if err := m.repo.Save(context.WithoutCancel(ctx), snap); err != nil {
		log.Printf("[backfill] %v", err)
	}
}

func (m *Manager) notify(t *Task) {
	if m.opts.OnProgress != nil {
		m.opts.OnProgress(t.Snapshot())
	}
}

// flusher decides when counters are persisted.
type flusher struct {
	every    int
	interval time.Duration
	pending  int
	last     time.Time
}

func (f *flusher) due(now time.Time) bool {
	f.pending++
	if f.pending < f.every && now.Sub(f.last) < f.interval {
		return false
	}

	f.reset(now)

	return true
}

func (f *flusher) reset(now time.Time) {
	f.pending = 0
	f.last = now
}

func (m *Manager) run(ctx context.Context, t *Task) {
	defer close(t.done)
	defer t.cancel()

	saveCtx := context.WithoutCancel(ctx)
	snap := t.Snapshot()
	cutoff := snap.CreatedAt

	total, err := m.records.CountUnresolvedPatients(ctx, cutoff)
	if err != nil {
		reason := fmt.Sprintf("counting records: %v", err)
		if ctx.Err() != nil {
			reason = ReasonAborted
		}

		m.end(saveCtx, t, StateAborted, reason)

		return
	}

	if !t.begin(total, m.opts.Now()) {
		m.save(saveCtx, t)

		return
	}

	m.save(saveCtx, t)
	m.notify(t)
	log.Printf("[backfill] task %d: %d records without region", snap.ID, total)

	var ref *spatial.Point

	center, err := m.records.ActiveReferenceCenter(ctx)
	if err != nil {
		log.Printf("[backfill] task %d: no reference center: %v", snap.ID, err)
	} else if center != nil {
		ref = &center.Point
	}

	fl := &flusher{every: m.opts.FlushEvery, interval: m.opts.FlushInterval, last: m.opts.Now()}

	var cursor *region.PatientCursor

	for {
		if ctx.Err() != nil {
			m.end(saveCtx, t, StateAborted, ReasonAborted)

			return
		}

		if t.exhausted() {
			m.end(saveCtx, t, StateCompleted, "")

			return
		}

		batch, err := m.records.ListUnresolvedPatients(ctx, cursor, cutoff, m.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				m.end(saveCtx, t, StateAborted, ReasonAborted)
			} else {
				m.end(saveCtx, t, StateAborted, fmt.Sprintf("listing records: %v", err))
			}

			return
		}

		if len(batch) == 0 {
			m.end(saveCtx, t, StateCompleted, "")

			return
		}

		for _, p := range batch {
			if ctx.Err() != nil {
				m.end(saveCtx, t, StateAborted, ReasonAborted)

				return
			}

			if t.exhausted() {
				break
			}

			cursor = &region.PatientCursor{CreatedAt: p.CreatedAt, ID: p.ID}
			rateLimited := m.process(ctx, t, p, ref)

			m.notify(t)

			if rateLimited {
				m.end(saveCtx, t, StateAborted, ReasonRateLimited)

				return
			}

			if fl.due(m.opts.Now()) {
				m.save(saveCtx, t)
			}
		}

		m.save(saveCtx, t)
		fl.reset(m.opts.Now())

		if m.opts.Pause > 0 {
			if err := m.opts.Sleep(ctx, m.opts.Pause); err != nil {
				m.end(saveCtx, t, StateAborted, ReasonAborted)

				return
			}
		}
	}
}

// process handles one patient and reports whether the provider is throttling.
func (m *Manager) process(ctx context.Context, t *Task, p *region.Patient, ref *spatial.Point) bool {
	// An abort must not interrupt a record half-way.
	rctx := context.WithoutCancel(ctx)

	current, err := m.records.PatientRegionID(rctx, p.ID)
	if err != nil {
		t.record(p.ID, false, err.Error(), m.opts.Now())

		return false
	}

	if current != nil {
		t.skip(m.opts.Now())

		return false
	}

	res, err := m.resolver.Resolve(rctx, p.Place, ref)
	if err != nil {
		t.record(p.ID, false, err.Error(), m.opts.Now())

		return false
	}

	switch res.Outcome {
	case region.OutcomeResolved:
		if _, err := m.records.AssignRegion(rctx, p.ID, res.Region.ID); err != nil {
			t.record(p.ID, false, err.Error(), m.opts.Now())
		} else {
			t.record(p.ID, true, "", m.opts.Now())
		}
	case region.OutcomeRateLimited:
		t.record(p.ID, false, res.Reason, m.opts.Now())

		return true
	default:
		t.record(p.ID, false, res.Reason, m.opts.Now())
	}

	return false
}

func (m *Manager) end(ctx context.Context, t *Task, state State, reason string) {
	if t.finish(state, reason, m.opts.Now()) {
		snap := t.Snapshot()
		log.Printf("[backfill] task %d %s: %d/%d processed, %d ok, %d errors",
			snap.ID, state, snap.Processed, snap.Total, snap.Success, snap.Errors)
	}

	m.save(ctx, t)
	m.notify(t)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
