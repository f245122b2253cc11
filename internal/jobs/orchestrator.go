//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const defaultStatusInterval = time.Second

// Orchestrator owns every job's lifecycle and enforces the process-wide
// "at most one active job" invariant.
type Orchestrator struct {
	lc    logger.LoggingClient
	store Store
	deps  Deps

	statusInterval time.Duration

	// activeMu is the narrow mutex guarding the exclusivity slot, so
	// "claim if free, else fail" is atomic.
	activeMu sync.Mutex
	activeID string

	// mu guards the runtime bookkeeping below.
	mu      sync.Mutex
	configs map[string]Config
	cancels map[string]context.CancelFunc
	done    map[string]chan struct{}

	// saveMu serializes every read-modify-write of a persisted job
	// record. A status tick that raced a terminal save could otherwise
	// write a stale Running snapshot over a final state.
	saveMu sync.Mutex
}

// Option tweaks an Orchestrator at construction.
type Option func(*Orchestrator)

// WithStatusInterval overrides how often the background loop republishes a
// running job's progress.
func WithStatusInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.statusInterval = d
		}
	}
}

func NewOrchestrator(lc logger.LoggingClient, store Store, deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		lc:             lc,
		store:          store,
		deps:           deps,
		statusInterval: defaultStatusInterval,
		configs:        make(map[string]Config),
		cancels:        make(map[string]context.CancelFunc),
		done:           make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register creates a job in NotStarted state, persists it, and returns its
// id. Registration runs no work, so there is no exclusivity check here.
func (o *Orchestrator) Register(cfg Config) (string, error) {
	if _, ok := factories[cfg.Strategy.Kind]; !ok {
		return "", errors.Errorf("unknown strategy kind %q", cfg.Strategy.Kind)
	}

	id := uuid.NewString()
	job := Job{
		ID:       id,
		Name:     cfg.Name,
		Strategy: cfg.Strategy.Kind,
		State:    StateNotStarted,
	}
	if err := o.store.SaveJob(id, job); err != nil {
		return "", errors.Wrap(err, "failed to persist new job")
	}

	o.mu.Lock()
	o.configs[id] = cfg
	o.mu.Unlock()

	o.lc.Info("Job registered.", "jobId", id, "name", cfg.Name, "strategy", string(cfg.Strategy.Kind))
	return id, nil
}

// Get returns the persisted job record.
func (o *Orchestrator) Get(jobID string) (Job, error) {
	return o.store.GetJob(jobID)
}

// Start claims the exclusivity slot for jobID and launches its strategy.
// It returns false, without mutating anything, when another job is active,
// when the job is unknown or already started, or when the strategy cannot
// be constructed. timeout bounds the whole job; zero means no timeout.
func (o *Orchestrator) Start(jobID string, timeout time.Duration) bool {
	o.activeMu.Lock()
	if o.activeID != "" {
		o.activeMu.Unlock()
		o.lc.Warn("Rejected start, another job is active.", "jobId", jobID, "activeJobId", o.activeID)
		return false
	}

	job, err := o.store.GetJob(jobID)
	if err != nil || job.State != StateNotStarted {
		o.activeMu.Unlock()
		o.lc.Warn("Rejected start, job not startable.", "jobId", jobID)
		return false
	}

	o.mu.Lock()
	cfg, ok := o.configs[jobID]
	o.mu.Unlock()
	if !ok {
		o.activeMu.Unlock()
		o.lc.Warn("Rejected start, job config unknown.", "jobId", jobID)
		return false
	}

	o.activeID = jobID
	o.activeMu.Unlock()

	// one job's tag history must not leak into the next
	o.deps.Registry.Reset()

	strat, err := NewStrategy(o.deps, cfg.Strategy)
	if err != nil {
		o.failJob(job, errors.Wrap(err, "strategy construction failed").Error())
		o.release(jobID)
		return false
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	job.State = StateRunning
	job.Started = time.Now().UnixMilli()
	if err := o.store.SaveJob(jobID, job); err != nil {
		o.lc.Error("Failed to persist job start.", "jobId", jobID, "error", err.Error())
	}

	finished := make(chan struct{})
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.done[jobID] = finished
	o.mu.Unlock()

	o.lc.Info("Job started.", "jobId", jobID, "timeout", timeout.String())

	go o.runJob(ctx, jobID, strat, finished)
	go o.statusLoop(ctx, jobID, finished)

	return true
}

// Stop signals the job's cancellation context. When no live context exists
// for jobID (the orchestrator restarted), it falls back to a best-effort
// direct state update; the underlying work, if any, is not guaranteed to
// stop in that case.
func (o *Orchestrator) Stop(jobID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()

	if ok {
		o.lc.Info("Stopping job.", "jobId", jobID)
		cancel()
		return true
	}

	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	job, err := o.store.GetJob(jobID)
	if err != nil || job.State.Terminal() {
		return false
	}
	job.State = StateCanceled
	job.Ended = time.Now().UnixMilli()
	if err := o.store.SaveJob(jobID, job); err != nil {
		o.lc.Error("Failed to persist canceled job.", "jobId", jobID, "error", err.Error())
		return false
	}
	o.lc.Warn("Canceled job without a live context; work may still be running.", "jobId", jobID)
	return true
}

// CleanupFinished releases the cancellation context and strategy resources
// of every job whose unit of work has completed, and repairs the exclusivity
// slot if it somehow still references a job that is no longer active.
func (o *Orchestrator) CleanupFinished() {
	o.mu.Lock()
	for id, finished := range o.done {
		select {
		case <-finished:
			if cancel, ok := o.cancels[id]; ok {
				cancel() // releases the context's timer
				delete(o.cancels, id)
			}
			delete(o.done, id)
			o.lc.Debug("Cleaned up finished job.", "jobId", id)
		default:
		}
	}
	o.mu.Unlock()

	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	if o.activeID == "" {
		return
	}
	job, err := o.store.GetJob(o.activeID)
	if err != nil || !job.State.Active() {
		o.lc.Warn("Clearing stale active-job slot.", "jobId", o.activeID)
		o.activeID = ""
	}
}

// runJob executes the strategy and resolves the job's terminal state. It
// never lets a strategy error or panic escape, and always releases the
// exclusivity slot.
func (o *Orchestrator) runJob(ctx context.Context, jobID string, strat Strategy, finished chan struct{}) {
	defer close(finished)
	defer o.release(jobID)

	err := o.runStrategy(ctx, strat)

	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	job, getErr := o.store.GetJob(jobID)
	if getErr != nil {
		o.lc.Error("Lost job record at completion.", "jobId", jobID, "error", getErr.Error())
		return
	}
	if job.State.Terminal() {
		// Stop's fallback path already settled it
		return
	}

	switch {
	case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		job.State = StateFailed
		job.Error = err.Error()
		o.lc.Error("Job failed.", "jobId", jobID, "error", err.Error())
	case ctx.Err() != nil:
		job.State = StateCanceled
		o.lc.Info("Job canceled.", "jobId", jobID)
	default:
		job.State = StateCompleted
		o.lc.Info("Job completed.", "jobId", jobID)
	}

	job.Ended = time.Now().UnixMilli()
	o.applyMetrics(&job)

	// free the slot before the terminal state becomes visible, so a
	// caller that observes it can immediately start the next job
	o.release(jobID)
	if err := o.store.SaveJob(jobID, job); err != nil {
		o.lc.Error("Failed to persist finished job.", "jobId", jobID, "error", err.Error())
	}
}

func (o *Orchestrator) runStrategy(ctx context.Context, strat Strategy) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("strategy panicked: %v", r)
		}
	}()
	return strat.Run(ctx)
}

// statusLoop periodically republishes the running job's progress and
// metrics until the job leaves Running or its context fires.
func (o *Orchestrator) statusLoop(ctx context.Context, jobID string, finished <-chan struct{}) {
	ticker := time.NewTicker(o.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-finished:
			return
		case <-ticker.C:
			o.saveMu.Lock()
			job, err := o.store.GetJob(jobID)
			if err != nil || job.State != StateRunning {
				o.saveMu.Unlock()
				return
			}
			o.applyMetrics(&job)
			if err := o.store.SaveJob(jobID, job); err != nil {
				o.lc.Error("Failed to publish job status.", "jobId", jobID, "error", err.Error())
			}
			o.saveMu.Unlock()

			if err := o.store.SaveMetrics(jobID, o.deps.Registry.Snapshot()); err != nil {
				o.lc.Error("Failed to publish job metrics.", "jobId", jobID, "error", err.Error())
			}
		}
	}
}

// applyMetrics folds the registry's current counters into the job record.
func (o *Orchestrator) applyMetrics(job *Job) {
	m := o.deps.Registry.Snapshot()
	job.Processed = m.Processed
	job.Successes = m.Successes
	job.Failures = m.Failures

	if m.Processed > 0 {
		pct := float64(m.Successes) / float64(m.Processed) * 100
		if pct > 100 {
			pct = 100
		}
		job.Progress = pct
	}

	if job.Started > 0 {
		end := time.Now().UnixMilli()
		if job.Ended > 0 {
			end = job.Ended
		}
		if elapsed := float64(end-job.Started) / 1000; elapsed > 0 {
			job.Throughput = float64(m.Processed) / elapsed
		}
	}
}

func (o *Orchestrator) failJob(job Job, msg string) {
	o.saveMu.Lock()
	defer o.saveMu.Unlock()

	job.State = StateFailed
	job.Error = msg
	job.Ended = time.Now().UnixMilli()
	if err := o.store.SaveJob(job.ID, job); err != nil {
		o.lc.Error("Failed to persist failed job.", "jobId", job.ID, "error", err.Error())
	}
}

// release frees the exclusivity slot if jobID still holds it, under the
// same mutex used to claim it.
func (o *Orchestrator) release(jobID string) {
	o.activeMu.Lock()
	if o.activeID == jobID {
		o.activeID = ""
	}
	o.activeMu.Unlock()
}

// ActiveJob returns the id currently holding the exclusivity slot, if any.
func (o *Orchestrator) ActiveJob() (string, bool) {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	return o.activeID, o.activeID != ""
}
