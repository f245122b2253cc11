//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package jobs owns the job lifecycle: registration, the single-active-job
// exclusivity slot, cooperative cancellation with timeout, and background
// progress publication. Tag-level work is delegated to strategies.
package jobs

import (
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/registry"
)

// State is a job's lifecycle state. Transitions are monotonic toward a
// terminal state; Paused is reserved for future use and no operation
// currently enters it, but an (externally restored) Paused job still holds
// the exclusivity slot.
type State string

const (
	StateNotStarted State = "NotStarted"
	StateRunning    State = "Running"
	StatePaused     State = "Paused"
	StateCompleted  State = "Completed"
	StateFailed     State = "Failed"
	StateCanceled   State = "Canceled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

// Active reports whether a job in this state holds the exclusivity slot.
func (s State) Active() bool {
	return s == StateRunning || s == StatePaused
}

// Job is the persisted job record. Only the orchestrator mutates it.
type Job struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Strategy StrategyKind `json:"strategy"`
	State    State        `json:"state"`

	Started int64 `json:"started"` // unix ms, zero until Start
	Ended   int64 `json:"ended"`   // unix ms, zero until terminal

	Progress  float64 `json:"progress"` // 0-100
	Processed int64   `json:"processed"`
	Successes int64   `json:"successes"`
	Failures  int64   `json:"failures"`

	// Throughput is tags processed per second over the job's lifetime.
	Throughput float64 `json:"throughput"`

	Error string `json:"error,omitempty"`
}

// Config registers a new job.
type Config struct {
	Name     string
	Strategy StrategyConfig
}

// Store is the persistence collaborator as the orchestrator consumes it.
// Implementations must be safe for concurrent use.
type Store interface {
	GetJob(id string) (Job, error)
	SaveJob(id string, j Job) error
	AppendLogLine(jobID, line string) error
	GetMetrics(id string) (registry.Metrics, error)
	SaveMetrics(id string, m registry.Metrics) error
}
