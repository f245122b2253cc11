//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package registry

import "time"

// Metrics is a consistent snapshot of the registry's aggregate counters.
// Counts only ever grow between resets.
type Metrics struct {
	TotalReads int64 `json:"total_reads"`
	Successes  int64 `json:"successes"`
	Failures   int64 `json:"failures"`
	Locked     int64 `json:"locked"`

	// Processed is Successes + Failures: tags with a recorded outcome.
	Processed int64 `json:"processed"`

	AvgWriteMs  float64 `json:"avg_write_ms"`
	AvgVerifyMs float64 `json:"avg_verify_ms"`

	// ReadRate is reads per second since the last reset.
	ReadRate float64 `json:"read_rate"`
}

// Snapshot returns the current aggregate metrics. Taken under the registry
// mutex, so the counts are mutually consistent even mid-job.
func (r *Registry) Snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Metrics{
		TotalReads: r.totalReads,
		Successes:  r.successes,
		Failures:   r.failures,
		Locked:     r.lockedCount,
		Processed:  r.successes + r.failures,
	}
	if r.writeCount > 0 {
		m.AvgWriteMs = float64(r.writeTotal.Milliseconds()) / float64(r.writeCount)
	}
	if r.verifyCount > 0 {
		m.AvgVerifyMs = float64(r.verifyTotal.Milliseconds()) / float64(r.verifyCount)
	}
	if elapsed := time.Since(r.epoch).Seconds(); elapsed > 0 {
		m.ReadRate = float64(r.totalReads) / elapsed
	}
	return m
}
