//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/jobs"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/registry"
)

func TestJobRoundTrip(t *testing.T) {
	m := NewMemory()

	_, err := m.GetJob("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	job := jobs.Job{ID: "j1", Name: "encode pallet 7", State: jobs.StateRunning, Processed: 12}
	require.NoError(t, m.SaveJob("j1", job))

	got, err := m.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, job, got)

	job.State = jobs.StateCompleted
	require.NoError(t, m.SaveJob("j1", job))
	got, err = m.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StateCompleted, got.State)
}

func TestMetricsRoundTrip(t *testing.T) {
	m := NewMemory()

	_, err := m.GetMetrics("j1")
	assert.True(t, errors.Is(err, ErrNotFound))

	metrics := registry.Metrics{TotalReads: 100, Successes: 40, Failures: 2, Processed: 42}
	require.NoError(t, m.SaveMetrics("j1", metrics))

	got, err := m.GetMetrics("j1")
	require.NoError(t, err)
	assert.Equal(t, metrics, got)
}

func TestLogLines(t *testing.T) {
	m := NewMemory()

	assert.Empty(t, m.LogLines("j1"))
	require.NoError(t, m.AppendLogLine("j1", "line one"))
	require.NoError(t, m.AppendLogLine("j1", "line two"))
	require.NoError(t, m.AppendLogLine("j2", "other job"))

	assert.Equal(t, []string{"line one", "line two"}, m.LogLines("j1"))
	assert.Equal(t, []string{"other job"}, m.LogLines("j2"))
}
