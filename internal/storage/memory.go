//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the in-process implementation of the persistence
// collaborator. Durable on-disk persistence belongs to an external service;
// this store keeps jobs and metrics in a go-cache instance and log lines in
// memory, which is all the core and its tests need.
package storage

import (
	"sync"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/jobs"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/registry"
)

// ErrNotFound reports a missing job or metrics record.
var ErrNotFound = errors.New("not found")

const (
	jobPrefix     = "job:"
	metricsPrefix = "metrics:"
)

// Memory implements jobs.Store.
type Memory struct {
	cache *gocache.Cache

	mu   sync.Mutex
	logs map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		cache: gocache.New(gocache.NoExpiration, 0),
		logs:  make(map[string][]string),
	}
}

func (m *Memory) GetJob(id string) (jobs.Job, error) {
	v, ok := m.cache.Get(jobPrefix + id)
	if !ok {
		return jobs.Job{}, errors.Wrapf(ErrNotFound, "job %s", id)
	}
	job, ok := v.(jobs.Job)
	if !ok {
		return jobs.Job{}, errors.Errorf("job %s has unexpected type %T", id, v)
	}
	return job, nil
}

func (m *Memory) SaveJob(id string, j jobs.Job) error {
	m.cache.Set(jobPrefix+id, j, gocache.NoExpiration)
	return nil
}

func (m *Memory) AppendLogLine(jobID, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[jobID] = append(m.logs[jobID], line)
	return nil
}

// LogLines returns a copy of the job's accumulated operation-log lines.
func (m *Memory) LogLines(jobID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.logs[jobID]...)
}

func (m *Memory) GetMetrics(id string) (registry.Metrics, error) {
	v, ok := m.cache.Get(metricsPrefix + id)
	if !ok {
		return registry.Metrics{}, errors.Wrapf(ErrNotFound, "metrics for job %s", id)
	}
	metrics, ok := v.(registry.Metrics)
	if !ok {
		return registry.Metrics{}, errors.Errorf("metrics for job %s have unexpected type %T", id, v)
	}
	return metrics, nil
}

func (m *Memory) SaveMetrics(id string, metrics registry.Metrics) error {
	m.cache.Set(metricsPrefix+id, metrics, gocache.NoExpiration)
	return nil
}
