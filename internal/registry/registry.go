//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the process-wide tag-operation state machine: one
// record per physical tag, keyed by its factory ID, driven by asynchronous
// reader events and the write/verify/lock pipeline. A single Registry is
// shared by every event-delivery goroutine of the active job, so every
// exported operation is safe for concurrent use and tolerates duplicate or
// out-of-order events (last-writer-wins timestamps, monotonic counters).
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"

	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/epc"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/oplog"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/serials"
)

// Locker is the slice of the reader collaborator the registry needs for
// lock commands. The rest of the reader surface stays with the strategies.
type Locker interface {
	SubmitLock(ctx context.Context, factoryID, credential string, permanent bool) (time.Duration, error)
}

// Registry is the tag-operation registry. Construct one per process with
// New and share it by reference; tests build isolated instances.
type Registry struct {
	lc     logger.LoggingClient
	locker Locker
	sink   oplog.Sink

	allocator *serials.Allocator

	mu      sync.Mutex
	tags    map[string]*tagState
	serials map[string]string

	successes   int64
	failures    int64
	lockedCount int64
	totalReads  int64

	writeTotal  time.Duration
	writeCount  int64
	verifyTotal time.Duration
	verifyCount int64

	epoch time.Time
}

// New builds a Registry. locker may be nil when lock commands are never
// issued (read-only jobs); sink may be nil to discard the operation log.
func New(lc logger.LoggingClient, locker Locker, sink oplog.Sink) *Registry {
	return &Registry{
		lc:        lc,
		locker:    locker,
		sink:      sink,
		allocator: serials.NewAllocator(),
		tags:      make(map[string]*tagState),
		serials:   make(map[string]string),
		epoch:     time.Now(),
	}
}

// SetSink replaces the operation-log sink. Called between jobs, before the
// job's first event can arrive.
func (r *Registry) SetSink(sink oplog.Sink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// RecordDetection ingests one tag observation: creates the per-tag record on
// first sight and updates read count, last-seen, RSSI and antenna on every
// subsequent one.
func (r *Registry) RecordDetection(factoryID string, rssi float64, antenna uint16, timestampMs int64) {
	factoryID = normalizeID(factoryID)
	if factoryID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.tagLocked(factoryID)
	st.op.ReadCount++
	st.op.LastSeen = timestampMs
	st.op.LastRSSI = rssi
	st.op.LastAntenna = antenna
	r.totalReads++
}

// StateOf returns a copy of the tag's current operation state.
func (r *Registry) StateOf(factoryID string) (TagOperation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.tags[normalizeID(factoryID)]
	if !ok {
		return TagOperation{}, false
	}
	return st.op, true
}

// GetOrAllocateSerial returns the serial bound to factoryID, allocating one
// on first request. Repeated calls return the same serial; distinct factory
// IDs never share one.
func (r *Registry) GetOrAllocateSerial(factoryID string) string {
	factoryID = normalizeID(factoryID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.serials[factoryID]; ok {
		return s
	}
	s := r.allocator.GenerateUnique()
	r.serials[factoryID] = s
	return s
}

// RecordExpectedIdentifier stores the payload about to be written to the
// tag, along with the encoding method that produced it.
func (r *Registry) RecordExpectedIdentifier(factoryID, payload string, method epc.Method) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.tagLocked(normalizeID(factoryID))
	st.identifier.Expected = payload
	st.identifier.Method = method
}

// GetExpectedIdentifier returns the payload previously recorded for the tag.
func (r *Registry) GetExpectedIdentifier(factoryID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.tags[normalizeID(factoryID)]
	if !ok || st.identifier.Expected == "" {
		return "", false
	}
	return st.identifier.Expected, true
}

// Identifier returns a copy of the tag's full identifier record.
func (r *Registry) Identifier(factoryID string) (IdentifierRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.tags[normalizeID(factoryID)]
	if !ok {
		return IdentifierRecord{}, false
	}
	return st.identifier, true
}

// ComputeNextIdentifier derives a fresh payload from the current one. The
// derivation is deterministic and tag-specific: the same seed payload on two
// different tags produces two different results.
func (r *Registry) ComputeNextIdentifier(currentPayload, factoryID string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(currentPayload) + "|" + normalizeID(factoryID)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:epc.PayloadHexLength]
}

// RecordOutcome stores a labelled per-tag result flag and bumps the global
// success or failure counter. A duplicate outcome for the same tag and label
// is ignored, so replayed events cannot inflate the counters.
func (r *Registry) RecordOutcome(factoryID, label string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recordOutcomeLocked(r.tagLocked(normalizeID(factoryID)), label, success)
}

func (r *Registry) recordOutcomeLocked(st *tagState, label string, success bool) {
	if _, dup := st.outcomes[label]; dup {
		return
	}
	st.outcomes[label] = success
	if success {
		r.successes++
	} else {
		r.failures++
	}
}

// HasOutcome reports whether any outcome has been recorded for the tag,
// i.e. whether it already counts as processed.
func (r *Registry) HasOutcome(factoryID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.tags[normalizeID(factoryID)]
	return ok && len(st.outcomes) > 0
}

// StartWriteTimer marks the beginning of a write attempt for the tag.
func (r *Registry) StartWriteTimer(factoryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tagLocked(normalizeID(factoryID)).writeStarted = time.Now()
}

// StopWriteTimer records the elapsed write duration for the tag.
func (r *Registry) StopWriteTimer(factoryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.tagLocked(normalizeID(factoryID))
	if st.writeStarted.IsZero() {
		return
	}
	st.op.WriteTime = time.Since(st.writeStarted)
	st.writeStarted = time.Time{}
	r.writeTotal += st.op.WriteTime
	r.writeCount++
}

// StartVerifyTimer marks the beginning of a verification read for the tag.
func (r *Registry) StartVerifyTimer(factoryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tagLocked(normalizeID(factoryID)).verifyStarted = time.Now()
}

// MarkWritten moves the tag to Written after a successful write command.
func (r *Registry) MarkWritten(factoryID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.tagLocked(normalizeID(factoryID))
	if !st.op.Status.Terminal() {
		st.op.Status = StatusWritten
	}
}

// Reset clears every per-tag record, every counter, and the serial
// allocator. The orchestrator calls it before each new job so one job's tag
// history cannot leak into the next.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tags = make(map[string]*tagState)
	r.serials = make(map[string]string)
	r.successes = 0
	r.failures = 0
	r.lockedCount = 0
	r.totalReads = 0
	r.writeTotal = 0
	r.writeCount = 0
	r.verifyTotal = 0
	r.verifyCount = 0
	r.epoch = time.Now()
	r.allocator.Reset()
}

// tagLocked returns the tag record, creating it if needed. Callers hold r.mu.
func (r *Registry) tagLocked(factoryID string) *tagState {
	st, ok := r.tags[factoryID]
	if !ok {
		st = newTagState(factoryID)
		r.tags[factoryID] = st
	}
	return st
}

func normalizeID(factoryID string) string {
	return strings.ToUpper(strings.TrimSpace(factoryID))
}
