//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/epc"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/oplog"
)

// VerifyOutcome tells the caller what to do after a verification attempt.
type VerifyOutcome int

const (
	// OutcomeVerified: the observed payload matched; the tag is done.
	OutcomeVerified VerifyOutcome = iota
	// OutcomeRetry: mismatch with retries remaining; re-attempt the write.
	OutcomeRetry
	// OutcomeFailed: the tag is terminally failed for this job.
	OutcomeFailed
	// OutcomeCanceled: the job's cancellation fired before the attempt.
	OutcomeCanceled
)

// VerifyRequest carries one verification attempt into the pipeline.
type VerifyRequest struct {
	FactoryID string
	// Observed is the payload just read back from the tag.
	Observed string
	// MaxRetries bounds the tag's retry counter; once reached, the tag is
	// marked VerificationFailed.
	MaxRetries int
}

// RunVerificationPipeline compares the observed payload against the tag's
// expected identifier. On a match it marks the tag Verified, finalizes its
// timers, logs an operation-log row and records a success outcome. On a
// mismatch it consumes one retry and either signals the caller to re-attempt
// the write or terminally fails the tag. Safe to call concurrently for
// different tags; duplicate events for an already-settled tag are no-ops.
func (r *Registry) RunVerificationPipeline(ctx context.Context, req VerifyRequest) VerifyOutcome {
	if ctx.Err() != nil {
		return OutcomeCanceled
	}
	id := normalizeID(req.FactoryID)

	r.mu.Lock()
	st := r.tagLocked(id)

	// settled tags ignore late or duplicate verification reads
	switch st.op.Status {
	case StatusVerified, StatusLocked, StatusLockFailed:
		r.mu.Unlock()
		return OutcomeVerified
	case StatusVerificationFailed, StatusFailed:
		r.mu.Unlock()
		return OutcomeFailed
	}

	expected := st.identifier.Expected
	if expected != "" && epc.Matches(expected, req.Observed) {
		if !st.verifyStarted.IsZero() {
			st.op.VerifyTime = time.Since(st.verifyStarted)
			st.verifyStarted = time.Time{}
			r.verifyTotal += st.op.VerifyTime
			r.verifyCount++
		}
		st.op.Status = StatusVerified
		st.identifier.Verified = req.Observed
		r.recordOutcomeLocked(st, "verify", true)
		row := r.rowLocked(st, req.Observed)
		r.mu.Unlock()

		r.lc.Info("Tag verified.",
			"factoryId", id,
			"payload", req.Observed,
			"verifyMs", row.VerifyTimeMs)
		r.appendRow(row)
		return OutcomeVerified
	}

	st.op.Retries++
	if st.op.Retries < req.MaxRetries {
		retries := st.op.Retries
		r.mu.Unlock()

		r.lc.Debug("Verification mismatch, re-attempting write.",
			"factoryId", id,
			"expected", expected,
			"observed", req.Observed,
			"retries", retries)
		return OutcomeRetry
	}

	st.op.Status = StatusVerificationFailed
	r.recordOutcomeLocked(st, "verify", false)
	row := r.rowLocked(st, req.Observed)
	r.mu.Unlock()

	r.lc.Warn("Tag verification failed, out of retries.",
		"factoryId", id,
		"expected", expected,
		"observed", req.Observed,
		"maxRetries", req.MaxRetries)
	r.appendRow(row)
	return OutcomeFailed
}

// RecordWriteError absorbs a failed or timed-out write command. The error is
// logged, never propagated; the attempt consumes one retry. The return value
// tells the caller whether another attempt is allowed; when it is false the
// tag has been terminally failed.
func (r *Registry) RecordWriteError(factoryID string, err error, maxRetries int) (retry bool) {
	id := normalizeID(factoryID)

	r.mu.Lock()
	st := r.tagLocked(id)
	if st.op.Status.Terminal() {
		r.mu.Unlock()
		return false
	}
	st.op.Retries++
	if st.op.Retries < maxRetries {
		retries := st.op.Retries
		r.mu.Unlock()

		r.lc.Warn("Write command failed, will retry.",
			"factoryId", id,
			"retries", retries,
			"error", errors.Wrap(err, "hardware write failed").Error())
		return true
	}

	st.op.Status = StatusFailed
	r.recordOutcomeLocked(st, "verify", false)
	row := r.rowLocked(st, "")
	r.mu.Unlock()

	r.lc.Error("Write command failed, out of retries.",
		"factoryId", id,
		"maxRetries", maxRetries,
		"error", errors.Wrap(err, "hardware write failed").Error())
	r.appendRow(row)
	return false
}

// Lock locks the tag's EPC bank through the reader. Idempotent: a tag
// already recorded as Locked succeeds without issuing another command.
// Hardware failures are absorbed here and reported as false.
func (r *Registry) Lock(ctx context.Context, factoryID, credential string) bool {
	return r.lock(ctx, factoryID, credential, false)
}

// Permalock permanently locks the tag's EPC bank. Same contract as Lock.
func (r *Registry) Permalock(ctx context.Context, factoryID, credential string) bool {
	return r.lock(ctx, factoryID, credential, true)
}

func (r *Registry) lock(ctx context.Context, factoryID, credential string, permanent bool) bool {
	id := normalizeID(factoryID)

	r.mu.Lock()
	st := r.tagLocked(id)
	if st.op.Status == StatusLocked {
		r.mu.Unlock()
		return true
	}
	locker := r.locker
	r.mu.Unlock()

	if locker == nil {
		r.lc.Error("No lock collaborator configured.", "factoryId", id)
		return false
	}

	elapsed, err := locker.SubmitLock(ctx, id, credential, permanent)

	r.mu.Lock()
	if st.op.Status == StatusLocked {
		// a duplicate event locked the tag while our command was in
		// flight; it is counted exactly once
		r.mu.Unlock()
		return true
	}
	st.op.LockTime = elapsed
	if err != nil {
		st.op.Status = StatusLockFailed
		row := r.rowLocked(st, st.identifier.Verified)
		r.mu.Unlock()

		r.lc.Error("Lock command failed.",
			"factoryId", id,
			"permanent", permanent,
			"error", errors.Wrap(err, "hardware lock failed").Error())
		r.appendRow(row)
		return false
	}

	st.op.Status = StatusLocked
	r.lockedCount++
	row := r.rowLocked(st, st.identifier.Verified)
	r.mu.Unlock()

	r.lc.Info("Tag locked.", "factoryId", id, "permanent", permanent, "lockMs", elapsed.Milliseconds())
	r.appendRow(row)
	return true
}

// rowLocked builds an operation-log row from the tag's current state.
// Callers hold r.mu.
func (r *Registry) rowLocked(st *tagState, observed string) oplog.Row {
	status := st.op.Status
	var lockStatus string
	switch status {
	case StatusLocked, StatusLockFailed:
		lockStatus = string(status)
		status = StatusVerified
	}

	return oplog.Row{
		Timestamp:       time.Now().UnixMilli(),
		FactoryID:       st.op.FactoryID,
		ObservedPayload: observed,
		NewPayload:      st.identifier.Expected,
		VerifiedPayload: st.identifier.Verified,
		WriteTimeMs:     st.op.WriteTime.Milliseconds(),
		VerifyTimeMs:    st.op.VerifyTime.Milliseconds(),
		Status:          string(status),
		LockStatus:      lockStatus,
		LockTimeMs:      st.op.LockTime.Milliseconds(),
		AntennaID:       st.op.LastAntenna,
		RSSI:            st.op.LastRSSI,
	}
}

func (r *Registry) appendRow(row oplog.Row) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.Append(row); err != nil {
		r.lc.Error("Failed to append operation log row.",
			"factoryId", row.FactoryID, "error", err.Error())
	}
}
