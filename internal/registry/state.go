//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"time"

	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/epc"
)

// Status is a tag's position in the write/verify/lock pipeline.
type Status string

const (
	StatusCollected          Status = "Collected"
	StatusWritten            Status = "Written"
	StatusVerified           Status = "Verified"
	StatusVerificationFailed Status = "VerificationFailed"
	StatusLocked             Status = "Locked"
	StatusLockFailed         Status = "LockFailed"
	StatusFailed             Status = "Failed"
)

// Terminal reports whether no further pipeline work is possible for a tag
// in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusVerificationFailed, StatusLocked, StatusLockFailed, StatusFailed:
		return true
	}
	return false
}

// TagOperation is the per-tag view handed out by StateOf. It is a copy;
// mutating it has no effect on the registry.
type TagOperation struct {
	FactoryID   string
	Status      Status
	ReadCount   int64
	LastSeen    int64 // unix ms
	LastRSSI    float64
	LastAntenna uint16
	Retries     int

	WriteTime  time.Duration
	VerifyTime time.Duration
	LockTime   time.Duration
}

// IdentifierRecord tracks a tag's expected and verified payloads and which
// encoding method actually produced the expected one (which is how an
// encoding fallback stays observable).
type IdentifierRecord struct {
	Expected string
	Verified string
	Method   epc.Method
}

// tagState is the registry-internal mutable record. All access happens with
// the registry mutex held.
type tagState struct {
	op TagOperation

	identifier IdentifierRecord

	// outcomes maps a label ("verify", "read", ...) to the recorded
	// success flag; a tag with any outcome counts as processed.
	outcomes map[string]bool

	writeStarted  time.Time
	verifyStarted time.Time
}

func newTagState(factoryID string) *tagState {
	return &tagState{
		op: TagOperation{
			FactoryID: factoryID,
			Status:    StatusCollected,
		},
		outcomes: make(map[string]bool),
	}
}
