//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package reader defines the contract between this service and the RFID
// reader hardware. The real driver lives in a separate device service; this
// package carries only the slice of it the provisioning core consumes, plus
// an in-process simulator used by tests and demo wiring.
package reader

import (
	"context"
	"time"
)

// TagEvent is one asynchronous tag observation delivered by a reader.
type TagEvent struct {
	// FactoryID is the tag's permanent vendor-burned identifier (TID),
	// uppercase hex.
	FactoryID string

	// Observed is the payload currently in the tag's EPC bank.
	Observed string

	RSSI        float64
	AntennaPort uint16

	// Timestamp is unix milliseconds at the antenna.
	Timestamp int64
}

// Settings carries the reader knobs the provisioning core cares about.
// Everything else (frequency plans, vendor extensions) stays in the driver.
type Settings struct {
	// PowerCentiDBm is the transmit power target in hundredths of a dBm,
	// e.g. 3000 for 30 dBm.
	PowerCentiDBm uint16

	// AntennaPorts lists the enabled antenna ports; empty enables all.
	AntennaPorts []uint16

	// ReportInterval is how often the reader batches tag reports.
	ReportInterval time.Duration
}

// Reader is the hardware collaborator. Connect, ApplySettings, Start and
// Stop manage the reader session; Events delivers tag observations until
// Stop closes the channel. SubmitWrite and SubmitLock are the Go rendering
// of the driver's asynchronous command/result pairs: they block until the
// result arrives or ctx expires, and report how long the tag operation took.
type Reader interface {
	Connect(hostname string) error
	ApplySettings(Settings) error
	Start() error
	Stop() error
	Events() <-chan TagEvent

	SubmitWrite(ctx context.Context, factoryID, payload, credential string) (time.Duration, error)
	SubmitLock(ctx context.Context, factoryID, credential string, permanent bool) (time.Duration, error)
}
