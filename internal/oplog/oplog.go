//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package oplog renders the per-tag operation log consumed by downstream
// tooling. The column order is fixed and load-bearing; do not reorder.
package oplog

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Header is the fixed CSV column order.
var Header = []string{
	"Timestamp", "FactoryID", "ObservedPayload", "NewPayload", "VerifiedPayload",
	"WriteTimeMs", "VerifyTimeMs", "Status", "LockStatus", "LockTimeMs",
	"AntennaID", "RSSI",
}

// Row is one operation-log entry for one tag.
type Row struct {
	Timestamp       int64 // unix ms
	FactoryID       string
	ObservedPayload string
	NewPayload      string
	VerifiedPayload string
	WriteTimeMs     int64
	VerifyTimeMs    int64
	Status          string
	LockStatus      string
	LockTimeMs      int64
	AntennaID       uint16
	RSSI            float64
}

// Record renders the row in Header order.
func (r Row) Record() []string {
	return []string{
		time.UnixMilli(r.Timestamp).UTC().Format("2006-01-02T15:04:05.000Z"),
		r.FactoryID,
		r.ObservedPayload,
		r.NewPayload,
		r.VerifiedPayload,
		strconv.FormatInt(r.WriteTimeMs, 10),
		strconv.FormatInt(r.VerifyTimeMs, 10),
		r.Status,
		r.LockStatus,
		strconv.FormatInt(r.LockTimeMs, 10),
		strconv.FormatUint(uint64(r.AntennaID), 10),
		strconv.FormatFloat(r.RSSI, 'f', 1, 64),
	}
}

// Line renders the row as a single CSV line without a trailing newline.
func (r Row) Line() string {
	var b strings.Builder
	cw := csv.NewWriter(&b)
	_ = cw.Write(r.Record())
	cw.Flush()
	return strings.TrimRight(b.String(), "\n")
}

// Sink receives operation-log rows. Implementations must be safe for
// concurrent use; the registry appends from event-delivery goroutines.
type Sink interface {
	Append(Row) error
}

// LineFunc adapts a line-oriented destination, such as the persistence
// collaborator's appendLogLine, into a Sink.
type LineFunc func(line string) error

func (f LineFunc) Append(r Row) error {
	return f(r.Line())
}

// Writer streams rows as CSV to an io.Writer, emitting the header first.
type Writer struct {
	mu    sync.Mutex
	cw    *csv.Writer
	wrote bool
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{cw: csv.NewWriter(w)}
}

func (w *Writer) Append(r Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.wrote {
		if err := w.cw.Write(Header); err != nil {
			return errors.Wrap(err, "failed to write operation log header")
		}
		w.wrote = true
	}
	if err := w.cw.Write(r.Record()); err != nil {
		return errors.Wrap(err, "failed to write operation log row")
	}
	w.cw.Flush()
	return errors.Wrap(w.cw.Error(), "failed to flush operation log")
}
