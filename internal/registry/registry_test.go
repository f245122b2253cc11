//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/epc"
)

const testFactoryID = "E280119012345678AABB"

func getTestingLogger() logger.LoggingClient {
	if testing.Verbose() {
		return logger.NewClient("test", "DEBUG")
	}
	return logger.NewMockClient()
}

func newTestRegistry() *Registry {
	return New(getTestingLogger(), nil, nil)
}

func TestGetOrAllocateSerialIdempotent(t *testing.T) {
	r := newTestRegistry()

	first := r.GetOrAllocateSerial(testFactoryID)
	second := r.GetOrAllocateSerial(testFactoryID)

	assert.Equal(t, first, second)
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{10}$`), first)

	other := r.GetOrAllocateSerial("E280119012345678AACC")
	assert.NotEqual(t, first, other)
}

func TestGetOrAllocateSerialConcurrent(t *testing.T) {
	r := newTestRegistry()

	const workers = 16
	serialsSeen := make([]string, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			serialsSeen[i] = r.GetOrAllocateSerial(testFactoryID)
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		require.Equal(t, serialsSeen[0], serialsSeen[i],
			"same factory ID must always get the same serial")
	}
}

func TestRecordExpectedIdentifier(t *testing.T) {
	r := newTestRegistry()

	const payload = "B20099999999999ABCDEF1234"
	r.RecordExpectedIdentifier(testFactoryID, payload, epc.BasicWithFactorySuffix)

	got, ok := r.GetExpectedIdentifier(testFactoryID)
	require.True(t, ok)
	assert.Equal(t, payload, got)

	rec, ok := r.Identifier(testFactoryID)
	require.True(t, ok)
	assert.Equal(t, epc.BasicWithFactorySuffix, rec.Method)
	assert.Empty(t, rec.Verified)

	_, ok = r.GetExpectedIdentifier("0000000000000000DEAD")
	assert.False(t, ok)
}

func TestComputeNextIdentifier(t *testing.T) {
	r := newTestRegistry()

	seed := "30741DD6AC42C21D00000ABC"
	a := r.ComputeNextIdentifier(seed, testFactoryID)
	b := r.ComputeNextIdentifier(seed, testFactoryID)
	c := r.ComputeNextIdentifier(seed, "E280119012345678AACC")

	assert.Len(t, a, epc.PayloadHexLength)
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{24}$`), a)
	assert.Equal(t, a, b, "derivation must be deterministic")
	assert.NotEqual(t, a, c, "distinct factory IDs must derive distinct payloads")
}

func TestRecordDetectionLastWriterWins(t *testing.T) {
	r := newTestRegistry()

	r.RecordDetection(testFactoryID, -60.5, 1, 1000)
	r.RecordDetection(testFactoryID, -48.0, 3, 900) // out-of-order timestamp

	op, ok := r.StateOf(testFactoryID)
	require.True(t, ok)
	assert.Equal(t, StatusCollected, op.Status)
	assert.EqualValues(t, 2, op.ReadCount)
	assert.EqualValues(t, 900, op.LastSeen)
	assert.Equal(t, -48.0, op.LastRSSI)
	assert.EqualValues(t, 3, op.LastAntenna)

	m := r.Snapshot()
	assert.EqualValues(t, 2, m.TotalReads)
}

func TestRecordOutcomeDuplicateTolerant(t *testing.T) {
	r := newTestRegistry()

	r.RecordOutcome(testFactoryID, "verify", true)
	r.RecordOutcome(testFactoryID, "verify", true)

	assert.True(t, r.HasOutcome(testFactoryID))
	assert.False(t, r.HasOutcome("0000000000000000DEAD"))

	m := r.Snapshot()
	assert.EqualValues(t, 1, m.Successes)
	assert.EqualValues(t, 1, m.Processed)
}

func TestReset(t *testing.T) {
	r := newTestRegistry()

	serial := r.GetOrAllocateSerial(testFactoryID)
	r.RecordExpectedIdentifier(testFactoryID, "B20099999999999ABCDEF123", epc.BasicWithFactorySuffix)
	r.RecordOutcome(testFactoryID, "verify", true)
	r.RecordDetection(testFactoryID, -50, 1, 1000)

	r.Reset()

	_, ok := r.GetExpectedIdentifier(testFactoryID)
	assert.False(t, ok)
	assert.False(t, r.HasOutcome(testFactoryID))
	_, ok = r.StateOf(testFactoryID)
	assert.False(t, ok)

	m := r.Snapshot()
	assert.Zero(t, m.Successes)
	assert.Zero(t, m.Failures)
	assert.Zero(t, m.TotalReads)
	assert.Zero(t, m.Locked)

	// a fresh allocation may or may not collide with the old serial value,
	// but the binding itself must be gone
	fresh := r.GetOrAllocateSerial(testFactoryID)
	assert.Len(t, fresh, 10)
	_ = serial
}

func TestMetricsNeverGoBackward(t *testing.T) {
	r := newTestRegistry()

	var prev Metrics
	for i := 0; i < 50; i++ {
		r.RecordDetection(fmt.Sprintf("E2801190123456780%03X", i), -55, 1, int64(i))
		if i%3 == 0 {
			r.RecordOutcome(fmt.Sprintf("E2801190123456780%03X", i), "verify", i%6 == 0)
		}
		m := r.Snapshot()
		assert.GreaterOrEqual(t, m.TotalReads, prev.TotalReads)
		assert.GreaterOrEqual(t, m.Successes, prev.Successes)
		assert.GreaterOrEqual(t, m.Failures, prev.Failures)
		assert.GreaterOrEqual(t, m.Processed, prev.Processed)
		prev = m
	}
}
