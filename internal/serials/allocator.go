//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package serials

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
)

// SerialLength is the fixed width of every allocated serial, in hex characters.
const SerialLength = 10

// Allocator hands out short serial numbers that are unique for its lifetime.
// A single Allocator is shared by every event-delivery goroutine of the
// active job, so all access to the issued set goes through one mutex.
type Allocator struct {
	mu     sync.Mutex
	issued map[string]struct{}
}

func NewAllocator() *Allocator {
	return &Allocator{
		issued: make(map[string]struct{}),
	}
}

// GenerateUnique returns a new 10-character uppercase hex serial that has not
// been issued since the last Reset. Collisions are resolved internally by
// regenerating, so this never fails.
func (a *Allocator) GenerateUnique() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		s := randomSerial()
		if _, taken := a.issued[s]; taken {
			continue
		}
		a.issued[s] = struct{}{}
		return s
	}
}

// IsUsed reports whether serial has been issued since the last Reset.
func (a *Allocator) IsUsed(serial string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.issued[strings.ToUpper(serial)]
	return ok
}

// Reset forgets every issued serial. The registry calls this when it resets
// itself at the start of a new job; it exists to bound memory, not to relax
// uniqueness, which holds regardless.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.issued = make(map[string]struct{})
}

func randomSerial() string {
	b := make([]byte, SerialLength/2)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand reads from the kernel and does not fail on any
		// platform we run on; a broken entropy source is unrecoverable.
		panic(err)
	}
	return strings.ToUpper(hex.EncodeToString(b))
}
