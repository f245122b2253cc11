//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Simulator is an in-process Reader backed by a bank of fake tags. Tests and
// the demo wiring use it in place of the LLRP device service. Failure modes
// are injectable per tag so the registry's retry paths can be exercised.
type Simulator struct {
	mu        sync.Mutex
	connected bool
	running   bool
	tags      map[string]*simTag
	events    chan TagEvent
	settings  Settings

	// ReadBackAfterWrite makes a successful write immediately emit a
	// fresh observation of the tag, mimicking a reader that re-reads the
	// tag while it is still in field. On by default.
	ReadBackAfterWrite bool

	// OpDelay is added to every write/lock command, for timing tests.
	OpDelay time.Duration
}

type simTag struct {
	payload     string
	rssi        float64
	antenna     uint16
	locked      bool
	permalocked bool

	// failWrites makes the next n writes fail outright.
	failWrites int
	// corruptWrites makes the next n writes apply a damaged payload.
	corruptWrites int
	// failLocks makes the next n lock commands fail.
	failLocks int
}

func NewSimulator() *Simulator {
	return &Simulator{
		tags:               make(map[string]*simTag),
		events:             make(chan TagEvent, 64),
		ReadBackAfterWrite: true,
	}
}

// AddTag places a fake tag in the simulator's field.
func (s *Simulator) AddTag(factoryID, payload string, rssi float64, antenna uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tags[strings.ToUpper(factoryID)] = &simTag{
		payload: payload,
		rssi:    rssi,
		antenna: antenna,
	}
}

// FailNextWrites makes the next n write commands for factoryID fail.
func (s *Simulator) FailNextWrites(factoryID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tags[strings.ToUpper(factoryID)]; ok {
		t.failWrites = n
	}
}

// CorruptNextWrites makes the next n writes for factoryID store a damaged
// payload, so the following verification read observes a mismatch.
func (s *Simulator) CorruptNextWrites(factoryID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tags[strings.ToUpper(factoryID)]; ok {
		t.corruptWrites = n
	}
}

// FailNextLocks makes the next n lock commands for factoryID fail.
func (s *Simulator) FailNextLocks(factoryID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tags[strings.ToUpper(factoryID)]; ok {
		t.failLocks = n
	}
}

// Payload returns the payload currently on the fake tag.
func (s *Simulator) Payload(factoryID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tags[strings.ToUpper(factoryID)]; ok {
		return t.payload
	}
	return ""
}

// Locked reports the fake tag's lock state.
func (s *Simulator) Locked(factoryID string) (locked, permalocked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tags[strings.ToUpper(factoryID)]; ok {
		return t.locked, t.permalocked
	}
	return false, false
}

func (s *Simulator) Connect(hostname string) error {
	if strings.TrimSpace(hostname) == "" {
		return errors.New("simulator: empty hostname")
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Simulator) ApplySettings(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.New("simulator: not connected")
	}
	s.settings = settings
	return nil
}

func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.New("simulator: not connected")
	}
	s.running = true
	return nil
}

func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *Simulator) Events() <-chan TagEvent {
	return s.events
}

// EmitRead pushes one observation of factoryID into the event stream, as if
// an antenna had just seen the tag. Returns false for an unknown tag or a
// stopped reader.
func (s *Simulator) EmitRead(factoryID string) bool {
	s.mu.Lock()
	t, ok := s.tags[strings.ToUpper(factoryID)]
	if !ok || !s.running {
		s.mu.Unlock()
		return false
	}
	ev := s.eventLocked(strings.ToUpper(factoryID), t)
	s.mu.Unlock()

	s.events <- ev
	return true
}

// EmitAll emits one observation of every tag in the field. A stopped reader
// emits nothing.
func (s *Simulator) EmitAll() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	evs := make([]TagEvent, 0, len(s.tags))
	for id, t := range s.tags {
		evs = append(evs, s.eventLocked(id, t))
	}
	s.mu.Unlock()

	for _, ev := range evs {
		s.events <- ev
	}
}

func (s *Simulator) eventLocked(id string, t *simTag) TagEvent {
	return TagEvent{
		FactoryID:   id,
		Observed:    t.payload,
		RSSI:        t.rssi,
		AntennaPort: t.antenna,
		Timestamp:   time.Now().UnixMilli(),
	}
}

func (s *Simulator) SubmitWrite(ctx context.Context, factoryID, payload, credential string) (time.Duration, error) {
	started := time.Now()
	if err := s.delay(ctx); err != nil {
		return time.Since(started), err
	}

	s.mu.Lock()
	t, ok := s.tags[strings.ToUpper(factoryID)]
	if !ok {
		s.mu.Unlock()
		return time.Since(started), errors.Errorf("simulator: tag %s not in field", factoryID)
	}
	if t.failWrites > 0 {
		t.failWrites--
		s.mu.Unlock()
		return time.Since(started), errors.Errorf("simulator: write to %s failed", factoryID)
	}
	if t.permalocked || t.locked {
		s.mu.Unlock()
		return time.Since(started), errors.Errorf("simulator: tag %s is locked", factoryID)
	}
	if t.corruptWrites > 0 {
		t.corruptWrites--
		t.payload = corrupt(payload)
	} else {
		t.payload = payload
	}
	readBack := s.ReadBackAfterWrite
	var ev TagEvent
	if readBack {
		ev = s.eventLocked(strings.ToUpper(factoryID), t)
	}
	s.mu.Unlock()

	if readBack {
		s.events <- ev
	}
	return time.Since(started), nil
}

func (s *Simulator) SubmitLock(ctx context.Context, factoryID, credential string, permanent bool) (time.Duration, error) {
	started := time.Now()
	if err := s.delay(ctx); err != nil {
		return time.Since(started), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[strings.ToUpper(factoryID)]
	if !ok {
		return time.Since(started), errors.Errorf("simulator: tag %s not in field", factoryID)
	}
	if t.failLocks > 0 {
		t.failLocks--
		return time.Since(started), errors.Errorf("simulator: lock of %s failed", factoryID)
	}
	t.locked = true
	if permanent {
		t.permalocked = true
	}
	return time.Since(started), nil
}

func (s *Simulator) delay(ctx context.Context) error {
	if s.OpDelay <= 0 {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "simulator: command aborted")
		}
		return nil
	}
	select {
	case <-time.After(s.OpDelay):
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "simulator: command timed out")
	}
}

func corrupt(payload string) string {
	if payload == "" {
		return "0"
	}
	b := []byte(payload)
	if b[len(b)-1] == 'F' {
		b[len(b)-1] = '0'
	} else {
		b[len(b)-1] = 'F'
	}
	return string(b)
}
