//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/pkg/errors"

	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/epc"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/reader"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/registry"
)

// StrategyKind names a strategy family.
type StrategyKind string

const (
	// KindProvision serializes, writes, verifies and optionally locks an
	// identifier onto every tag the reader presents.
	KindProvision StrategyKind = "provision"

	// KindInventory only observes: it counts unique tags and records a
	// read outcome per tag.
	KindInventory StrategyKind = "inventory"
)

// StrategyConfig is a tagged union: Kind selects the family and exactly one
// family section is consulted.
type StrategyConfig struct {
	Kind StrategyKind

	Provision *ProvisionConfig
	Inventory *InventoryConfig
}

// ProvisionConfig configures the provision family.
type ProvisionConfig struct {
	ProductReference string
	Method           epc.Method
	Params           epc.Params

	// Credential is the access password sent with write and lock commands.
	Credential string

	// MaxRetries bounds write/verify attempts per tag.
	MaxRetries int

	// OpTimeout bounds each individual reader command; an expired command
	// counts as a failed attempt.
	OpTimeout time.Duration

	Lock      bool
	Permalock bool
}

// InventoryConfig configures the inventory family. All knobs are optional.
type InventoryConfig struct {
	// TargetCount, when positive, completes the job once that many unique
	// tags have been observed.
	TargetCount int
}

const (
	defaultMaxRetries = 3
	defaultOpTimeout  = 2 * time.Second
)

// Deps is everything a strategy may touch, owned by the composition root
// and passed by reference.
type Deps struct {
	Logger   logger.LoggingClient
	Registry *registry.Registry
	Reader   reader.Reader
}

// Strategy is one job's unit of work. Run blocks until the work is done or
// ctx is cancelled, checking ctx at every iteration boundary.
type Strategy interface {
	Run(ctx context.Context) error
}

// Factory builds a strategy from its typed config. Every family registers
// one factory of this uniform signature.
type Factory func(Deps, StrategyConfig) (Strategy, error)

var factories = map[StrategyKind]Factory{
	KindProvision: newProvisionStrategy,
	KindInventory: newInventoryStrategy,
}

// NewStrategy looks the family up in the factory table and builds it.
func NewStrategy(deps Deps, cfg StrategyConfig) (Strategy, error) {
	factory, ok := factories[cfg.Kind]
	if !ok {
		return nil, errors.Errorf("unknown strategy kind %q", cfg.Kind)
	}
	return factory(deps, cfg)
}

type provisionStrategy struct {
	deps Deps
	cfg  ProvisionConfig
}

func newProvisionStrategy(deps Deps, cfg StrategyConfig) (Strategy, error) {
	if cfg.Provision == nil {
		return nil, errors.New("provision strategy requires a Provision config section")
	}
	pc := *cfg.Provision
	if pc.ProductReference == "" {
		return nil, errors.New("provision strategy requires a product reference")
	}
	if pc.Method == "" {
		pc.Method = epc.BasicWithFactorySuffix
	}
	if pc.MaxRetries <= 0 {
		pc.MaxRetries = defaultMaxRetries
	}
	if pc.OpTimeout <= 0 {
		pc.OpTimeout = defaultOpTimeout
	}
	return &provisionStrategy{deps: deps, cfg: pc}, nil
}

func (s *provisionStrategy) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.deps.Reader.Events():
			if !ok {
				return nil
			}
			s.handle(ctx, ev)
		}
	}
}

// handle advances one tag through the pipeline based on its current state.
// Reader failures never escape; they consume retries inside the registry.
func (s *provisionStrategy) handle(ctx context.Context, ev reader.TagEvent) {
	reg := s.deps.Registry
	reg.RecordDetection(ev.FactoryID, ev.RSSI, ev.AntennaPort, ev.Timestamp)

	op, _ := reg.StateOf(ev.FactoryID)
	switch op.Status {
	case registry.StatusCollected:
		if _, recorded := reg.GetExpectedIdentifier(ev.FactoryID); !recorded {
			if !s.prepare(ev.FactoryID) {
				return
			}
		}
		// expected identifier is in place but no write has stuck yet
		s.write(ctx, ev.FactoryID)

	case registry.StatusWritten:
		outcome := reg.RunVerificationPipeline(ctx, registry.VerifyRequest{
			FactoryID:  ev.FactoryID,
			Observed:   ev.Observed,
			MaxRetries: s.cfg.MaxRetries,
		})
		switch outcome {
		case registry.OutcomeRetry:
			s.write(ctx, ev.FactoryID)
		case registry.OutcomeVerified:
			s.lock(ctx, ev.FactoryID)
		}

	case registry.StatusVerified:
		s.lock(ctx, ev.FactoryID)
	}
}

// prepare allocates the tag's serial and records its expected identifier.
func (s *provisionStrategy) prepare(factoryID string) bool {
	reg := s.deps.Registry

	serial := reg.GetOrAllocateSerial(factoryID)
	payload, used, err := epc.Encode(factoryID, s.cfg.ProductReference, s.cfg.Method, s.cfg.Params)
	if err != nil {
		s.deps.Logger.Error("Identifier encoding rejected tag.",
			"factoryId", factoryID, "error", err.Error())
		reg.RecordOutcome(factoryID, "encode", false)
		return false
	}
	if used != s.cfg.Method {
		s.deps.Logger.Warn("Encoding fell back.",
			"factoryId", factoryID,
			"requested", string(s.cfg.Method),
			"used", string(used))
	}

	reg.RecordExpectedIdentifier(factoryID, payload, used)
	s.deps.Logger.Debug("Tag prepared.",
		"factoryId", factoryID, "serial", serial, "payload", payload)
	return true
}

// write submits the expected identifier to the tag. A failed or timed-out
// command is absorbed by the registry and consumes one retry.
func (s *provisionStrategy) write(ctx context.Context, factoryID string) {
	reg := s.deps.Registry

	payload, ok := reg.GetExpectedIdentifier(factoryID)
	if !ok {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	reg.StartWriteTimer(factoryID)
	_, err := s.deps.Reader.SubmitWrite(opCtx, factoryID, payload, s.cfg.Credential)
	reg.StopWriteTimer(factoryID)
	if err != nil {
		reg.RecordWriteError(factoryID, err, s.cfg.MaxRetries)
		return
	}

	reg.MarkWritten(factoryID)
	reg.StartVerifyTimer(factoryID)
}

func (s *provisionStrategy) lock(ctx context.Context, factoryID string) {
	if !s.cfg.Lock && !s.cfg.Permalock {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	if s.cfg.Permalock {
		s.deps.Registry.Permalock(opCtx, factoryID, s.cfg.Credential)
		return
	}
	s.deps.Registry.Lock(opCtx, factoryID, s.cfg.Credential)
}

type inventoryStrategy struct {
	deps Deps
	cfg  InventoryConfig

	unique int
}

func newInventoryStrategy(deps Deps, cfg StrategyConfig) (Strategy, error) {
	var ic InventoryConfig
	if cfg.Inventory != nil {
		ic = *cfg.Inventory
	}
	return &inventoryStrategy{deps: deps, cfg: ic}, nil
}

func (s *inventoryStrategy) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.deps.Reader.Events():
			if !ok {
				return nil
			}
			reg := s.deps.Registry
			reg.RecordDetection(ev.FactoryID, ev.RSSI, ev.AntennaPort, ev.Timestamp)
			if !reg.HasOutcome(ev.FactoryID) {
				reg.GetOrAllocateSerial(ev.FactoryID)
				reg.RecordOutcome(ev.FactoryID, "read", true)
				s.unique++
			}
			if s.cfg.TargetCount > 0 && s.unique >= s.cfg.TargetCount {
				return nil
			}
		}
	}
}
