//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package cmd is the composition root: it loads configuration, wires the
// registry, reader and orchestrator together, and runs one provisioning job
// until it finishes or the process is signalled.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v2/clients/logger"
	"github.com/spf13/cobra"

	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/config"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/epc"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/jobs"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/oplog"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/reader"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/registry"
	"github.impcloud.net/RSP-Inventory-Suite/rfid-tag-provisioning/internal/storage"
)

const serviceKey = "rfid-tag-provisioning"

var (
	cfgFile  string
	jobName  string
	simTags  int
	strategy string
)

var rootCmd = &cobra.Command{
	Use:   serviceKey,
	Short: "Serialize, write, verify and lock identifiers on RFID tags",
	Long: `Runs a provisioning job against a fleet of RFID readers: every tag the
readers present is assigned a unique serial, encoded an identifier payload,
written, read back for verification, and optionally locked. Without real
hardware the built-in simulator stands in for the reader.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.Flags().StringVar(&jobName, "job-name", "provisioning", "display name for the job")
	rootCmd.Flags().StringVar(&strategy, "strategy", string(jobs.KindProvision),
		"strategy to run (provision or inventory)")
	rootCmd.Flags().IntVar(&simTags, "sim-tags", 8, "number of simulated tags to place in the field")
}

// Execute runs the root command. It is the only symbol main needs.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	lc := logger.NewClient(serviceKey, cfg.LogLevel)
	lc.Info("Starting.")

	sim := reader.NewSimulator()
	if err := sim.Connect(cfg.Reader.Hostname); err != nil {
		return err
	}
	settings := reader.Settings{PowerCentiDBm: uint16(cfg.Reader.PowerCentiDBm)}
	for _, p := range cfg.Reader.AntennaPorts {
		settings.AntennaPorts = append(settings.AntennaPorts, uint16(p))
	}
	if err := sim.ApplySettings(settings); err != nil {
		return err
	}
	if err := sim.Start(); err != nil {
		return err
	}
	defer func() { _ = sim.Stop() }()

	seedSimTags(sim, simTags)

	store := storage.NewMemory()
	reg := registry.New(lc, sim, nil)
	orch := jobs.NewOrchestrator(lc, store, jobs.Deps{
		Logger:   lc,
		Registry: reg,
		Reader:   sim,
	}, jobs.WithStatusInterval(time.Duration(cfg.Job.StatusIntervalSeconds)*time.Second))

	jobCfg, err := jobConfig(cfg)
	if err != nil {
		return err
	}
	jobID, err := orch.Register(jobCfg)
	if err != nil {
		return err
	}

	reg.SetSink(oplog.LineFunc(func(line string) error {
		return store.AppendLogLine(jobID, line)
	}))

	if !orch.Start(jobID, time.Duration(cfg.Job.TimeoutSeconds)*time.Second) {
		lc.Error("Failed to start job.", "jobId", jobID)
		os.Exit(1)
	}

	// feed the simulated field until the job ends
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if job, err := orch.Get(jobID); err != nil || job.State.Terminal() {
				return
			}
			sim.EmitAll()
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case s := <-signals:
			lc.Info(fmt.Sprintf("Received '%s' signal from OS.", s.String()))
			orch.Stop(jobID)
		case <-ticker.C:
			job, err := orch.Get(jobID)
			if err != nil {
				return err
			}
			if !job.State.Terminal() {
				continue
			}
			orch.CleanupFinished()
			summarize(lc, job, store)
			return nil
		}
	}
}

func jobConfig(cfg config.ServiceConfig) (jobs.Config, error) {
	switch jobs.StrategyKind(strategy) {
	case jobs.KindInventory:
		return jobs.Config{
			Name:     jobName,
			Strategy: jobs.StrategyConfig{Kind: jobs.KindInventory, Inventory: &jobs.InventoryConfig{}},
		}, nil

	case jobs.KindProvision:
		productRef := cfg.Encoding.ProductReference
		if productRef == "" {
			productRef = "7891033079360"
		}
		return jobs.Config{
			Name: jobName,
			Strategy: jobs.StrategyConfig{
				Kind: jobs.KindProvision,
				Provision: &jobs.ProvisionConfig{
					ProductReference: productRef,
					Method:           epc.Method(cfg.Encoding.Method),
					Params: epc.Params{
						BasicHeader: cfg.Encoding.BasicHeader,
						Filter:      uint8(cfg.Encoding.Filter),
						Partition:   uint8(cfg.Encoding.Partition),
					},
					Credential: cfg.Job.AccessCredential,
					MaxRetries: cfg.Job.MaxRetries,
					OpTimeout:  time.Duration(cfg.Job.OpTimeoutSeconds) * time.Second,
					Lock:       cfg.Job.Lock,
					Permalock:  cfg.Job.Permalock,
				},
			},
		}, nil
	}
	return jobs.Config{}, fmt.Errorf("unknown strategy %q", strategy)
}

func seedSimTags(sim *reader.Simulator, n int) {
	for i := 0; i < n; i++ {
		factoryID := fmt.Sprintf("E28011902000%08X", i+1)
		sim.AddTag(factoryID, "000000000000000000000000", -40-float64(i%20), uint16(i%4+1))
	}
}

func summarize(lc logger.LoggingClient, job jobs.Job, store *storage.Memory) {
	lc.Info("Job finished.",
		"jobId", job.ID,
		"state", string(job.State),
		"processed", job.Processed,
		"successes", job.Successes,
		"failures", job.Failures,
		"progress", fmt.Sprintf("%.1f%%", job.Progress))

	for _, line := range store.LogLines(job.ID) {
		fmt.Println(line)
	}
}
