//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads the service configuration.
package config

import (
	"math"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// ServiceConfig is the full service configuration. Field names line up with
// the YAML keys viper reads.
type ServiceConfig struct {
	LogLevel string `mapstructure:"log_level"`

	Reader   ReaderSettings   `mapstructure:"reader"`
	Job      JobSettings      `mapstructure:"job"`
	Encoding EncodingSettings `mapstructure:"encoding"`
}

// ReaderSettings configures the reader collaborator.
type ReaderSettings struct {
	Hostname      string `mapstructure:"hostname"`
	PowerCentiDBm int    `mapstructure:"power_centi_dbm"`
	AntennaPorts  []int  `mapstructure:"antenna_ports"`
}

// JobSettings configures job execution defaults.
type JobSettings struct {
	MaxRetries            int    `mapstructure:"max_retries"`
	TimeoutSeconds        int    `mapstructure:"timeout_seconds"`
	StatusIntervalSeconds int    `mapstructure:"status_interval_seconds"`
	OpTimeoutSeconds      int    `mapstructure:"op_timeout_seconds"`
	AccessCredential      string `mapstructure:"access_credential"`
	Lock                  bool   `mapstructure:"lock"`
	Permalock             bool   `mapstructure:"permalock"`
}

// EncodingSettings configures the identifier codec defaults.
type EncodingSettings struct {
	ProductReference string `mapstructure:"product_reference"`
	Method           string `mapstructure:"method"`
	BasicHeader      string `mapstructure:"basic_header"`
	Filter           int    `mapstructure:"filter"`
	Partition        int    `mapstructure:"partition"`
}

// Defaults returns the configuration used when no file overrides it.
func Defaults() ServiceConfig {
	return ServiceConfig{
		LogLevel: "INFO",
		Reader: ReaderSettings{
			Hostname:      "simulator",
			PowerCentiDBm: 3000, // 30 dBm
		},
		Job: JobSettings{
			MaxRetries:            3,
			TimeoutSeconds:        300,
			StatusIntervalSeconds: 1,
			OpTimeoutSeconds:      2,
		},
		Encoding: EncodingSettings{
			Method:    "BasicWithFactorySuffix",
			Partition: 5,
		},
	}
}

// Load reads the configuration from path, or returns Defaults when path is
// empty. Unknown keys are tolerated; malformed files are not.
func Load(path string) (ServiceConfig, error) {
	defaults := Defaults()

	v := viper.New()
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("reader.hostname", defaults.Reader.Hostname)
	v.SetDefault("reader.power_centi_dbm", defaults.Reader.PowerCentiDBm)
	v.SetDefault("job.max_retries", defaults.Job.MaxRetries)
	v.SetDefault("job.timeout_seconds", defaults.Job.TimeoutSeconds)
	v.SetDefault("job.status_interval_seconds", defaults.Job.StatusIntervalSeconds)
	v.SetDefault("job.op_timeout_seconds", defaults.Job.OpTimeoutSeconds)
	v.SetDefault("encoding.method", defaults.Encoding.Method)
	v.SetDefault("encoding.partition", defaults.Encoding.Partition)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return ServiceConfig{}, errors.Wrapf(err, "failed to read config %s", path)
		}
	}

	var cfg ServiceConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ServiceConfig{}, errors.Wrap(err, "failed to parse config")
	}
	if err := cfg.validate(); err != nil {
		return ServiceConfig{}, err
	}
	return cfg, nil
}

// validate rejects values the reader hardware cannot represent. The reader
// settings travel as 16-bit fields, so out-of-range values must fail loudly
// instead of truncating.
func (c ServiceConfig) validate() error {
	if c.Reader.PowerCentiDBm < 0 || c.Reader.PowerCentiDBm > math.MaxUint16 {
		return errors.Errorf("reader.power_centi_dbm %d is outside 0-%d", c.Reader.PowerCentiDBm, math.MaxUint16)
	}
	for _, p := range c.Reader.AntennaPorts {
		if p < 0 || p > math.MaxUint16 {
			return errors.Errorf("reader.antenna_ports entry %d is outside 0-%d", p, math.MaxUint16)
		}
	}
	return nil
}
