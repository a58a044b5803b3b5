// Package config carries the runtime knobs for distributed training:
// the per-run TrainConfig handed to every worker, and the YAML-backed
// Config consumed by the command line tools.
package config

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/FranNetty/dist-keras/internal/update"
)

// Synchronization policies a worker may run under. SyncBatch exchanges
// parameters with the master around every batch; SyncEpoch fetches once
// per epoch and submits one delta at its end.
const (
	SyncBatch = "batch"
	SyncEpoch = "epoch"
)

// SyncFrequencies lists every known synchronization policy.
var SyncFrequencies = []string{SyncBatch, SyncEpoch}

// TrainConfig captures the per-run training knobs. Every worker receives
// the same copy.
type TrainConfig struct {
	Epochs        int    `yaml:"epochs" json:"epochs"`
	BatchSize     int    `yaml:"batch_size" json:"batch_size"`
	SyncFrequency string `yaml:"sync_frequency" json:"sync_frequency"`
}

// ApplyDefaults fills in zero-valued fields.
func (c *TrainConfig) ApplyDefaults() {
	if c.Epochs == 0 {
		c.Epochs = 1
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.SyncFrequency == "" {
		c.SyncFrequency = SyncBatch
	}
}

// Validate verifies the run is executable. An unknown synchronization
// policy is an error here, not something workers discover mid-run.
func (c TrainConfig) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if !slices.Contains(SyncFrequencies, c.SyncFrequency) {
		return fmt.Errorf("unknown sync_frequency %q (known: %v)", c.SyncFrequency, SyncFrequencies)
	}
	return nil
}

// ModelConfig describes the model the run trains.
type ModelConfig struct {
	Kind    string `yaml:"kind"`
	Inputs  int    `yaml:"inputs"`
	Outputs int    `yaml:"outputs"`
	Seed    int64  `yaml:"seed"`
	Loss    string `yaml:"loss"`
}

// DataConfig describes the synthetic dataset the demo trainer generates.
type DataConfig struct {
	Samples int   `yaml:"samples"`
	Seed    int64 `yaml:"seed"`
}

// Config captures a full training run for the command line tools.
type Config struct {
	MasterHost string      `yaml:"master_host"`
	MasterPort int         `yaml:"master_port"`
	Workers    int         `yaml:"workers"`
	Model      ModelConfig `yaml:"model"`
	Optimizer  update.Spec `yaml:"optimizer"`
	Training   TrainConfig `yaml:"training"`
	Data       DataConfig  `yaml:"data"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	MasterHost string
	MasterPort int
	Workers    int
	Epochs     int
	BatchSize  int
	Frequency  string
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.MasterHost != "" {
		c.MasterHost = o.MasterHost
	}
	if o.MasterPort > 0 {
		c.MasterPort = o.MasterPort
	}
	if o.Workers > 0 {
		c.Workers = o.Workers
	}
	if o.Epochs > 0 {
		c.Training.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.Training.BatchSize = o.BatchSize
	}
	if o.Frequency != "" {
		c.Training.SyncFrequency = o.Frequency
	}
}

// Validate fills defaults and verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.MasterPort == 0 {
		c.MasterPort = 5000
	}
	if c.MasterPort < 0 || c.MasterPort > 65535 {
		return fmt.Errorf("master_port out of range (got %d)", c.MasterPort)
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be > 0 (got %d)", c.Workers)
	}
	if c.Model.Kind == "" {
		c.Model.Kind = "linear"
	}
	if c.Model.Inputs <= 0 || c.Model.Outputs <= 0 {
		return fmt.Errorf("model needs positive inputs and outputs (got %d/%d)", c.Model.Inputs, c.Model.Outputs)
	}
	if c.Model.Loss == "" {
		return errors.New("model loss must be set")
	}
	if c.Optimizer.Name == "" {
		c.Optimizer.Name = update.RuleAdditive
	}
	if c.Data.Samples <= 0 {
		c.Data.Samples = 1000
	}
	c.Training.ApplyDefaults()
	if err := c.Training.Validate(); err != nil {
		return err
	}
	return nil
}
