package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"kanso-prover/internal/passes"
	"kanso-prover/internal/target"
)

// Config holds the settings of a prover run
type Config struct {
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Merge        MergeConfig        `yaml:"merge"`
	Verification VerificationConfig `yaml:"verification"`
	Dump         DumpConfig         `yaml:"dump"`
	Log          LogConfig          `yaml:"log"`
}

type PipelineConfig struct {
	Passes            []string `yaml:"passes"`
	MaxFixpointRounds int      `yaml:"max_fixpoint_rounds"`
}

type MergeConfig struct {
	// SkipDeadMerges omits merges of slots that are dead where paths reconverge
	SkipDeadMerges bool `yaml:"skip_dead_merges"`
}

type VerificationConfig struct {
	Flavor string `yaml:"flavor"`
}

type DumpConfig struct {
	// AfterEachPass prints the bytecode of every variant after each pass
	AfterEachPass bool `yaml:"after_each_pass"`
	Annotations   bool `yaml:"annotations"`
}

type LogConfig struct {
	Verbosity int    `yaml:"verbosity"`
	File      string `yaml:"file"`
}

// DefaultMaxFixpointRounds bounds the rounds over a recursive group
const DefaultMaxFixpointRounds = 64

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Passes:            passes.Default(),
			MaxFixpointRounds: DefaultMaxFixpointRounds,
		},
		Merge:        MergeConfig{SkipDeadMerges: true},
		Verification: VerificationConfig{Flavor: target.RegularFlavor},
		Dump:         DumpConfig{Annotations: true},
	}
}

// Load reads a YAML configuration file. Unset fields keep their defaults.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration text on top of Default
func Parse(content []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the pass list and numeric limits
func (c *Config) Validate() error {
	if len(c.Pipeline.Passes) == 0 {
		return errors.New("invalid config: pipeline.passes must name at least one pass")
	}
	if _, err := passes.Build(c.Pipeline.Passes, c.PassOptions()); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Pipeline.MaxFixpointRounds < 1 {
		return fmt.Errorf("invalid config: pipeline.max_fixpoint_rounds must be positive, got %d", c.Pipeline.MaxFixpointRounds)
	}
	if c.Verification.Flavor == "" {
		return errors.New("invalid config: verification.flavor must not be empty")
	}
	if c.Log.Verbosity < 0 {
		return fmt.Errorf("invalid config: log.verbosity must not be negative, got %d", c.Log.Verbosity)
	}
	return nil
}

// PassOptions returns the options for building the pipeline
func (c *Config) PassOptions() passes.Options {
	return passes.Options{
		SkipDeadMerges:     c.Merge.SkipDeadMerges,
		VerificationFlavor: c.Verification.Flavor,
		MaxFixpointRounds:  c.Pipeline.MaxFixpointRounds,
	}
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
