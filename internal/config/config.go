package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

// Config is the process configuration shared by the CLI commands.
type Config struct {
	Threads     int    `yaml:"threads"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`
	FlightAddr  string `yaml:"flight_addr"`
	DType       string `yaml:"dtype"`

	Model ModelConfig `yaml:"model"`
}

// ModelConfig sizes the single decoder block run by the forward command.
type ModelConfig struct {
	Dim       int     `yaml:"dim"`
	HiddenDim int     `yaml:"hidden_dim"`
	Heads     int     `yaml:"heads"`
	KVHeads   int     `yaml:"kv_heads"`
	HeadDim   int     `yaml:"head_dim"`
	VocabSize int     `yaml:"vocab_size"`
	Eps       float32 `yaml:"eps"`
	RopeTheta float32 `yaml:"rope_theta"`
	Seed      int64   `yaml:"seed"`
}

func (c *Config) Validate() error {
	if c.Threads < 0 {
		return fmt.Errorf("invalid threads: %d (must be non-negative)", c.Threads)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (must be console or json)", c.LogFormat)
	}
	dt, err := tensor.ParseDType(c.DType)
	if err != nil {
		return fmt.Errorf("invalid dtype: %w", err)
	}
	if !dt.IsFloat() {
		return fmt.Errorf("invalid dtype: %s is not a floating dtype", dt)
	}
	return c.Model.Validate()
}

func (m *ModelConfig) Validate() error {
	if m.Heads <= 0 {
		return fmt.Errorf("invalid heads: %d (must be positive)", m.Heads)
	}
	if m.KVHeads <= 0 {
		return fmt.Errorf("invalid kv_heads: %d (must be positive)", m.KVHeads)
	}
	if m.Heads%m.KVHeads != 0 {
		return fmt.Errorf("invalid kv_heads: %d (must divide heads: %d)", m.KVHeads, m.Heads)
	}
	if m.HeadDim <= 0 || m.HeadDim%2 != 0 {
		return fmt.Errorf("invalid head_dim: %d (must be positive and even)", m.HeadDim)
	}
	if m.Dim != m.Heads*m.HeadDim {
		return fmt.Errorf("dim mismatch: %d != heads(%d) * head_dim(%d)", m.Dim, m.Heads, m.HeadDim)
	}
	if m.HiddenDim <= 0 {
		return fmt.Errorf("invalid hidden_dim: %d (must be positive)", m.HiddenDim)
	}
	if m.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", m.VocabSize)
	}
	if m.Eps <= 0 {
		return fmt.Errorf("invalid eps: %f (must be positive)", m.Eps)
	}
	if m.RopeTheta <= 0 {
		return fmt.Errorf("invalid rope_theta: %f (must be positive)", m.RopeTheta)
	}
	return nil
}

// KernelDType returns the parsed element type. Call after Validate.
func (c *Config) KernelDType() tensor.DType {
	dt, _ := tensor.ParseDType(c.DType)
	return dt
}

// Workers resolves Threads, where 0 means one worker per CPU.
func (c *Config) Workers() int {
	if c.Threads <= 0 {
		return runtime.NumCPU()
	}
	return c.Threads
}

func Default() Config {
	return Config{
		LogLevel:    "info",
		LogFormat:   "console",
		MetricsAddr: ":9090",
		FlightAddr:  ":8815",
		DType:       "f32",
		Model: ModelConfig{
			Dim:       64,
			HiddenDim: 172,
			Heads:     8,
			KVHeads:   2,
			HeadDim:   8,
			VocabSize: 256,
			Eps:       1e-5,
			RopeTheta: 10000.0,
			Seed:      1,
		},
	}
}

// Load reads a YAML file over Default. Keys missing from the file keep their
// default values. An empty path returns Default unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
