// Package config loads batch-run parameters from an optional YAML file and
// the environment. Environment variables override file values, which
// override the defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/hybridlife/internal/engine"
)

// ErrInvalidRange is returned when a parameter is outside its allowed range.
var ErrInvalidRange = errors.New("parameter out of range")

// Transports a run can use for its worker group.
const (
	TransportSolo  = "solo"
	TransportLocal = "local"
	TransportMPI   = "mpi"
	TransportNATS  = "nats"
)

// Job holds the parameters of one batch run.
type Job struct {
	Engine       string `yaml:"engine"`
	Transport    string `yaml:"transport"`
	NATSURL      string `yaml:"nats_url"`
	MinPow       int    `yaml:"min_pow"`
	MaxPow       int    `yaml:"max_pow"`
	Workers      int    `yaml:"workers"`
	Lanes        int    `yaml:"lanes"`
	StepsPerUnit int    `yaml:"steps_per_unit"`
}

// Default returns the parameters used when nothing else is given.
func Default() Job {
	return Job{
		Engine:       "hibrido",
		Transport:    TransportLocal,
		NATSURL:      "nats://127.0.0.1:4222",
		MinPow:       3,
		MaxPow:       10,
		Workers:      1,
		Lanes:        runtime.NumCPU(),
		StepsPerUnit: 2,
	}
}

// envVars maps each environment variable to the field it sets.
var envVars = []struct {
	name string
	set  func(j *Job, v string) error
}{
	{"GOL_ENGINE", func(j *Job, v string) error { j.Engine = v; return nil }},
	{"GOL_TRANSPORT", func(j *Job, v string) error { j.Transport = v; return nil }},
	{"GOL_NATS_URL", func(j *Job, v string) error { j.NATSURL = v; return nil }},
	{"GOL_MIN_POW", intSetter(func(j *Job) *int { return &j.MinPow })},
	{"GOL_MAX_POW", intSetter(func(j *Job) *int { return &j.MaxPow })},
	{"GOL_WORKERS", intSetter(func(j *Job) *int { return &j.Workers })},
	{"GOL_LANES", intSetter(func(j *Job) *int { return &j.Lanes })},
	{"GOL_STEPS_PER_UNIT", intSetter(func(j *Job) *int { return &j.StepsPerUnit })},
}

func intSetter(field func(*Job) *int) func(*Job, string) error {
	return func(j *Job, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(j) = n
		return nil
	}
}

// Load builds a Job from the defaults, the YAML file at path (skipped when
// path is empty) and the GOL_* environment variables, then validates it.
func Load(path string) (Job, error) {
	j := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return j, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &j); err != nil {
			return j, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := j.ApplyEnv(); err != nil {
		return j, err
	}
	return j, j.Validate()
}

// ApplyEnv overrides fields from any GOL_* variables that are set.
func (j *Job) ApplyEnv() error {
	for _, ev := range envVars {
		v, ok := os.LookupEnv(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(j, v); err != nil {
			return fmt.Errorf("%s=%q: %w", ev.name, v, err)
		}
	}
	return nil
}

// Validate checks every parameter.
func (j Job) Validate() error {
	switch {
	case j.MinPow < 1 || j.MaxPow > engine.MaxPow || j.MinPow > j.MaxPow:
		return fmt.Errorf("%w: need 1 <= min_pow <= max_pow <= %d, got %d..%d",
			ErrInvalidRange, engine.MaxPow, j.MinPow, j.MaxPow)
	case j.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidRange, j.Workers)
	case j.Lanes < 1:
		return fmt.Errorf("%w: lanes must be at least 1, got %d", ErrInvalidRange, j.Lanes)
	case j.StepsPerUnit < 1:
		return fmt.Errorf("%w: steps_per_unit must be at least 1, got %d", ErrInvalidRange, j.StepsPerUnit)
	}
	if _, err := engine.Lookup(j.Engine); err != nil {
		return err
	}
	switch j.Transport {
	case TransportSolo, TransportLocal, TransportMPI, TransportNATS:
	default:
		return fmt.Errorf("unknown transport %q", j.Transport)
	}
	return nil
}

// Flavor resolves the configured engine name.
func (j Job) Flavor() engine.Flavor {
	f, err := engine.Lookup(j.Engine)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated engine %q", j.Engine))
	}
	return f
}

// EngineConfig returns the engine parameters for this job. Iterations per
// size are StepsPerUnit·(N−3).
func (j Job) EngineConfig() engine.Config {
	spu := j.StepsPerUnit
	cfg := engine.Config{
		MinPow: j.MinPow,
		MaxPow: j.MaxPow,
		Lanes:  j.Flavor().Lanes(j.Lanes),
	}
	if spu != 2 {
		cfg.Steps = func(n int) int {
			if n < 3 {
				return 0
			}
			return spu * (n - 3)
		}
	}
	return cfg
}
