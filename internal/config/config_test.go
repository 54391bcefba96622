package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/hybridlife/internal/engine"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	j := Default()
	assert.Equal(t, 3, j.MinPow)
	assert.Equal(t, 10, j.MaxPow)
	assert.Equal(t, 1, j.Workers)
	assert.GreaterOrEqual(t, j.Lanes, 1)
	assert.NoError(t, j.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
engine: mpi
transport: nats
nats_url: nats://queue:4222
min_pow: 4
max_pow: 6
workers: 3
lanes: 2
`)
	j, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mpi", j.Engine)
	assert.Equal(t, TransportNATS, j.Transport)
	assert.Equal(t, "nats://queue:4222", j.NATSURL)
	assert.Equal(t, 4, j.MinPow)
	assert.Equal(t, 6, j.MaxPow)
	assert.Equal(t, 3, j.Workers)
	assert.Equal(t, 2, j.Lanes)
	assert.Equal(t, 2, j.StepsPerUnit)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "min_pow: 4\nmax_pow: 6\nworkers: 3\n")
	t.Setenv("GOL_MAX_POW", "9")
	t.Setenv("GOL_WORKERS", " 5 ")
	t.Setenv("GOL_ENGINE", "serial")

	j, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, j.MinPow)
	assert.Equal(t, 9, j.MaxPow)
	assert.Equal(t, 5, j.Workers)
	assert.Equal(t, "serial", j.Engine)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "min_pow: [1, 2"))
		assert.Error(t, err)
	})
	t.Run("bad env integer", func(t *testing.T) {
		t.Setenv("GOL_LANES", "many")
		_, err := Load("")
		assert.ErrorContains(t, err, "GOL_LANES")
	})
	t.Run("range from env", func(t *testing.T) {
		t.Setenv("GOL_MIN_POW", "21")
		t.Setenv("GOL_MAX_POW", "21")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrInvalidRange)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Job)
		want   error
	}{
		{"defaults", func(*Job) {}, nil},
		{"min zero", func(j *Job) { j.MinPow = 0 }, ErrInvalidRange},
		{"max above limit", func(j *Job) { j.MaxPow = 21 }, ErrInvalidRange},
		{"min above max", func(j *Job) { j.MinPow, j.MaxPow = 8, 7 }, ErrInvalidRange},
		{"limits inclusive", func(j *Job) { j.MinPow, j.MaxPow = 1, 20 }, nil},
		{"no workers", func(j *Job) { j.Workers = 0 }, ErrInvalidRange},
		{"no lanes", func(j *Job) { j.Lanes = 0 }, ErrInvalidRange},
		{"no steps", func(j *Job) { j.StepsPerUnit = 0 }, ErrInvalidRange},
		{"unknown engine", func(j *Job) { j.Engine = "cuda" }, engine.ErrUnknownEngine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := Default()
			tt.mutate(&j)
			err := j.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}

	j := Default()
	j.Transport = "carrier-pigeon"
	assert.ErrorContains(t, j.Validate(), "transport")
}

func TestEngineConfig(t *testing.T) {
	j := Default()
	j.Engine = "serial"
	j.Lanes = 8
	cfg := j.EngineConfig()
	assert.Equal(t, 1, cfg.Lanes)
	assert.Nil(t, cfg.Steps)
	assert.Equal(t, j.MinPow, cfg.MinPow)

	j.Engine = "hybrid"
	j.StepsPerUnit = 1
	cfg = j.EngineConfig()
	assert.Equal(t, 8, cfg.Lanes)
	require.NotNil(t, cfg.Steps)
	assert.Equal(t, 13, cfg.Steps(16))
	assert.Equal(t, 0, cfg.Steps(2))
}
