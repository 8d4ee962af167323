package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "truckpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 18, cfg.Vision.Edge.Hue)
	assert.Equal(t, 5, cfg.Session.BailFrames)
	assert.Equal(t, 115200, cfg.Vehicle.Baud)
	assert.Equal(t, 50*time.Millisecond, cfg.Vehicle.AckTimeout)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeFile(t, `
vision:
  edge:
    hue: 20
    hue_range: 10
    sat_min: 90
    val_min: 40
tracer:
  strategy: combined
estimator:
  power_factor: 0.6
session:
  bail_frames: 8
vehicle:
  ack_timeout: 80ms
  drive_limit: 20
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Vision.Edge.Hue)
	assert.Equal(t, 116, cfg.Vision.Obstacle.Hue, "unset sections keep defaults")
	assert.Equal(t, "combined", cfg.Tracer.Strategy)
	assert.Equal(t, 9.0, cfg.Tracer.EdgeWeight)
	assert.Equal(t, 0.6, cfg.Estimator.PowerFactor)
	assert.Equal(t, 8, cfg.Session.BailFrames)
	assert.Equal(t, 80*time.Millisecond, cfg.Vehicle.AckTimeout)
	assert.Equal(t, 20, cfg.Vehicle.DriveLimit)
	assert.True(t, cfg.Vehicle.InvertSteering)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeFile(t, `
estimator:
  power_factor: 1.5
session:
  bail_frames: 0
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "estimator")
	assert.Contains(t, err.Error(), "session")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformed(t *testing.T) {
	_, err := Load(writeFile(t, "vision: [unterminated"))
	assert.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)

	cfg, err := Load(writeFile(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDatabaseURL(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "postgres://flag", cfg.DatabaseURL("postgres://flag"))

	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("POSTGRES_DB", "truck")
	t.Setenv("POSTGRES_PORT", "")
	assert.Equal(t, "postgres://u:p@db:5432/truck", cfg.DatabaseURL(""))

	cfg.Database.URL = "postgres://file"
	assert.Equal(t, "postgres://file", cfg.DatabaseURL(""))
}
