package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/truckpilot/internal/camera"
	"github.com/andresmejia3/truckpilot/internal/nav"
	"github.com/andresmejia3/truckpilot/internal/vehicle"
	"github.com/andresmejia3/truckpilot/internal/vision"
	"gopkg.in/yaml.v3"
)

// Config is the full calibration and runtime configuration.
type Config struct {
	Vision    vision.SegmenterConfig `yaml:"vision"`
	Tracer    nav.TracerConfig       `yaml:"tracer"`
	Estimator nav.EstimatorConfig    `yaml:"estimator"`
	Session   nav.SessionConfig      `yaml:"session"`
	Camera    camera.Config          `yaml:"camera"`
	Vehicle   vehicle.Config         `yaml:"vehicle"`
	Telemetry TelemetryConfig        `yaml:"telemetry"`
	Database  DatabaseConfig         `yaml:"database"`
}

// TelemetryConfig controls the observational outputs.
type TelemetryConfig struct {
	StatusAddr string `yaml:"status_addr"`
	DebugDir   string `yaml:"debug_dir"`
	DebugEvery int    `yaml:"debug_every"`
	BatchSize  int    `yaml:"batch_size"`
	Buffer     int    `yaml:"buffer"`
}

// DatabaseConfig holds the telemetry database connection.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// Default returns the configuration used on the course.
func Default() *Config {
	return &Config{
		Vision:    vision.DefaultSegmenterConfig(),
		Tracer:    nav.DefaultTracerConfig(),
		Estimator: nav.DefaultEstimatorConfig(),
		Session:   nav.DefaultSessionConfig(),
		Camera:    camera.DefaultConfig(),
		Vehicle:   vehicle.DefaultConfig(),
		Telemetry: TelemetryConfig{
			StatusAddr: "127.0.0.1:8090",
			DebugDir:   "/data/debug_frames",
			DebugEvery: 10,
			BatchSize:  64,
			Buffer:     1024,
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}
	check("vision", c.Vision.Validate())
	check("tracer", c.Tracer.Validate())
	check("estimator", c.Estimator.Validate())
	check("session", c.Session.Validate())
	check("camera", c.Camera.Validate())
	check("vehicle", c.Vehicle.Validate())
	if c.Telemetry.BatchSize < 1 || c.Telemetry.Buffer < 1 {
		errs = append(errs, fmt.Errorf("telemetry: batch_size and buffer must be >= 1"))
	}
	return errors.Join(errs...)
}

// Marshal renders the configuration as YAML, for writing a starting calibration file.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// DatabaseURL resolves the connection string: explicit flag, then config file, then the
// POSTGRES_* environment, then a local default.
func (c *Config) DatabaseURL(flag string) string {
	if flag != "" {
		return flag
	}
	if c.Database.URL != "" {
		return c.Database.URL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return "postgres://localhost:5432/truckpilot"
}
