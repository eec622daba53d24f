// Package config loads the scanner configuration from YAML, .env and SCANNER_*
// environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "SCANNER_"

type LogConfig struct {
	Development bool   `yaml:"development"`
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"maxSizeMB"`
	MaxBackups  int    `yaml:"maxBackups"`
	MaxAgeDays  int    `yaml:"maxAgeDays"`
}

type CameraConfig struct {
	// Source is a device index ("0") or a file path / stream URL.
	Source      string        `yaml:"source"`
	FPS         int           `yaml:"fps"`
	OpenTimeout time.Duration `yaml:"openTimeout"`
	// HeadToCamera is the camera offset from the head, in metres.
	HeadToCamera [3]float32 `yaml:"headToCamera"`
	CropPadding  int        `yaml:"cropPadding"`
}

type InferenceConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	EngineID     string        `yaml:"engineId"`
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queueSize"`
	Confidence   float32       `yaml:"confidence"`
	IoUThreshold float64       `yaml:"iouThreshold"`
	MaxMisses    int           `yaml:"maxMisses"`
	Timeout      time.Duration `yaml:"timeout"`
	Names        []string      `yaml:"names"`
	NamesFile    string        `yaml:"namesFile"`
}

type InfoConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type RegistryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Interval time.Duration `yaml:"interval"`
}

type Config struct {
	RPCPort     int             `yaml:"RPCPort"`
	HTTPPort    int             `yaml:"HTTPPort"`
	MetricsPort int             `yaml:"MetricsPort"`
	GraceDelay  time.Duration   `yaml:"graceDelay"`
	AutoScan    bool            `yaml:"autoScan"`
	Log         LogConfig       `yaml:"log"`
	Camera      CameraConfig    `yaml:"camera"`
	Inference   InferenceConfig `yaml:"inference"`
	Info        InfoConfig      `yaml:"info"`
	Registry    RegistryConfig  `yaml:"registry"`
}

func Default() *Config {
	return &Config{
		RPCPort:     50051,
		HTTPPort:    8080,
		MetricsPort: 9100,
		GraceDelay:  100 * time.Millisecond,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Camera: CameraConfig{
			Source:      "0",
			FPS:         15,
			OpenTimeout: 10 * time.Second,
			CropPadding: 8,
		},
		Inference: InferenceConfig{
			Endpoint:     "http://127.0.0.1:8081/api/infer",
			Workers:      1,
			QueueSize:    1,
			Confidence:   0.5,
			IoUThreshold: 0.3,
			MaxMisses:    3,
			Timeout:      5 * time.Second,
		},
		Info: InfoConfig{
			Timeout: 10 * time.Second,
		},
		Registry: RegistryConfig{
			Port:     8000,
			Interval: 5 * time.Second,
		},
	}
}

// Load reads path (optional), then .env, then SCANNER_* overrides. The returned
// warnings describe values that were clamped.
func Load(path string) (*Config, []string, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, nil, err
	}
	warnings := cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	setInt("RPC_PORT", &c.RPCPort)
	setInt("HTTP_PORT", &c.HTTPPort)
	setInt("METRICS_PORT", &c.MetricsPort)
	setDuration("GRACE_DELAY", &c.GraceDelay)
	setBool("AUTO_SCAN", &c.AutoScan)
	setBool("LOG_DEVELOPMENT", &c.Log.Development)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FILE", &c.Log.File)
	setString("CAMERA_SOURCE", &c.Camera.Source)
	setInt("CAMERA_FPS", &c.Camera.FPS)
	setString("INFERENCE_ENDPOINT", &c.Inference.Endpoint)
	setString("ENGINE_ID", &c.Inference.EngineID)
	setInt("WORKERS", &c.Inference.Workers)
	setString("INFO_ENDPOINT", &c.Info.Endpoint)
	setBool("REGISTRY_ENABLED", &c.Registry.Enabled)
	setString("REGISTRY_HOST", &c.Registry.Host)
	setInt("REGISTRY_PORT", &c.Registry.Port)
	return errors.Join(errs...)
}

// Normalize clamps out-of-range values to usable ones and reports each change.
func (c *Config) Normalize() []string {
	var warnings []string
	cpus := runtime.NumCPU()
	if c.Inference.Workers <= 0 {
		warnings = append(warnings, fmt.Sprintf("invalid inference.workers %d, defaulting to 1", c.Inference.Workers))
		c.Inference.Workers = 1
	} else if c.Inference.Workers > cpus {
		warnings = append(warnings, fmt.Sprintf("inference.workers %d exceeds CPU cores %d, which may degrade performance", c.Inference.Workers, cpus))
	}
	if c.Inference.QueueSize <= 0 {
		warnings = append(warnings, "inference.queueSize must be positive, defaulting to 1")
		c.Inference.QueueSize = 1
	}
	if c.GraceDelay < 0 {
		warnings = append(warnings, "graceDelay is negative, clearing immediately on pause")
		c.GraceDelay = 0
	}
	if c.Camera.FPS <= 0 {
		warnings = append(warnings, fmt.Sprintf("invalid camera.fps %d, defaulting to 15", c.Camera.FPS))
		c.Camera.FPS = 15
	}
	if c.Inference.MaxMisses < 0 {
		warnings = append(warnings, "inference.maxMisses is negative, defaulting to 0")
		c.Inference.MaxMisses = 0
	}
	return warnings
}

func (c *Config) Validate() error {
	var errs []error
	for name, port := range map[string]int{"RPCPort": c.RPCPort, "HTTPPort": c.HTTPPort, "MetricsPort": c.MetricsPort} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s must be between 1 and 65535, got %d", name, port))
		}
	}
	if c.Inference.Endpoint == "" {
		errs = append(errs, errors.New("inference.endpoint cannot be empty"))
	}
	if c.Inference.Confidence < 0 || c.Inference.Confidence > 1 {
		errs = append(errs, fmt.Errorf("confidence must be between 0.0 and 1.0, got %f", c.Inference.Confidence))
	}
	if c.Inference.IoUThreshold < 0 || c.Inference.IoUThreshold > 1 {
		errs = append(errs, fmt.Errorf("IoU must be between 0.0 and 1.0, got %f", c.Inference.IoUThreshold))
	}
	if c.Camera.Source == "" {
		errs = append(errs, errors.New("camera.source cannot be empty"))
	}
	if c.Registry.Enabled && c.Registry.Host == "" {
		errs = append(errs, errors.New("registry.host is required when the registry is enabled"))
	}
	return errors.Join(errs...)
}
