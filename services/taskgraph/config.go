// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package taskgraph

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTasks/pkg/logging"
	"github.com/AleutianAI/AleutianTasks/pkg/telemetry"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/handlers"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/identity"
	"github.com/AleutianAI/AleutianTasks/services/taskgraph/middleware"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the service configuration.
//
// # Sources
//
// Values are layered, later sources winning:
//
//  1. The YAML file given to LoadConfig (optional)
//  2. TASKGRAPH_* environment variables and OTEL_EXPORTER_OTLP_ENDPOINT
//  3. applyConfigDefaults for anything still zero
//
// # Examples
//
//	# taskgraph.yaml
//	port: 12230
//	data_dir: /var/lib/taskgraph
//	logging:
//	  level: debug
//	rate_limit:
//	  requests_per_second: 50
//	superadmin:
//	  name: Root
//	  email: root@example.com
//	  password: change-me
type Config struct {
	// Port is the HTTP server port. Default: 12230
	Port int `yaml:"port" validate:"gte=1,lte=65535"`

	// DataDir is the BadgerDB directory. Default: "./data/taskgraph"
	DataDir string `yaml:"data_dir" validate:"required_unless=InMemory true"`

	// InMemory keeps all records in RAM. Everything is lost on exit.
	InMemory bool `yaml:"in_memory"`

	// GinMode is debug, release or test. Default: release
	GinMode string `yaml:"gin_mode" validate:"oneof=debug release test"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	// TokenTTL is the lifetime of issued tokens. Default: 7 days
	TokenTTL time.Duration `yaml:"token_ttl" validate:"gt=0"`

	// BcryptCost is the password hashing cost. Default: bcrypt.DefaultCost
	BcryptCost int `yaml:"bcrypt_cost" validate:"gte=4,lte=31"`

	// MaxVisited caps the tasks one cycle check may visit. Default: 10000
	MaxVisited int `yaml:"max_visited" validate:"gt=0"`

	// FanoutBuffer is the per-subscriber event queue length. Default: 64
	FanoutBuffer int `yaml:"fanout_buffer" validate:"gt=0"`

	Logging   LoggingConfig              `yaml:"logging"`
	Telemetry telemetry.Config           `yaml:"telemetry"`
	RateLimit middleware.RateLimitConfig `yaml:"rate_limit"`
	WebSocket handlers.WebSocketConfig   `yaml:"websocket"`

	// Superadmin is created at startup when Email is set.
	Superadmin identity.BootstrapAdmin `yaml:"superadmin"`

	// ConfigPath is the file the config was loaded from. When set, Run
	// watches it and applies changes to logging.level and rate_limit
	// without a restart.
	ConfigPath string `yaml:"-"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`

	// Format is auto, json or text. Default: auto
	Format string `yaml:"format" validate:"oneof=auto json text"`

	// Dir enables a daily JSON log file.
	Dir string `yaml:"dir"`
}

// Environment variables read by LoadConfig.
const (
	EnvPort            = "TASKGRAPH_PORT"
	EnvDataDir         = "TASKGRAPH_DATA_DIR"
	EnvInMemory        = "TASKGRAPH_IN_MEMORY"
	EnvGinMode         = "TASKGRAPH_GIN_MODE"
	EnvLogLevel        = "TASKGRAPH_LOG_LEVEL"
	EnvLogFormat       = "TASKGRAPH_LOG_FORMAT"
	EnvLogDir          = "TASKGRAPH_LOG_DIR"
	EnvTokenTTL        = "TASKGRAPH_TOKEN_TTL"
	EnvTraceExporter   = "TASKGRAPH_TRACE_EXPORTER"
	EnvMetricExporter  = "TASKGRAPH_METRIC_EXPORTER"
	EnvOTLPEndpoint    = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvSuperadminEmail = "TASKGRAPH_SUPERADMIN_EMAIL"
	EnvSuperadminPass  = "TASKGRAPH_SUPERADMIN_PASSWORD"
	EnvRateLimitRPS    = "TASKGRAPH_RATE_LIMIT_RPS"
)

const (
	defaultPort          = 12230
	defaultDataDir       = "./data/taskgraph"
	defaultServiceName   = "taskgraph"
	defaultBcryptCost    = 10
	defaultMaxVisited    = 10000
	defaultFanoutBuffer  = 64
	defaultRateLimitRPS  = 20
	defaultShutdownGrace = 15 * time.Second
)

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads path (if non-empty) and applies environment overrides.
// Defaults are not applied here; New does that.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decodeConfig(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.ConfigPath = path
	}
	return applyEnvOverrides(cfg, os.LookupEnv)
}

// decodeConfig rejects unknown keys so typos fail loudly.
func decodeConfig(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides layers environment variables over cfg. lookup is
// os.LookupEnv outside tests.
func applyEnvOverrides(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	num(EnvPort, &cfg.Port)
	str(EnvDataDir, &cfg.DataDir)
	if v, ok := lookup(EnvInMemory); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvInMemory, err))
		} else {
			cfg.InMemory = b
		}
	}
	str(EnvGinMode, &cfg.GinMode)
	str(EnvLogLevel, &cfg.Logging.Level)
	str(EnvLogFormat, &cfg.Logging.Format)
	str(EnvLogDir, &cfg.Logging.Dir)
	if v, ok := lookup(EnvTokenTTL); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvTokenTTL, err))
		} else {
			cfg.TokenTTL = d
		}
	}
	str(EnvTraceExporter, &cfg.Telemetry.TraceExporter)
	str(EnvMetricExporter, &cfg.Telemetry.MetricExporter)
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		cfg.Telemetry.OTLPEndpoint = v
		if cfg.Telemetry.TraceExporter == "" {
			cfg.Telemetry.TraceExporter = telemetry.ExporterOTLP
		}
	}
	str(EnvSuperadminEmail, &cfg.Superadmin.Email)
	str(EnvSuperadminPass, &cfg.Superadmin.Password)
	if v, ok := lookup(EnvRateLimitRPS); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvRateLimitRPS, err))
		} else {
			cfg.RateLimit.RequestsPerSecond = f
		}
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("invalid environment: %w", err)
	}
	return cfg, nil
}

// applyConfigDefaults fills in missing configuration values.
//
// A negative RateLimit.RequestsPerSecond disables rate limiting; zero
// means the default.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" && !cfg.InMemory {
		cfg.DataDir = defaultDataDir
	}
	if cfg.GinMode == "" {
		cfg.GinMode = "release"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownGrace
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = identity.DefaultTokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = defaultBcryptCost
	}
	if cfg.MaxVisited == 0 {
		cfg.MaxVisited = defaultMaxVisited
	}
	if cfg.FanoutBuffer == 0 {
		cfg.FanoutBuffer = defaultFanoutBuffer
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = string(logging.FormatAuto)
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = defaultServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = handlers.ServiceVersion
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = "development"
	}
	if cfg.Telemetry.TraceExporter == "" {
		cfg.Telemetry.TraceExporter = telemetry.ExporterNone
	}
	if cfg.Telemetry.MetricExporter == "" {
		cfg.Telemetry.MetricExporter = telemetry.ExporterPrometheus
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = defaultRateLimitRPS
	}
	return cfg
}

// Validate checks a configuration after defaults are applied.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Telemetry.TraceExporter {
	case telemetry.ExporterOTLP, telemetry.ExporterStdout, telemetry.ExporterNone:
	default:
		return fmt.Errorf("invalid config: unknown trace exporter %q", c.Telemetry.TraceExporter)
	}
	switch c.Telemetry.MetricExporter {
	case telemetry.ExporterPrometheus, telemetry.ExporterStdout, telemetry.ExporterNone:
	default:
		return fmt.Errorf("invalid config: unknown metric exporter %q", c.Telemetry.MetricExporter)
	}
	if c.Telemetry.TraceExporter == telemetry.ExporterOTLP && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("invalid config: otlp trace exporter needs %s", EnvOTLPEndpoint)
	}
	if c.Superadmin.Email != "" && len(c.Superadmin.Password) < 6 {
		return errors.New("invalid config: superadmin password must be at least 6 characters")
	}
	return nil
}

// Effective returns cfg with defaults applied, or the validation error New
// would fail with.
func Effective(cfg Config) (Config, error) {
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loggingConfig converts the YAML view into pkg/logging's Config.
func (c Config) loggingConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: defaultServiceName,
		Format:  logging.Format(c.Logging.Format),
	}, nil
}
