/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	// Publishing
	ControlDT           float64 // control period in seconds; the reference frequency is 1/ControlDT
	Lookahead           time.Duration
	PacingRate          float64 // Hz
	FirstSampleTimeout  time.Duration
	FirstSamplePollRate float64 // Hz
	RootJoint           string  // joint name filtered out of set_joint_names

	// Planning server
	HPPGRPCAddr        string
	DiscretizationNode string

	// NATS command surface; empty URL disables it
	NATSURL           string
	NATSSubjectPrefix string

	// Run history
	DBBackend DatabaseBackend
	DBDSN     string

	JWTSigningKey string
	PresetsFile   string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"PATHFEED_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"PATHFEED_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"PATHFEED_HTTP_PORT"}, 8090),

		ControlDT:           getEnvFloatAny([]string{"PATHFEED_CONTROL_DT", "SOT_CONTROLLER_DT"}, 0.001),
		Lookahead:           time.Duration(getEnvIntAny([]string{"PATHFEED_LOOKAHEAD_MS"}, 150)) * time.Millisecond,
		PacingRate:          getEnvFloatAny([]string{"PATHFEED_PACING_HZ"}, 100),
		FirstSampleTimeout:  time.Duration(getEnvIntAny([]string{"PATHFEED_FIRST_SAMPLE_TIMEOUT_MS"}, 1000)) * time.Millisecond,
		FirstSamplePollRate: getEnvFloatAny([]string{"PATHFEED_FIRST_SAMPLE_POLL_HZ"}, 1000),
		RootJoint:           getEnvAny([]string{"PATHFEED_ROOT_JOINT"}, "root_joint"),

		HPPGRPCAddr:        getEnvAny([]string{"PATHFEED_HPP_GRPC_ADDR", "HPP_GRPC_ADDR"}, "localhost:13331"),
		DiscretizationNode: getEnvAny([]string{"PATHFEED_DISCRETIZATION_NODE"}, "hpp_discretization"),

		NATSURL:           getEnvAny([]string{"PATHFEED_NATS_URL"}, ""),
		NATSSubjectPrefix: getEnvAny([]string{"PATHFEED_NATS_SUBJECT_PREFIX"}, "hpp.target"),

		DBBackend: DatabaseBackend(getEnvAny([]string{"PATHFEED_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:     getEnvAny([]string{"PATHFEED_DB_DSN"}, "pathfeed.db"),

		JWTSigningKey: getEnvAny([]string{"PATHFEED_JWT_SIGNING_KEY"}, ""),
		PresetsFile:   getEnvAny([]string{"PATHFEED_PRESETS_FILE"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"PATHFEED_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"PATHFEED_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"PATHFEED_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"PATHFEED_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"PATHFEED_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"PATHFEED_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"PATHFEED_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"PATHFEED_INSTANCE_ID"}, ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ControlDT <= 0 || math.IsNaN(c.ControlDT) || math.IsInf(c.ControlDT, 0) {
		return fmt.Errorf("PATHFEED_CONTROL_DT must be a positive number of seconds, got %v", c.ControlDT)
	}
	if c.Lookahead < 0 {
		return fmt.Errorf("PATHFEED_LOOKAHEAD_MS must not be negative")
	}
	if c.PacingRate <= 0 {
		return fmt.Errorf("PATHFEED_PACING_HZ must be positive, got %v", c.PacingRate)
	}
	if c.FirstSampleTimeout <= 0 {
		return fmt.Errorf("PATHFEED_FIRST_SAMPLE_TIMEOUT_MS must be positive")
	}
	if c.FirstSamplePollRate <= 0 {
		return fmt.Errorf("PATHFEED_FIRST_SAMPLE_POLL_HZ must be positive, got %v", c.FirstSamplePollRate)
	}

	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("PATHFEED_DB_DSN must be provided")
	}

	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("PATHFEED_TRACING_SAMPLE_RATE must be within [0, 1], got %v", c.TracingSampleRate)
	}

	if strings.EqualFold(c.Environment, "production") && c.JWTSigningKey == "" {
		return fmt.Errorf("PATHFEED_JWT_SIGNING_KEY must be provided in production")
	}
	return nil
}

// ControlPeriod returns ControlDT as a duration.
func (c *Config) ControlPeriod() time.Duration {
	return time.Duration(c.ControlDT * float64(time.Second))
}

// HTTPAddr returns the listen address of the HTTP command surface.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"SOT_CONTROLLER_DT": "use PATHFEED_CONTROL_DT",
		"HPP_GRPC_ADDR":     "use PATHFEED_HPP_GRPC_ADDR",
		"JWT_SIGNING_KEY":   "use PATHFEED_JWT_SIGNING_KEY",
		"NATS_URL":          "use PATHFEED_NATS_URL",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
