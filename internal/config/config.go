/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Config holds everything the server needs to boot. Values come from
// environment variables; Load validates the required ones.
type Config struct {
	Environment string // development | production

	Bind string
	Port int

	DatabaseURL string
	DBBackend   string // postgres | mysql | sqlite

	SessionSecret string
	LiveToken     string
	BcryptCost    int

	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads configuration from the environment. Missing required values
// are a boot error, not a runtime surprise.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:       getEnvAny([]string{"AUDIX_ENV", "NODE_ENV"}, "development"),
		Bind:              getEnvAny([]string{"AUDIX_BIND"}, "0.0.0.0"),
		Port:              getEnvIntAny([]string{"AUDIX_PORT", "PORT"}, 5005),
		DatabaseURL:       getEnvAny([]string{"DATABASE_URL"}, ""),
		DBBackend:         strings.ToLower(getEnvAny([]string{"AUDIX_DB_BACKEND"}, "postgres")),
		SessionSecret:     getEnvAny([]string{"SESSION_SECRET"}, ""),
		LiveToken:         getEnvAny([]string{"AUDIX_LIVE_TOKEN"}, ""),
		BcryptCost:        getEnvIntAny([]string{"AUDIX_BCRYPT_COST"}, bcrypt.DefaultCost),
		TracingEnabled:    getEnvBoolAny([]string{"AUDIX_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"AUDIX_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"AUDIX_TRACING_SAMPLE_RATE"}, 0.1),
	}

	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}
	if cfg.LiveToken == "" {
		return nil, fmt.Errorf("AUDIX_LIVE_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	switch cfg.DBBackend {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("AUDIX_DB_BACKEND must be postgres, mysql or sqlite, got %q", cfg.DBBackend)
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("AUDIX_BCRYPT_COST %d out of range [%d,%d]", cfg.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", cfg.Port)
	}

	return cfg, nil
}

// Production reports whether the server runs with production hardening
// (secure cookies, JSON logs).
func (c *Config) Production() bool { return c.Environment == "production" }

// Addr returns the listen address.
func (c *Config) Addr() string { return fmt.Sprintf("%s:%d", c.Bind, c.Port) }

// getEnvAny returns the first non-empty value among the given keys.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return def
}

func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return def
}

func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
	}
	return def
}

func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return def
}
