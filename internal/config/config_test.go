package config

import (
	"errors"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Image:            "python:3.11-slim",
		CPU:              2,
		Memory:           2048,
		Disk:             20,
		Timeout:          3600,
		DatastoreSysroot: "s3://my-bucket/metaflow",
		DatastoreRegion:  "us-east-1",
		APIBase:          "https://cloud-api.phala.network/api/v1",
		SQLitePath:       ".artifacts/launches.db",
		FSMDBPath:        ".artifacts/fsm.db",
		APIKey:           "phak_test",
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing api key", func(c *Config) { c.APIKey = "" }},
		{"missing sysroot", func(c *Config) { c.DatastoreSysroot = "" }},
		{"local sysroot", func(c *Config) { c.DatastoreSysroot = "/tmp/metaflow" }},
		{"non-s3 sysroot", func(c *Config) { c.DatastoreSysroot = "gs://bucket/metaflow" }},
		{"empty image", func(c *Config) { c.Image = "" }},
		{"zero cpu", func(c *Config) { c.CPU = 0 }},
		{"zero memory", func(c *Config) { c.Memory = 0 }},
		{"zero disk", func(c *Config) { c.Disk = 0 }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var confErr *ConfigurationError
			if !errors.As(err, &confErr) {
				t.Errorf("error type = %T, want *ConfigurationError", err)
			}
		})
	}
}

func TestResolveAPIKey_PriorityOrder(t *testing.T) {
	t.Setenv("PHALA_API_KEY", "primary")
	t.Setenv("METAFLOW_PHALA_API_KEY", "fallback")

	if got := resolveAPIKey(); got != "primary" {
		t.Errorf("resolveAPIKey = %q, want the first recognized variable to win", got)
	}
}

func TestResolveAPIKey_Fallback(t *testing.T) {
	t.Setenv("PHALA_API_KEY", "")
	t.Setenv("METAFLOW_PHALA_API_KEY", "fallback")

	if got := resolveAPIKey(); got != "fallback" {
		t.Errorf("resolveAPIKey = %q, want fallback variable", got)
	}
}
