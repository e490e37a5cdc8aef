package config

import (
	"os"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected default addr: %s", cfg.Server.Addr)
	}
	if cfg.Provisioner.Kind != "dev" {
		t.Fatalf("unexpected default provisioner kind: %s", cfg.Provisioner.Kind)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsUnknownProvisionerKind(t *testing.T) {
	cfg := New()
	cfg.Provisioner.Kind = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown provisioner kind")
	}
}

func TestValidateRequiresExternalBaseURL(t *testing.T) {
	cfg := New()
	cfg.Provisioner.Kind = "external"
	cfg.Provisioner.ExternalBaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing external base url")
	}
	cfg.Provisioner.ExternalBaseURL = "https://provisioner.internal"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to validate once base url is set: %v", err)
	}
}

func TestApplyEnvOverridesTakesPrecedenceOverDefaults(t *testing.T) {
	t.Setenv("CONTROLPLANE_ADDR", ":9090")
	t.Setenv("CONTROLPLANE_API_TOKEN", "s3cr3t")
	defer os.Unsetenv("CONTROLPLANE_ADDR")
	defer os.Unsetenv("CONTROLPLANE_API_TOKEN")

	cfg := New()
	applyEnvOverrides(cfg)

	if cfg.Server.Addr != ":9090" {
		t.Fatalf("expected env override, got %s", cfg.Server.Addr)
	}
	if cfg.Auth.Token != "s3cr3t" {
		t.Fatalf("expected env override, got %s", cfg.Auth.Token)
	}
}
