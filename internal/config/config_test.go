// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
server:
  http_addr: "0.0.0.0:8080"

auth:
  issuer: "https://tenant.auth0.com"
  audience: "attach-gateway"
  clock_skew: "30s"

engine:
  url: "http://localhost:11434"

memory:
  backend: "sqlite"
  path: "./attach.db"

tasks:
  ttl: "2h"
  dispatch_timeout: "45s"

quota:
  enabled: true
  max_tokens_per_min: 1000
  backend: "memory"
  window: "30s"

logging:
  level: "debug"
  format: "json"
`

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "gateway.yaml")
	if err := os.WriteFile(configPath, []byte(validConfig), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Auth.Issuer != "https://tenant.auth0.com" {
		t.Errorf("Issuer = %q", cfg.Auth.Issuer)
	}
	if cfg.Auth.ClockSkew != 30*time.Second {
		t.Errorf("ClockSkew = %v, want 30s", cfg.Auth.ClockSkew)
	}
	if cfg.Tasks.TTL != 2*time.Hour {
		t.Errorf("Tasks.TTL = %v, want 2h", cfg.Tasks.TTL)
	}
	if cfg.Tasks.DispatchTimeout != 45*time.Second {
		t.Errorf("DispatchTimeout = %v, want 45s", cfg.Tasks.DispatchTimeout)
	}
	if cfg.Quota.Window != 30*time.Second {
		t.Errorf("Quota.Window = %v, want 30s", cfg.Quota.Window)
	}
	if cfg.Memory.Backend != "sqlite" {
		t.Errorf("Memory.Backend = %q", cfg.Memory.Backend)
	}
}

func TestParse_Defaults(t *testing.T) {
	minimal := `
server:
  http_addr: "127.0.0.1:8080"
auth:
  issuer: "https://issuer.example.com"
  audience: "aud"
engine:
  url: "http://localhost:11434"
`
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Auth.ClockSkew != DefaultClockSkew {
		t.Errorf("ClockSkew = %v, want %v", cfg.Auth.ClockSkew, DefaultClockSkew)
	}
	if cfg.Tasks.TTL != DefaultTaskTTL {
		t.Errorf("Tasks.TTL = %v, want %v", cfg.Tasks.TTL, DefaultTaskTTL)
	}
	if cfg.Quota.MaxTokensPerMin != DefaultMaxTokensPerMin {
		t.Errorf("MaxTokensPerMin = %d, want %d", cfg.Quota.MaxTokensPerMin, DefaultMaxTokensPerMin)
	}
	if cfg.Quota.Backend != "memory" {
		t.Errorf("Quota.Backend = %q, want memory", cfg.Quota.Backend)
	}
	if cfg.Memory.Backend != "none" {
		t.Errorf("Memory.Backend = %q, want none", cfg.Memory.Backend)
	}
	if cfg.Metrics.ServiceName != "attach-gateway" {
		t.Errorf("Metrics.ServiceName = %q", cfg.Metrics.ServiceName)
	}
}

func TestParse_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_ATTACH_ISSUER", "https://env.example.com")

	raw := `
server:
  http_addr: "127.0.0.1:8080"
auth:
  issuer: "${TEST_ATTACH_ISSUER}"
  audience: "aud"
engine:
  url: "http://localhost:11434"
`
	cfg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Auth.Issuer != "https://env.example.com" {
		t.Errorf("Issuer = %q, want expanded env value", cfg.Auth.Issuer)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing http addr",
			yaml:    "auth:\n  issuer: x\n  audience: y\nengine:\n  url: z\n",
			wantErr: "server.http_addr",
		},
		{
			name:    "missing issuer",
			yaml:    "server:\n  http_addr: a\nauth:\n  audience: y\nengine:\n  url: z\n",
			wantErr: "auth.issuer",
		},
		{
			name:    "missing audience",
			yaml:    "server:\n  http_addr: a\nauth:\n  issuer: x\nengine:\n  url: z\n",
			wantErr: "auth.audience",
		},
		{
			name:    "missing engine url",
			yaml:    "server:\n  http_addr: a\nauth:\n  issuer: x\n  audience: y\n",
			wantErr: "engine.url",
		},
		{
			name:    "bad memory backend",
			yaml:    "server:\n  http_addr: a\nauth:\n  issuer: x\n  audience: y\nengine:\n  url: z\nmemory:\n  backend: weaviate\n",
			wantErr: "memory.backend",
		},
		{
			name:    "sqlite without path",
			yaml:    "server:\n  http_addr: a\nauth:\n  issuer: x\n  audience: y\nengine:\n  url: z\nmemory:\n  backend: sqlite\n",
			wantErr: "memory.path",
		},
		{
			name:    "redis quota without url",
			yaml:    "server:\n  http_addr: a\nauth:\n  issuer: x\n  audience: y\nengine:\n  url: z\nquota:\n  enabled: true\n  backend: redis\n",
			wantErr: "quota.redis_url",
		},
		{
			name:    "bad duration",
			yaml:    "server:\n  http_addr: a\nauth:\n  issuer: x\n  audience: y\n  clock_skew: nope\nengine:\n  url: z\n",
			wantErr: "clock_skew",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() should have returned an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}
