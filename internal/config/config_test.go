package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("RELGRAPH_HOME", tmpDir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.APIPort != 8080 {
		t.Errorf("Server.APIPort = %d, want 8080", cfg.Server.APIPort)
	}
	if cfg.Ingest.RateLimitQPS != 5 {
		t.Errorf("Ingest.RateLimitQPS = %v, want 5", cfg.Ingest.RateLimitQPS)
	}
	if len(cfg.Accounts) != 0 {
		t.Errorf("Accounts = %v, want empty", cfg.Accounts)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("RELGRAPH_HOME", tmpDir)

	configContent := `
[server]
api_port = 9090
api_key = "test-secret-key"

[[accounts]]
email = "me@acme.com"
schedule = "*/15 * * * *"
enabled = true
`
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.APIPort != 9090 {
		t.Errorf("Server.APIPort = %d, want 9090", cfg.Server.APIPort)
	}
	if cfg.Server.APIKey != "test-secret-key" {
		t.Errorf("Server.APIKey = %q, want test-secret-key", cfg.Server.APIKey)
	}

	scheduled := cfg.ScheduledAccounts()
	if len(scheduled) != 1 {
		t.Fatalf("ScheduledAccounts() = %v, want 1 entry", scheduled)
	}
	if scheduled[0].Email != "me@acme.com" {
		t.Errorf("scheduled account = %q, want me@acme.com", scheduled[0].Email)
	}
}

func TestGetAccountSchedule_Unconfigured(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("RELGRAPH_HOME", tmpDir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sched := cfg.GetAccountSchedule("nobody@acme.com"); sched != nil {
		t.Errorf("GetAccountSchedule() = %v, want nil", sched)
	}
}
