package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opsaudit-policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPolicy_Success(t *testing.T) {
	path := writePolicy(t, `
version: 1
auditors:
  ec2-idle:
    params:
      max_cpu_avg: 3
      max_network_mb: 10.5
  cost-spike:
    enabled: false
    fail_on_findings: true
`)

	cfg, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Version != 1 {
		t.Fatalf("expected version 1")
	}

	ec2 := cfg.Auditors["ec2-idle"]
	if ec2.Params["max_cpu_avg"] != 3 || ec2.Params["max_network_mb"] != 10.5 {
		t.Fatalf("unexpected ec2-idle params: %v", ec2.Params)
	}
	if ec2.Enabled != nil {
		t.Fatalf("expected enabled to be unset for ec2-idle")
	}

	cost := cfg.Auditors["cost-spike"]
	if cost.Enabled == nil || *cost.Enabled {
		t.Fatalf("expected cost-spike enabled=false")
	}
	if !cost.FailOnFindings {
		t.Fatalf("expected cost-spike fail_on_findings=true")
	}
}

func TestLoadPolicy_EmptyAuditorsMapInitialised(t *testing.T) {
	cfg, err := LoadPolicy(writePolicy(t, "version: 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auditors == nil {
		t.Fatal("Auditors must be non-nil")
	}
}

func TestLoadPolicy_InvalidVersion(t *testing.T) {
	_, err := LoadPolicy(writePolicy(t, "version: 2\n"))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestLoadPolicy_MalformedYAML(t *testing.T) {
	_, err := LoadPolicy(writePolicy(t, "version: [1\n"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadPolicy_FileNotFound(t *testing.T) {
	_, err := LoadPolicy("nonexistent.yaml")
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}
