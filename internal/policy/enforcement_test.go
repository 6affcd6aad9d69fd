package policy

import "testing"

func TestShouldFail_NilConfig(t *testing.T) {
	if ShouldFail("cost-spike", 3, nil) {
		t.Error("nil cfg must return false")
	}
}

func TestShouldFail_NoAuditorBlock(t *testing.T) {
	cfg := &PolicyConfig{}
	if ShouldFail("cost-spike", 3, cfg) {
		t.Error("absent auditor block must return false")
	}
}

func TestShouldFail_DifferentAuditor(t *testing.T) {
	// fail_on_findings for s3-encryption must not affect cost-spike.
	cfg := &PolicyConfig{
		Auditors: map[string]AuditorConfig{
			"s3-encryption": {FailOnFindings: true},
		},
	}
	if ShouldFail("cost-spike", 3, cfg) {
		t.Error("enforcement for a different auditor must not apply")
	}
}

func TestShouldFail_NothingFlagged(t *testing.T) {
	cfg := &PolicyConfig{
		Auditors: map[string]AuditorConfig{
			"cost-spike": {FailOnFindings: true},
		},
	}
	if ShouldFail("cost-spike", 0, cfg) {
		t.Error("zero findings must return false")
	}
}

func TestShouldFail_FlaggedAndEnforced(t *testing.T) {
	cfg := &PolicyConfig{
		Auditors: map[string]AuditorConfig{
			"cost-spike": {FailOnFindings: true},
		},
	}
	if !ShouldFail("cost-spike", 1, cfg) {
		t.Error("expected true when findings exist and fail_on_findings is set")
	}
}
