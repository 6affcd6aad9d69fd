package policy

// ShouldFail reports whether a run of auditorID that flagged `flagged`
// resources must exit non-zero because the policy sets fail_on_findings.
//
// It returns false when cfg is nil, the auditor has no block, or nothing
// was flagged.
func ShouldFail(auditorID string, flagged int, cfg *PolicyConfig) bool {
	if cfg == nil || flagged == 0 {
		return false
	}
	return cfg.Auditors[auditorID].FailOnFindings
}
