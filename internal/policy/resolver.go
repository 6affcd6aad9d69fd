package policy

// IsEnabled reports whether auditorID may run. Auditors are enabled unless
// the policy sets enabled: false for them.
func IsEnabled(auditorID string, cfg *PolicyConfig) bool {
	if cfg == nil {
		return true
	}
	ac, ok := cfg.Auditors[auditorID]
	if !ok || ac.Enabled == nil {
		return true
	}
	return *ac.Enabled
}
