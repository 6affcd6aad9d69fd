package policy

// GetThreshold returns the configured float64 parameter value for an
// auditor, or defaultValue when no override is present. It is safe to call
// with cfg == nil.
//
// Lookup order:
//  1. cfg == nil → defaultValue
//  2. cfg.Auditors[auditorID] absent → defaultValue
//  3. cfg.Auditors[auditorID].Params[key] absent → defaultValue
//  4. Otherwise → configured value
func GetThreshold(auditorID, key string, defaultValue float64, cfg *PolicyConfig) float64 {
	if cfg == nil {
		return defaultValue
	}
	ac, ok := cfg.Auditors[auditorID]
	if !ok {
		return defaultValue
	}
	v, ok := ac.Params[key]
	if !ok {
		return defaultValue
	}
	return v
}
