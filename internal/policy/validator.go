package policy

import (
	"fmt"
	"slices"
	"sort"
)

// Validate checks cfg for semantic correctness and returns all validation
// errors found. An empty slice means the config is valid.
//
// known maps every auditor ID to the parameter keys it accepts.
//
// Checks performed:
//   - version must be 1
//   - auditor IDs must appear in known
//   - parameter keys must be accepted by that auditor
//   - parameter values must not be negative
//
// All errors are collected before returning; Validate never stops at the
// first error. Errors are ordered by auditor ID and key.
func Validate(cfg *PolicyConfig, known map[string][]string) []error {
	if cfg == nil {
		return []error{fmt.Errorf("policy config is nil")}
	}

	var errs []error

	if cfg.Version != 1 {
		errs = append(errs, fmt.Errorf("version: unsupported value %d; must be 1", cfg.Version))
	}

	ids := make([]string, 0, len(cfg.Auditors))
	for id := range cfg.Auditors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		keys, ok := known[id]
		if !ok {
			errs = append(errs, fmt.Errorf("auditors.%s: unknown auditor ID", id))
			continue
		}

		params := cfg.Auditors[id].Params
		names := make([]string, 0, len(params))
		for k := range params {
			names = append(names, k)
		}
		sort.Strings(names)

		for _, k := range names {
			if !slices.Contains(keys, k) {
				errs = append(errs, fmt.Errorf("auditors.%s.params.%s: unknown parameter; valid keys: %v", id, k, keys))
				continue
			}
			if params[k] < 0 {
				errs = append(errs, fmt.Errorf("auditors.%s.params.%s: must not be negative, got %v", id, k, params[k]))
			}
		}
	}

	return errs
}
