package models

import "time"

// RunMode describes whether remediation was executed during a run.
type RunMode string

const (
	// ModeDryRun means the mutating action was not enabled; no resource was changed.
	ModeDryRun RunMode = "dry-run"
	// ModeApply means the mutating action was enabled and invoked up to the cap.
	ModeApply RunMode = "apply"
	// ModeReportOnly marks auditors that have no remediation at all.
	ModeReportOnly RunMode = "report-only"
)

// AuditSummary aggregates counts across all resources an auditor examined.
type AuditSummary struct {
	// Scanned is the number of resources listed and classified.
	Scanned int `json:"scanned"`
	// Flagged is the number of resources the classifier marked.
	Flagged int `json:"flagged"`
	// Attempted counts remediation calls actually made.
	Attempted int `json:"attempted"`
	// Applied counts remediation calls that succeeded.
	Applied int `json:"applied"`
	// Failed counts remediation calls that returned an error.
	Failed int `json:"failed"`
	// EstimatedMonthlyCostUSD sums the "estimated_monthly_cost_usd" field of
	// the flagged records, when the auditor provides one.
	EstimatedMonthlyCostUSD float64 `json:"estimated_monthly_cost_usd,omitempty"`
}

// AuditReport is the JSON envelope of a single auditor run. Results holds one
// ordered record per flagged resource, or per scanned resource for auditors
// that report everything.
type AuditReport struct {
	Auditor     string    `json:"auditor"`
	GeneratedAt time.Time `json:"generated_at"`
	Profile     string    `json:"profile,omitempty"`
	AccountID   string    `json:"account_id,omitempty"`
	Regions     []string  `json:"regions"`
	Mode        RunMode   `json:"mode"`

	// MaxApply is the remediation cap in effect; zero for report-only auditors.
	MaxApply int `json:"max_apply,omitempty"`

	// Params records the thresholds and filters used for classification.
	Params  *Record      `json:"params,omitempty"`
	Summary AuditSummary `json:"summary"`

	// RegionErrors maps a region to the listing error that made the run skip it.
	RegionErrors map[string]string `json:"region_errors,omitempty"`
	Results      []*Record         `json:"results"`
}

// DryRun reports whether the run left resources untouched because the
// mutating flag was not supplied.
func (r *AuditReport) DryRun() bool {
	return r.Mode == ModeDryRun
}
