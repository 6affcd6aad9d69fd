package engine

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/classify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/remediate"
)

// Scope says whether an auditor runs once per region or once per account.
type Scope int

const (
	// Regional auditors are collected once for every resolved region.
	Regional Scope = iota
	// Global auditors (IAM, S3 buckets, Cost Explorer, clusters, endpoints)
	// are collected once; Collect receives an empty region.
	Global
)

// GlobalRegion is the region label reported for Global auditors.
const GlobalRegion = "global"

// Candidate is one listed resource together with its verdict.
type Candidate struct {
	// ID is the provider identifier of the resource (volume ID, ARN, ...).
	ID string
	// Region is the region the resource was listed in; empty for global.
	Region string
	// Record holds the fields reported for this resource.
	Record *models.Record
	// Verdict is the classifier result. Only flagged candidates are
	// remediated and, unless Info.ReportAll is set, reported.
	Verdict classify.Result
	// Target carries whatever the remediation action needs (for example the
	// region-scoped client). The engine never inspects it.
	Target any
}

// Remediation describes the optional mutating action of an auditor.
type Remediation struct {
	// Verb prefixes the outcome fields added to each record:
	// "<verb>_attempted" and "<verb>_error".
	Verb string
	// Enabled is true when the mutating flag was supplied. When false the
	// run is a dry-run and Action is never invoked.
	Enabled bool
	// Max caps successful actions across the whole run.
	Max int
	// Limiter paces calls to Action when non-nil.
	Limiter *rate.Limiter
	// Hint tells the operator how to enable the action, e.g.
	// "re-run with --apply to delete".
	Hint string
	// Action mutates one flagged resource.
	Action remediate.Action[*Candidate]
}

// Info describes an auditor to the engine and the reporters.
type Info struct {
	ID    string
	Scope Scope
	// Params records thresholds and filters in effect; echoed in JSON output.
	Params *models.Record
	// Columns selects the table columns; nil shows every field.
	Columns []string
	// EmptyMessage is printed in table mode when nothing is flagged.
	EmptyMessage string
	// ReportAll lists every scanned candidate in the results, each record
	// carrying a "flagged" field. Summary.Flagged and the estimated cost
	// still count flagged candidates only.
	ReportAll bool
	// Remediation is nil for report-only auditors.
	Remediation *Remediation
}

// Auditor lists and classifies one kind of resource.
type Auditor interface {
	Info() Info
	// Collect lists and classifies every resource in region. A returned
	// error makes the engine skip the region.
	Collect(ctx context.Context, region string) ([]*Candidate, error)
}

// RunOptions configures a single audit run.
type RunOptions struct {
	// Regions are the resolved regions for Regional auditors.
	Regions []string
	// Profile and AccountID are echoed in the report.
	Profile   string
	AccountID string
	// Limiter paces remediation calls when the auditor sets none.
	Limiter *rate.Limiter
}

// Observer is notified after every completed run.
type Observer interface {
	ObserveRun(report *models.AuditReport, elapsed time.Duration)
}

// Engine is the central orchestration interface. It runs one auditor across
// its regions, remediates flagged resources under the cap and assembles the
// report.
type Engine interface {
	RunAudit(ctx context.Context, auditor Auditor, opts RunOptions) (*models.AuditReport, error)
}
