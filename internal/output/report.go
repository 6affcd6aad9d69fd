package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
)

// Format selects the report encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// ParseFormat validates a --report style flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unsupported report format %q: must be table or json", s)
	}
}

// Render writes records in the given format. JSON mode emits a bare array
// ("[]" when empty); table mode delegates to RenderTable.
func Render(w io.Writer, records []*models.Record, format Format, opts TableOptions) error {
	if format == FormatJSON {
		if records == nil {
			records = []*models.Record{}
		}
		return RenderJSON(w, records)
	}
	return RenderTable(w, records, opts)
}

// ReportOptions configures RenderReport.
type ReportOptions struct {
	Table TableOptions
	// DryRunHint is printed under the table when the run was a dry-run and
	// something was flagged, e.g. "re-run with --apply to delete".
	DryRunHint string
}

// RenderReport writes a full audit report. JSON mode emits the envelope with
// run parameters; table mode prints the result table, a summary line and,
// for dry-runs, a highlighted hint naming the flag that enables action.
func RenderReport(w io.Writer, report *models.AuditReport, format Format, opts ReportOptions) error {
	if format == FormatJSON {
		if report.Results == nil {
			report.Results = []*models.Record{}
		}
		return RenderJSON(w, report)
	}

	if err := RenderTable(w, report.Results, opts.Table); err != nil {
		return err
	}

	s := report.Summary
	fmt.Fprintf(w, "\n%s: scanned %d, flagged %d", report.Auditor, s.Scanned, s.Flagged)
	if report.Mode == models.ModeApply {
		fmt.Fprintf(w, ", applied %d, failed %d", s.Applied, s.Failed)
	}
	if s.EstimatedMonthlyCostUSD > 0 {
		fmt.Fprintf(w, ", est. $%.2f/month", s.EstimatedMonthlyCostUSD)
	}
	fmt.Fprintln(w)

	regions := make([]string, 0, len(report.RegionErrors))
	for region := range report.RegionErrors {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	for _, region := range regions {
		color.New(color.FgRed).Fprintf(w, "region %s skipped: %s\n", region, report.RegionErrors[region])
	}

	if report.DryRun() && s.Flagged > 0 && opts.DryRunHint != "" {
		color.New(color.FgYellow).Fprintf(w, "Dry-run: %s\n", opts.DryRunHint)
	}
	return nil
}
