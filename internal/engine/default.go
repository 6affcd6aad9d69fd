package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/remediate"
)

// ErrAllRegionsFailed is returned with the report when no region could be
// listed at all.
var ErrAllRegionsFailed = errors.New("every region failed to list")

// DefaultEngine is the production implementation of Engine.
// Regions and resources are processed sequentially.
type DefaultEngine struct {
	observers []Observer
	now       func() time.Time
}

// NewDefaultEngine returns an engine that notifies observers after each run.
func NewDefaultEngine(observers ...Observer) *DefaultEngine {
	return &DefaultEngine{observers: observers, now: time.Now}
}

// RunAudit implements Engine.
//
// A region whose Collect fails is logged, recorded in the report's
// RegionErrors and skipped. Flagged candidates from all regions are then
// remediated in listing order under a single run-wide cap. Results hold the
// flagged candidates, or every candidate when the auditor sets ReportAll.
func (e *DefaultEngine) RunAudit(ctx context.Context, auditor Auditor, opts RunOptions) (*models.AuditReport, error) {
	started := e.now()
	info := auditor.Info()
	log := zerolog.Ctx(ctx).With().Str("auditor", info.ID).Logger()

	regions := opts.Regions
	if info.Scope == Global {
		regions = []string{""}
	}

	report := &models.AuditReport{
		Auditor:     info.ID,
		GeneratedAt: started.UTC(),
		Profile:     opts.Profile,
		AccountID:   opts.AccountID,
		Regions:     reportRegions(info.Scope, opts.Regions),
		Mode:        modeFor(info.Remediation),
		Params:      info.Params,
	}
	if info.Remediation != nil {
		report.MaxApply = info.Remediation.Max
	}

	var flagged, listed []*Candidate
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rlog := log.With().Str("region", labelRegion(region)).Logger()
		rlog.Debug().Msg("collecting")

		candidates, err := auditor.Collect(rlog.WithContext(ctx), region)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			rlog.Warn().Err(err).Msg("region skipped")
			if report.RegionErrors == nil {
				report.RegionErrors = make(map[string]string)
			}
			report.RegionErrors[labelRegion(region)] = err.Error()
			continue
		}

		report.Summary.Scanned += len(candidates)
		for _, c := range candidates {
			if c.Verdict.Flagged {
				flagged = append(flagged, c)
			}
		}
		listed = append(listed, candidates...)
		rlog.Debug().Int("scanned", len(candidates)).Msg("collected")
	}

	reported := flagged
	if info.ReportAll {
		reported = listed
	}
	for _, c := range reported {
		if c.Record == nil {
			c.Record = models.NewRecord("id", c.ID)
		}
		if info.ReportAll {
			c.Record.Set("flagged", c.Verdict.Flagged)
		}
		reasons := c.Verdict.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		c.Record.Set("reasons", reasons)
	}

	if rem := info.Remediation; rem != nil && len(flagged) > 0 {
		e.remediate(ctx, rem, opts.Limiter, flagged, &report.Summary)
	}

	report.Summary.Flagged = len(flagged)
	report.Results = make([]*models.Record, 0, len(reported))
	for _, c := range reported {
		report.Results = append(report.Results, c.Record)
	}
	for _, c := range flagged {
		if v, ok := c.Record.Get("estimated_monthly_cost_usd"); ok {
			if cost, ok := v.(float64); ok {
				report.Summary.EstimatedMonthlyCostUSD += cost
			}
		}
	}

	elapsed := e.now().Sub(started)
	for _, o := range e.observers {
		o.ObserveRun(report, elapsed)
	}

	log.Info().
		Int("scanned", report.Summary.Scanned).
		Int("flagged", report.Summary.Flagged).
		Int("applied", report.Summary.Applied).
		Int("region_errors", len(report.RegionErrors)).
		Dur("elapsed", elapsed).
		Msg("audit complete")

	if len(regions) > 0 && len(report.RegionErrors) == len(regions) {
		return report, fmt.Errorf("%s: %w", info.ID, ErrAllRegionsFailed)
	}
	return report, nil
}

// remediate applies rem to the flagged candidates and writes the outcome
// fields into each record.
func (e *DefaultEngine) remediate(ctx context.Context, rem *Remediation, fallback *rate.Limiter, flagged []*Candidate, summary *models.AuditSummary) {
	limiter := rem.Limiter
	if limiter == nil {
		limiter = fallback
	}
	res := remediate.Apply(ctx, flagged, rem.Action, remediate.Options{
		Max:     rem.Max,
		DryRun:  !rem.Enabled,
		Limiter: limiter,
	})

	for _, o := range res.Outcomes {
		o.Item.Record.Set(rem.Verb+"_attempted", o.Attempted)
		var errText any
		if o.Err != nil {
			errText = o.Err.Error()
		}
		o.Item.Record.Set(rem.Verb+"_error", errText)
	}
	summary.Applied = res.Applied
	summary.Failed = res.Failed
	summary.Attempted = res.Applied + res.Failed
}

func modeFor(rem *Remediation) models.RunMode {
	switch {
	case rem == nil:
		return models.ModeReportOnly
	case rem.Enabled:
		return models.ModeApply
	default:
		return models.ModeDryRun
	}
}

func reportRegions(scope Scope, regions []string) []string {
	if scope == Global {
		return []string{GlobalRegion}
	}
	out := make([]string, len(regions))
	copy(out, regions)
	return out
}

func labelRegion(region string) string {
	if region == "" {
		return GlobalRegion
	}
	return region
}
