package auditors

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ce "github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/classify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/paginate"
)

// CostSpikeID is the auditor identifier used in reports and policy files.
const CostSpikeID = "cost-spike"

const (
	ceDateLayout = "2006-01-02"
	ceMetric     = "UnblendedCost"
)

// CostSpikeConfig holds the thresholds of the cost spike auditor.
type CostSpikeConfig struct {
	// BaselineDays is the number of complete days averaged before the
	// latest complete day.
	BaselineDays int
	// SpikePct is how far above the baseline average, in percent, the
	// latest day must be.
	SpikePct float64
	// MinDailyUSD ignores services whose latest day costs less.
	MinDailyUSD float64
}

// DefaultCostSpikeConfig returns the documented defaults: a day at twice
// the weekly average, ignoring services under one dollar a day.
func DefaultCostSpikeConfig() CostSpikeConfig {
	return CostSpikeConfig{BaselineDays: 7, SpikePct: 100, MinDailyUSD: 1.0}
}

// CostSpike compares the latest complete day of unblended cost per service
// with the average of the preceding days. It never changes anything.
type CostSpike struct {
	env *Env
	cfg CostSpikeConfig
}

// NewCostSpike returns the cost spike auditor.
func NewCostSpike(env *Env, cfg CostSpikeConfig) *CostSpike {
	return &CostSpike{env: env, cfg: cfg}
}

// Info implements engine.Auditor.
func (a *CostSpike) Info() engine.Info {
	return engine.Info{
		ID:    CostSpikeID,
		Scope: engine.Global,
		Params: models.NewRecord(
			"baseline_days", a.cfg.BaselineDays,
			"spike_pct", a.cfg.SpikePct,
			"min_daily_usd", a.cfg.MinDailyUSD,
		),
		Columns:      []string{"service", "date", "cost_usd", "baseline_avg_usd", "increase_pct"},
		EmptyMessage: "No cost spikes detected.",
	}
}

// Collect implements engine.Auditor.
func (a *CostSpike) Collect(ctx context.Context, _ string) ([]*engine.Candidate, error) {
	client := a.env.Clients("").CostExplorer

	today := a.env.now().UTC().Truncate(24 * time.Hour)
	latest := today.AddDate(0, 0, -1)
	start := latest.AddDate(0, 0, -a.cfg.BaselineDays)

	days, err := paginate.ListAll(ctx, func(ctx context.Context, token *string) ([]cetypes.ResultByTime, *string, error) {
		out, err := client.GetCostAndUsage(ctx, &ce.GetCostAndUsageInput{
			TimePeriod: &cetypes.DateInterval{
				Start: aws.String(start.Format(ceDateLayout)),
				End:   aws.String(today.Format(ceDateLayout)),
			},
			Granularity:   cetypes.GranularityDaily,
			Metrics:       []string{ceMetric},
			GroupBy:       []cetypes.GroupDefinition{{Type: cetypes.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")}},
			NextPageToken: token,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("GetCostAndUsage: %w", err)
		}
		return out.ResultsByTime, out.NextPageToken, nil
	})
	if err != nil {
		return nil, err
	}

	// cost[service][date]
	cost := make(map[string]map[string]float64)
	for _, day := range days {
		if day.TimePeriod == nil {
			continue
		}
		date := aws.ToString(day.TimePeriod.Start)
		for _, g := range day.Groups {
			if len(g.Keys) == 0 {
				continue
			}
			amount, err := parseAmount(g.Metrics)
			if err != nil {
				continue
			}
			service := g.Keys[0]
			if cost[service] == nil {
				cost[service] = make(map[string]float64)
			}
			cost[service][date] += amount
		}
	}

	services := make([]string, 0, len(cost))
	for s := range cost {
		services = append(services, s)
	}
	sort.Strings(services)

	latestKey := latest.Format(ceDateLayout)
	var candidates []*engine.Candidate
	for _, service := range services {
		var total float64
		for d := start; d.Before(latest); d = d.AddDate(0, 0, 1) {
			total += cost[service][d.Format(ceDateLayout)]
		}
		avg := 0.0
		if a.cfg.BaselineDays > 0 {
			avg = total / float64(a.cfg.BaselineDays)
		}
		current := cost[service][latestKey]

		var increase any
		if avg > 0 {
			increase = round2((current - avg) / avg * 100)
		}

		threshold := avg * (1 + a.cfg.SpikePct/100)
		checks := []classify.Check{
			{Name: "cost_usd", Observed: current, Threshold: threshold, Op: classify.AtLeast,
				Text: fmt.Sprintf("cost $%.2f >= $%.2f (baseline $%.2f + %.0f%%)", current, threshold, avg, a.cfg.SpikePct)},
			{Name: "min_daily_usd", Observed: current, Threshold: a.cfg.MinDailyUSD, Op: classify.AtLeast},
		}

		candidates = append(candidates, &engine.Candidate{
			ID: service,
			Record: models.NewRecord(
				"service", service,
				"date", latestKey,
				"cost_usd", round2(current),
				"baseline_avg_usd", round2(avg),
				"increase_pct", increase,
			),
			Verdict: classify.Classify(checks, classify.All),
		})
	}
	return candidates, nil
}

func parseAmount(metrics map[string]cetypes.MetricValue) (float64, error) {
	mv, ok := metrics[ceMetric]
	if !ok {
		return 0, fmt.Errorf("metric %s missing", ceMetric)
	}
	return strconv.ParseFloat(aws.ToString(mv.Amount), 64)
}
