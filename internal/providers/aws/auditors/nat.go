package auditors

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/classify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/paginate"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/providers/aws/cwmetrics"
)

// NATIdleID is the auditor identifier used in reports and policy files.
const NATIdleID = "nat-idle"

const (
	natNamespace  = "AWS/NATGateway"
	hoursPerMonth = 730.0
	bytesPerGB    = 1024 * 1024 * 1024
)

// natByteMetrics are summed to get the total traffic through a gateway.
var natByteMetrics = []string{
	"BytesInFromSource",
	"BytesOutToDestination",
	"BytesOutToSource",
	"BytesInFromDestination",
}

// NATIdleConfig holds the thresholds and switches of the idle NAT auditor.
type NATIdleConfig struct {
	WindowDays       int
	Period           time.Duration
	MinBytes         float64
	MaxActiveConnAvg float64
	CheckRoutes      bool
	Filters          Filters

	HourlyRate float64
	PerGBRate  float64

	ApplyTag bool
	Tag      ReviewTag
	MaxApply int
}

// DefaultNATIdleConfig returns the documented defaults.
func DefaultNATIdleConfig() NATIdleConfig {
	return NATIdleConfig{
		WindowDays:       14,
		Period:           time.Hour,
		MaxActiveConnAvg: 0.1,
		HourlyRate:       0.045,
		PerGBRate:        0.045,
		Tag:              ReviewTag{Key: "Cost:Review", Value: "idle-candidate"},
		MaxApply:         50,
	}
}

// NATIdle flags available NAT gateways that moved no more than MinBytes and
// held on average no more than MaxActiveConnAvg connections.
type NATIdle struct {
	env *Env
	cfg NATIdleConfig
}

// NewNATIdle returns the idle NAT gateway auditor.
func NewNATIdle(env *Env, cfg NATIdleConfig) *NATIdle {
	return &NATIdle{env: env, cfg: cfg}
}

// Info implements engine.Auditor.
func (a *NATIdle) Info() engine.Info {
	return engine.Info{
		ID:    NATIdleID,
		Scope: engine.Regional,
		Params: models.NewRecord(
			"window_days", a.cfg.WindowDays,
			"min_bytes", a.cfg.MinBytes,
			"max_active_conn_avg", a.cfg.MaxActiveConnAvg,
			"apply_tag", a.cfg.ApplyTag,
			"max_apply", a.cfg.MaxApply,
		),
		Columns:      []string{"region", "nat_gateway_id", "name", "data_gb_window", "avg_active_conn", "routes_to_nat", "monthly_estimate_usd", "tag_attempted", "tag_error"},
		EmptyMessage: "No idle NAT Gateways found under current thresholds.",
		Remediation: &engine.Remediation{
			Verb:    "tag",
			Enabled: a.cfg.ApplyTag,
			Max:     a.cfg.MaxApply,
			Hint:    "use --apply-tag to mark candidates for review.",
			Action: func(ctx context.Context, c *engine.Candidate) error {
				return createReviewTag(ctx, c.Target.(*Clients).EC2, c.ID, a.cfg.Tag)
			},
		},
	}
}

// Collect implements engine.Auditor.
func (a *NATIdle) Collect(ctx context.Context, region string) ([]*engine.Candidate, error) {
	clients := a.env.Clients(region)

	gateways, err := paginate.ListAll(ctx, func(ctx context.Context, token *string) ([]ec2types.NatGateway, *string, error) {
		out, err := clients.EC2.DescribeNatGateways(ctx, &ec2svc.DescribeNatGatewaysInput{
			Filter: []ec2types.Filter{
				{Name: aws.String("state"), Values: []string{string(ec2types.NatGatewayStateAvailable)}},
			},
			MaxResults: aws.Int32(200),
			NextToken:  token,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("DescribeNatGateways: %w", err)
		}
		return out.NatGateways, out.NextToken, nil
	})
	if err != nil {
		return nil, err
	}

	metrics := cwmetrics.NewFetcher(clients.CloudWatch, cwmetrics.Days(a.cfg.WindowDays, a.cfg.Period)).WithClock(a.env.now)

	var candidates []*engine.Candidate
	for _, ng := range gateways {
		if ng.State != ec2types.NatGatewayStateAvailable {
			continue
		}
		id := aws.ToString(ng.NatGatewayId)
		tags := tagsFromEC2(ng.Tags)
		if !a.cfg.Filters.Match(id, tags) {
			continue
		}

		dims := map[string]string{"NatGatewayId": id}
		var totalBytes float64
		for _, m := range natByteMetrics {
			totalBytes += metrics.Value(ctx, cwmetrics.Query{Namespace: natNamespace, MetricName: m, Dimensions: dims, Stat: cwmetrics.Sum})
		}
		avgConn := metrics.Value(ctx, cwmetrics.Query{Namespace: natNamespace, MetricName: "ActiveConnectionCount", Dimensions: dims, Stat: cwmetrics.Average})

		var routes any
		if a.cfg.CheckRoutes {
			routes = countRoutesToNAT(ctx, clients.EC2, id)
		}

		dataGB := totalBytes / bytesPerGB
		checks := []classify.Check{
			{Name: "total_bytes", Observed: totalBytes, Threshold: a.cfg.MinBytes, Op: classify.AtMost},
			{Name: "avg_active_conn", Observed: avgConn, Threshold: a.cfg.MaxActiveConnAvg, Op: classify.AtMost},
		}

		candidates = append(candidates, &engine.Candidate{
			ID:     id,
			Region: region,
			Record: models.NewRecord(
				"region", region,
				"nat_gateway_id", id,
				"name", tags["Name"],
				"vpc_id", aws.ToString(ng.VpcId),
				"total_bytes_window", totalBytes,
				"data_gb_window", round2(dataGB),
				"avg_active_conn", round2(avgConn),
				"routes_to_nat", routes,
				"hourly_estimate_usd", a.cfg.HourlyRate,
				"monthly_estimate_usd", round2(a.cfg.HourlyRate*hoursPerMonth+dataGB*a.cfg.PerGBRate),
			),
			Verdict: classify.Classify(checks, classify.All),
			Target:  clients,
		})
	}
	return candidates, nil
}

// countRoutesToNAT returns how many route tables send traffic to the
// gateway, or nil when the lookup fails.
func countRoutesToNAT(ctx context.Context, client EC2Client, natID string) any {
	tables, err := paginate.ListAll(ctx, func(ctx context.Context, token *string) ([]ec2types.RouteTable, *string, error) {
		out, err := client.DescribeRouteTables(ctx, &ec2svc.DescribeRouteTablesInput{
			Filters:   []ec2types.Filter{{Name: aws.String("route.nat-gateway-id"), Values: []string{natID}}},
			NextToken: token,
		})
		if err != nil {
			return nil, nil, err
		}
		return out.RouteTables, out.NextToken, nil
	})
	if err != nil {
		return nil
	}
	return len(tables)
}
