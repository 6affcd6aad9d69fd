package auditors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/classify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/paginate"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/providers/aws/cwmetrics"
)

// ELBIdleID is the auditor identifier used in reports and policy files.
const ELBIdleID = "elb-idle"

const (
	albNamespace = "AWS/ApplicationELB"
	nlbNamespace = "AWS/NetworkELB"
)

// ELBIdleConfig holds the thresholds and switches of the idle load balancer auditor.
type ELBIdleConfig struct {
	WindowDays     int
	Period         time.Duration
	MinRequests    float64
	MaxActiveFlows float64
	MinBytes       float64
	// CheckTargetHealth adds a per-state count of registered targets.
	CheckTargetHealth bool
	Filters           Filters

	ApplyTag bool
	Tag      ReviewTag
	MaxApply int
}

// DefaultELBIdleConfig returns the documented defaults.
func DefaultELBIdleConfig() ELBIdleConfig {
	return ELBIdleConfig{
		WindowDays:     14,
		Period:         time.Hour,
		MaxActiveFlows: 0.1,
		Tag:            ReviewTag{Key: "Cost:Review", Value: "idle-candidate"},
		MaxApply:       50,
	}
}

// ELBIdle flags application load balancers that served no more than
// MinRequests and network load balancers that averaged no more than
// MaxActiveFlows, when both also processed no more than MinBytes.
// Gateway load balancers are skipped.
type ELBIdle struct {
	env *Env
	cfg ELBIdleConfig
}

// NewELBIdle returns the idle load balancer auditor.
func NewELBIdle(env *Env, cfg ELBIdleConfig) *ELBIdle {
	return &ELBIdle{env: env, cfg: cfg}
}

// Info implements engine.Auditor.
func (a *ELBIdle) Info() engine.Info {
	return engine.Info{
		ID:    ELBIdleID,
		Scope: engine.Regional,
		Params: models.NewRecord(
			"window_days", a.cfg.WindowDays,
			"min_requests", a.cfg.MinRequests,
			"max_active_flows", a.cfg.MaxActiveFlows,
			"min_bytes", a.cfg.MinBytes,
			"apply_tag", a.cfg.ApplyTag,
			"max_apply", a.cfg.MaxApply,
		),
		Columns:      []string{"region", "lb_name", "type", "request_count_sum", "active_flow_avg", "processed_bytes_sum", "tag_attempted", "tag_error"},
		EmptyMessage: "No idle ALB/NLB found under current thresholds.",
		Remediation: &engine.Remediation{
			Verb:    "tag",
			Enabled: a.cfg.ApplyTag,
			Max:     a.cfg.MaxApply,
			Hint:    "use --apply-tag to mark candidates for review.",
			Action:  a.tag,
		},
	}
}

// Collect implements engine.Auditor.
func (a *ELBIdle) Collect(ctx context.Context, region string) ([]*engine.Candidate, error) {
	clients := a.env.Clients(region)

	lbs, err := paginate.ListAll(ctx, func(ctx context.Context, marker *string) ([]elbtypes.LoadBalancer, *string, error) {
		out, err := clients.ELBv2.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{Marker: marker})
		if err != nil {
			return nil, nil, fmt.Errorf("DescribeLoadBalancers: %w", err)
		}
		return out.LoadBalancers, out.NextMarker, nil
	})
	if err != nil {
		return nil, err
	}

	metrics := cwmetrics.NewFetcher(clients.CloudWatch, cwmetrics.Days(a.cfg.WindowDays, a.cfg.Period)).WithClock(a.env.now)
	needTags := len(a.cfg.Filters.RequiredTags) > 0 || len(a.cfg.Filters.ExcludeTags) > 0

	var candidates []*engine.Candidate
	for _, lb := range lbs {
		if lb.Type == elbtypes.LoadBalancerTypeEnumGateway {
			continue
		}
		arn := aws.ToString(lb.LoadBalancerArn)
		name := aws.ToString(lb.LoadBalancerName)
		dim := lbDimension(arn)
		if dim == "" {
			continue
		}

		tags := map[string]string{"Name": name}
		if needTags {
			lbTags, err := describeLBTags(ctx, clients.ELBv2, arn)
			if err != nil {
				zerolog.Ctx(ctx).Debug().Err(err).Str("lb", name).Msg("describe tags failed")
			}
			for k, v := range lbTags {
				tags[k] = v
			}
		}
		if !a.cfg.Filters.Match(arn, tags) {
			continue
		}

		dims := map[string]string{"LoadBalancer": dim}
		var (
			checks   []classify.Check
			reqSum   any
			flowAvg  any
			bytesSum float64
		)
		if lb.Type == elbtypes.LoadBalancerTypeEnumApplication {
			req := metrics.Value(ctx, cwmetrics.Query{Namespace: albNamespace, MetricName: "RequestCount", Dimensions: dims, Stat: cwmetrics.Sum})
			bytesSum = metrics.Value(ctx, cwmetrics.Query{Namespace: albNamespace, MetricName: "ProcessedBytes", Dimensions: dims, Stat: cwmetrics.Sum})
			reqSum = req
			checks = append(checks, classify.Check{Name: "request_count_sum", Observed: req, Threshold: a.cfg.MinRequests, Op: classify.AtMost})
		} else {
			flows := metrics.Value(ctx, cwmetrics.Query{Namespace: nlbNamespace, MetricName: "ActiveFlowCount", Dimensions: dims, Stat: cwmetrics.Average})
			bytesSum = metrics.Value(ctx, cwmetrics.Query{Namespace: nlbNamespace, MetricName: "ProcessedBytes", Dimensions: dims, Stat: cwmetrics.Sum})
			flowAvg = round2(flows)
			checks = append(checks, classify.Check{Name: "active_flow_avg", Observed: flows, Threshold: a.cfg.MaxActiveFlows, Op: classify.AtMost})
		}
		checks = append(checks, classify.Check{Name: "processed_bytes_sum", Observed: bytesSum, Threshold: a.cfg.MinBytes, Op: classify.AtMost})

		var health any
		if a.cfg.CheckTargetHealth {
			health = targetHealthSummary(ctx, clients.ELBv2, arn)
		}

		var securityGroups any
		if lb.Type == elbtypes.LoadBalancerTypeEnumApplication {
			securityGroups = lb.SecurityGroups
		}

		candidates = append(candidates, &engine.Candidate{
			ID:     arn,
			Region: region,
			Record: models.NewRecord(
				"region", region,
				"lb_arn", arn,
				"lb_name", name,
				"type", string(lb.Type),
				"scheme", string(lb.Scheme),
				"vpc_id", aws.ToString(lb.VpcId),
				"security_groups", securityGroups,
				"cw_dimension", dim,
				"request_count_sum", reqSum,
				"active_flow_avg", flowAvg,
				"processed_bytes_sum", bytesSum,
				"target_health", health,
			),
			Verdict: classify.Classify(checks, classify.All),
			Target:  clients,
		})
	}
	return candidates, nil
}

func (a *ELBIdle) tag(ctx context.Context, c *engine.Candidate) error {
	_, err := c.Target.(*Clients).ELBv2.AddTags(ctx, &elbv2.AddTagsInput{
		ResourceArns: []string{c.ID},
		Tags:         []elbtypes.Tag{{Key: aws.String(a.cfg.Tag.Key), Value: aws.String(a.cfg.Tag.Value)}},
	})
	if err != nil {
		return fmt.Errorf("AddTags: %w", err)
	}
	return nil
}

// lbDimension extracts the CloudWatch LoadBalancer dimension
// ("app/name/hash" or "net/name/hash") from a load balancer ARN.
func lbDimension(arn string) string {
	_, dim, ok := strings.Cut(arn, ":loadbalancer/")
	if !ok {
		return ""
	}
	return dim
}

func describeLBTags(ctx context.Context, client ELBv2Client, arn string) (map[string]string, error) {
	out, err := client.DescribeTags(ctx, &elbv2.DescribeTagsInput{ResourceArns: []string{arn}})
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string)
	for _, d := range out.TagDescriptions {
		for _, t := range d.Tags {
			tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
	}
	return tags, nil
}

// targetHealthSummary counts the targets of every target group attached to
// the load balancer by health state. Unknown states count as "other".
func targetHealthSummary(ctx context.Context, client ELBv2Client, lbArn string) map[string]int {
	summary := map[string]int{"healthy": 0, "unhealthy": 0, "initial": 0, "unused": 0, "draining": 0, "other": 0}

	groups, err := paginate.ListAll(ctx, func(ctx context.Context, marker *string) ([]elbtypes.TargetGroup, *string, error) {
		out, err := client.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{LoadBalancerArn: aws.String(lbArn), Marker: marker})
		if err != nil {
			return nil, nil, err
		}
		return out.TargetGroups, out.NextMarker, nil
	})
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("lb", lbArn).Msg("describe target groups failed")
		return summary
	}

	for _, tg := range groups {
		out, err := client.DescribeTargetHealth(ctx, &elbv2.DescribeTargetHealthInput{TargetGroupArn: tg.TargetGroupArn})
		if err != nil {
			continue
		}
		for _, d := range out.TargetHealthDescriptions {
			state := "unknown"
			if d.TargetHealth != nil && d.TargetHealth.State != "" {
				state = strings.ToLower(string(d.TargetHealth.State))
			}
			if _, ok := summary[state]; ok {
				summary[state]++
			} else {
				summary["other"]++
			}
		}
	}
	return summary
}
