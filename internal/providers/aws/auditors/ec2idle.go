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

// EC2IdleID is the auditor identifier used in reports and policy files.
const EC2IdleID = "ec2-idle"

const bytesPerMB = 1024 * 1024

// ReviewTag is the key/value written by the tagging remediations.
type ReviewTag struct {
	Key   string
	Value string
}

// EC2IdleConfig holds the thresholds and switches of the idle instance auditor.
type EC2IdleConfig struct {
	WindowDays   int
	Period       time.Duration
	MaxCPUAvg    float64
	MaxNetworkMB float64
	Filters      Filters

	// TreatMissingMetricsIdle classifies instances without CloudWatch data
	// as idle. By default they are considered active and never flagged.
	TreatMissingMetricsIdle bool

	ApplyTag bool
	Tag      ReviewTag
	MaxTag   int
}

// DefaultEC2IdleConfig returns the documented defaults.
func DefaultEC2IdleConfig() EC2IdleConfig {
	return EC2IdleConfig{
		WindowDays:   7,
		Period:       time.Hour,
		MaxCPUAvg:    3.0,
		MaxNetworkMB: 50,
		Tag:          ReviewTag{Key: "Cost:Review", Value: "ec2-idle-candidate"},
		MaxTag:       100,
	}
}

// EC2Idle flags running instances whose average CPU and combined network
// traffic both stay under the thresholds for the whole window.
type EC2Idle struct {
	env *Env
	cfg EC2IdleConfig
}

// NewEC2Idle returns the idle instance auditor.
func NewEC2Idle(env *Env, cfg EC2IdleConfig) *EC2Idle {
	return &EC2Idle{env: env, cfg: cfg}
}

// Info implements engine.Auditor.
func (a *EC2Idle) Info() engine.Info {
	return engine.Info{
		ID:    EC2IdleID,
		Scope: engine.Regional,
		Params: models.NewRecord(
			"window_days", a.cfg.WindowDays,
			"period_seconds", int(a.cfg.Period/time.Second),
			"max_cpu_avg", a.cfg.MaxCPUAvg,
			"max_network_mb", a.cfg.MaxNetworkMB,
			"treat_missing_metrics_idle", a.cfg.TreatMissingMetricsIdle,
			"apply_tag", a.cfg.ApplyTag,
			"max_tag", a.cfg.MaxTag,
		),
		Columns:      []string{"region", "instance_id", "name", "instance_type", "cpu_avg", "network_mb", "metrics_missing", "tag_attempted", "tag_error"},
		EmptyMessage: "No idle EC2 instances found under current thresholds.",
		Remediation: &engine.Remediation{
			Verb:    "tag",
			Enabled: a.cfg.ApplyTag,
			Max:     a.cfg.MaxTag,
			Hint:    fmt.Sprintf("use --apply-tag to tag flagged instances with %s=%s.", a.cfg.Tag.Key, a.cfg.Tag.Value),
			Action:  a.tag,
		},
	}
}

// Collect implements engine.Auditor.
func (a *EC2Idle) Collect(ctx context.Context, region string) ([]*engine.Candidate, error) {
	clients := a.env.Clients(region)

	instances, err := listInstances(ctx, clients.EC2, ec2types.InstanceStateNameRunning)
	if err != nil {
		return nil, err
	}

	metrics := cwmetrics.NewFetcher(clients.CloudWatch, cwmetrics.Days(a.cfg.WindowDays, a.cfg.Period)).WithClock(a.env.now)

	var candidates []*engine.Candidate
	for _, inst := range instances {
		id := aws.ToString(inst.InstanceId)
		tags := tagsFromEC2(inst.Tags)
		if !a.cfg.Filters.Match(id, tags) {
			continue
		}

		dims := map[string]string{"InstanceId": id}
		cpu := metrics.Fetch(ctx, cwmetrics.Query{Namespace: "AWS/EC2", MetricName: "CPUUtilization", Dimensions: dims, Stat: cwmetrics.Average})
		netIn := metrics.Fetch(ctx, cwmetrics.Query{Namespace: "AWS/EC2", MetricName: "NetworkIn", Dimensions: dims, Stat: cwmetrics.Sum})
		netOut := metrics.Fetch(ctx, cwmetrics.Query{Namespace: "AWS/EC2", MetricName: "NetworkOut", Dimensions: dims, Stat: cwmetrics.Sum})

		missing := !cpu.Present || !netIn.Present || !netOut.Present
		networkMB := (netIn.Value + netOut.Value) / bytesPerMB

		checks := []classify.Check{
			{Name: "cpu_avg", Observed: cpu.Value, Threshold: a.cfg.MaxCPUAvg, Op: classify.AtMost},
			{Name: "network_mb", Observed: networkMB, Threshold: a.cfg.MaxNetworkMB, Op: classify.AtMost},
		}
		if missing {
			checks = append(checks, classify.Condition("metrics", a.cfg.TreatMissingMetricsIdle, "metrics missing, treated as idle"))
		}

		candidates = append(candidates, &engine.Candidate{
			ID:     id,
			Region: region,
			Record: models.NewRecord(
				"region", region,
				"instance_id", id,
				"name", tags["Name"],
				"instance_type", string(inst.InstanceType),
				"cpu_avg", round2(cpu.Value),
				"network_mb", round2(networkMB),
				"metrics_missing", missing,
			),
			Verdict: classify.Classify(checks, classify.All),
			Target:  clients,
		})
	}
	return candidates, nil
}

func (a *EC2Idle) tag(ctx context.Context, c *engine.Candidate) error {
	return createReviewTag(ctx, c.Target.(*Clients).EC2, c.ID, a.cfg.Tag)
}

// listInstances pages DescribeInstances with an instance-state filter and
// flattens the reservations. Instances in other states are dropped even if
// the API returns them.
func listInstances(ctx context.Context, client EC2Client, states ...ec2types.InstanceStateName) ([]ec2types.Instance, error) {
	values := make([]string, 0, len(states))
	wanted := make(map[ec2types.InstanceStateName]bool, len(states))
	for _, st := range states {
		values = append(values, string(st))
		wanted[st] = true
	}

	reservations, err := paginate.ListAll(ctx, func(ctx context.Context, token *string) ([]ec2types.Reservation, *string, error) {
		out, err := client.DescribeInstances(ctx, &ec2svc.DescribeInstancesInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("instance-state-name"), Values: values},
			},
			NextToken: token,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("DescribeInstances: %w", err)
		}
		return out.Reservations, out.NextToken, nil
	})
	if err != nil {
		return nil, err
	}

	var instances []ec2types.Instance
	for _, r := range reservations {
		for _, inst := range r.Instances {
			if inst.State != nil && !wanted[inst.State.Name] {
				continue
			}
			instances = append(instances, inst)
		}
	}
	return instances, nil
}

// createReviewTag writes tag onto an EC2 resource (instance, NAT gateway).
func createReviewTag(ctx context.Context, client EC2Client, resourceID string, tag ReviewTag) error {
	_, err := client.CreateTags(ctx, &ec2svc.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      []ec2types.Tag{{Key: aws.String(tag.Key), Value: aws.String(tag.Value)}},
	})
	if err != nil {
		return fmt.Errorf("CreateTags: %w", err)
	}
	return nil
}
