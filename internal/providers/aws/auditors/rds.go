package auditors

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/classify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/paginate"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/providers/aws/cwmetrics"
)

// RDSIdleID is the auditor identifier used in reports and policy files.
const RDSIdleID = "rds-idle"

const rdsNamespace = "AWS/RDS"

// RDSIdleConfig holds the thresholds and switches of the idle database auditor.
type RDSIdleConfig struct {
	WindowDays     int
	Period         time.Duration
	MaxCPUAvg      float64
	MaxConnections float64
	MaxIOPSSum     float64
	// IncludeClusters also audits Aurora DB clusters.
	IncludeClusters bool
	Filters         Filters

	ApplyTag bool
	Tag      ReviewTag
	MaxTag   int
}

// DefaultRDSIdleConfig returns the documented defaults.
func DefaultRDSIdleConfig() RDSIdleConfig {
	return RDSIdleConfig{
		WindowDays:      7,
		Period:          time.Hour,
		MaxCPUAvg:       2.0,
		MaxConnections:  3.0,
		MaxIOPSSum:      100,
		IncludeClusters: true,
		Tag:             ReviewTag{Key: "Cost:Review", Value: "rds-idle-candidate"},
		MaxTag:          50,
	}
}

// RDSIdle flags DB instances (and optionally Aurora clusters) with low CPU,
// few connections and little I/O over the window.
type RDSIdle struct {
	env *Env
	cfg RDSIdleConfig
}

// NewRDSIdle returns the idle database auditor.
func NewRDSIdle(env *Env, cfg RDSIdleConfig) *RDSIdle {
	return &RDSIdle{env: env, cfg: cfg}
}

// Info implements engine.Auditor.
func (a *RDSIdle) Info() engine.Info {
	return engine.Info{
		ID:    RDSIdleID,
		Scope: engine.Regional,
		Params: models.NewRecord(
			"window_days", a.cfg.WindowDays,
			"max_cpu_avg", a.cfg.MaxCPUAvg,
			"max_connections", a.cfg.MaxConnections,
			"max_iops_sum", a.cfg.MaxIOPSSum,
			"include_clusters", a.cfg.IncludeClusters,
			"apply_tag", a.cfg.ApplyTag,
			"max_tag", a.cfg.MaxTag,
		),
		Columns:      []string{"region", "type", "id", "engine", "cpu_avg", "db_connections", "iops_sum", "tag_attempted", "tag_error"},
		EmptyMessage: "No idle RDS resources found under current thresholds.",
		Remediation: &engine.Remediation{
			Verb:    "tag",
			Enabled: a.cfg.ApplyTag,
			Max:     a.cfg.MaxTag,
			Hint:    fmt.Sprintf("use --apply-tag to tag flagged resources with %s=%s.", a.cfg.Tag.Key, a.cfg.Tag.Value),
			Action:  a.tag,
		},
	}
}

// rdsResource is the common shape of a DB instance or cluster.
type rdsResource struct {
	kind      string
	id        string
	arn       string
	engine    string
	class     string
	dimension string
	tags      map[string]string
}

// Collect implements engine.Auditor.
func (a *RDSIdle) Collect(ctx context.Context, region string) ([]*engine.Candidate, error) {
	clients := a.env.Clients(region)

	resources, err := listDBInstances(ctx, clients.RDS)
	if err != nil {
		return nil, err
	}
	if a.cfg.IncludeClusters {
		clusters, err := listDBClusters(ctx, clients.RDS)
		if err != nil {
			return nil, err
		}
		resources = append(resources, clusters...)
	}

	metrics := cwmetrics.NewFetcher(clients.CloudWatch, cwmetrics.Days(a.cfg.WindowDays, a.cfg.Period)).WithClock(a.env.now)

	var candidates []*engine.Candidate
	for _, r := range resources {
		if !a.cfg.Filters.Match(r.id, r.tags) {
			continue
		}

		dims := map[string]string{r.dimension: r.id}
		cpu := metrics.Fetch(ctx, cwmetrics.Query{Namespace: rdsNamespace, MetricName: "CPUUtilization", Dimensions: dims, Stat: cwmetrics.Average})
		conn := metrics.Fetch(ctx, cwmetrics.Query{Namespace: rdsNamespace, MetricName: "DatabaseConnections", Dimensions: dims, Stat: cwmetrics.Average})
		iops := metrics.Value(ctx, cwmetrics.Query{Namespace: rdsNamespace, MetricName: "ReadIOPS", Dimensions: dims, Stat: cwmetrics.Sum}) +
			metrics.Value(ctx, cwmetrics.Query{Namespace: rdsNamespace, MetricName: "WriteIOPS", Dimensions: dims, Stat: cwmetrics.Sum})

		// Without CPU or connection data the resource is never flagged.
		checks := []classify.Check{
			classify.Condition("metrics", cpu.Present && conn.Present, "cpu and connection metrics present"),
			{Name: "cpu_avg", Observed: cpu.Value, Threshold: a.cfg.MaxCPUAvg, Op: classify.AtMost},
			{Name: "db_connections", Observed: conn.Value, Threshold: a.cfg.MaxConnections, Op: classify.AtMost},
			{Name: "iops_sum", Observed: iops, Threshold: a.cfg.MaxIOPSSum, Op: classify.AtMost},
		}

		candidates = append(candidates, &engine.Candidate{
			ID:     r.arn,
			Region: region,
			Record: models.NewRecord(
				"region", region,
				"type", r.kind,
				"id", r.id,
				"arn", r.arn,
				"engine", r.engine,
				"class", r.class,
				"cpu_avg", round2(cpu.Value),
				"db_connections", round2(conn.Value),
				"iops_sum", round2(iops),
			),
			Verdict: classify.Classify(checks, classify.All),
			Target:  clients,
		})
	}
	return candidates, nil
}

func (a *RDSIdle) tag(ctx context.Context, c *engine.Candidate) error {
	_, err := c.Target.(*Clients).RDS.AddTagsToResource(ctx, &rds.AddTagsToResourceInput{
		ResourceName: aws.String(c.ID),
		Tags:         []rdstypes.Tag{{Key: aws.String(a.cfg.Tag.Key), Value: aws.String(a.cfg.Tag.Value)}},
	})
	if err != nil {
		return fmt.Errorf("AddTagsToResource: %w", err)
	}
	return nil
}

func listDBInstances(ctx context.Context, client RDSClient) ([]rdsResource, error) {
	dbs, err := paginate.ListAll(ctx, func(ctx context.Context, marker *string) ([]rdstypes.DBInstance, *string, error) {
		out, err := client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
		if err != nil {
			return nil, nil, fmt.Errorf("DescribeDBInstances: %w", err)
		}
		return out.DBInstances, out.Marker, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]rdsResource, 0, len(dbs))
	for _, db := range dbs {
		id := aws.ToString(db.DBInstanceIdentifier)
		arn := aws.ToString(db.DBInstanceArn)
		if arn == "" {
			arn = id
		}
		out = append(out, rdsResource{
			kind:      "db_instance",
			id:        id,
			arn:       arn,
			engine:    aws.ToString(db.Engine),
			class:     aws.ToString(db.DBInstanceClass),
			dimension: "DBInstanceIdentifier",
			tags:      tagsFromRDS(db.TagList),
		})
	}
	return out, nil
}

func listDBClusters(ctx context.Context, client RDSClient) ([]rdsResource, error) {
	clusters, err := paginate.ListAll(ctx, func(ctx context.Context, marker *string) ([]rdstypes.DBCluster, *string, error) {
		out, err := client.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{Marker: marker})
		if err != nil {
			return nil, nil, fmt.Errorf("DescribeDBClusters: %w", err)
		}
		return out.DBClusters, out.Marker, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]rdsResource, 0, len(clusters))
	for _, cl := range clusters {
		id := aws.ToString(cl.DBClusterIdentifier)
		arn := aws.ToString(cl.DBClusterArn)
		if arn == "" {
			arn = id
		}
		out = append(out, rdsResource{
			kind:      "db_cluster",
			id:        id,
			arn:       arn,
			engine:    aws.ToString(cl.Engine),
			class:     aws.ToString(cl.DBClusterInstanceClass),
			dimension: "DBClusterIdentifier",
			tags:      tagsFromRDS(cl.TagList),
		})
	}
	return out, nil
}

func tagsFromRDS(tags []rdstypes.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return m
}
