package auditors

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/classify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/paginate"
)

const (
	// EBSUnattachedID is the auditor identifier used in reports and policy files.
	EBSUnattachedID = "ebs-unattached"

	// DefaultEBSMaxApply caps deletions per run.
	DefaultEBSMaxApply = 100
	// DefaultEBSCostPerGB is a flat gp2/gp3 storage rate in USD per GB-month.
	DefaultEBSCostPerGB = 0.10
)

// EBSConfig holds the thresholds and switches of the unattached volume auditor.
type EBSConfig struct {
	// OlderThanDays flags only volumes at least this many days old.
	// Zero disables the age filter.
	OlderThanDays int
	Filters       Filters

	// Apply deletes flagged volumes; otherwise the run is a dry-run.
	Apply                bool
	SnapshotBeforeDelete bool
	SnapshotTags         map[string]string
	MaxApply             int

	CostPerGB float64
}

// DefaultEBSConfig returns the documented defaults.
func DefaultEBSConfig() EBSConfig {
	return EBSConfig{MaxApply: DefaultEBSMaxApply, CostPerGB: DefaultEBSCostPerGB}
}

// EBSUnattached flags EBS volumes in the "available" state (attached to
// nothing) and optionally snapshots and deletes them.
type EBSUnattached struct {
	env *Env
	cfg EBSConfig
}

// NewEBSUnattached returns the unattached volume auditor.
func NewEBSUnattached(env *Env, cfg EBSConfig) *EBSUnattached {
	return &EBSUnattached{env: env, cfg: cfg}
}

// Info implements engine.Auditor.
func (a *EBSUnattached) Info() engine.Info {
	return engine.Info{
		ID:    EBSUnattachedID,
		Scope: engine.Regional,
		Params: models.NewRecord(
			"older_than_days", a.cfg.OlderThanDays,
			"name_filter", a.cfg.Filters.NameContains,
			"required_tags", a.cfg.Filters.RequiredTags,
			"apply", a.cfg.Apply,
			"snapshot_before_delete", a.cfg.SnapshotBeforeDelete,
			"max_apply", a.cfg.MaxApply,
		),
		Columns: []string{
			"region", "volume_id", "size_gb", "type", "age_days",
			"estimated_monthly_cost_usd", "snapshot_id", "delete_attempted", "delete_error",
		},
		EmptyMessage: "No unattached EBS volumes found under current filters.",
		Remediation: &engine.Remediation{
			Verb:    "delete",
			Enabled: a.cfg.Apply,
			Max:     a.cfg.MaxApply,
			Hint:    "use --apply to delete flagged volumes; add --snapshot-before-delete to snapshot first.",
			Action:  a.delete,
		},
	}
}

// Collect implements engine.Auditor.
func (a *EBSUnattached) Collect(ctx context.Context, region string) ([]*engine.Candidate, error) {
	clients := a.env.Clients(region)

	volumes, err := paginate.ListAll(ctx, func(ctx context.Context, token *string) ([]ec2types.Volume, *string, error) {
		out, err := clients.EC2.DescribeVolumes(ctx, &ec2svc.DescribeVolumesInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("status"), Values: []string{string(ec2types.VolumeStateAvailable)}},
			},
			MaxResults: aws.Int32(500),
			NextToken:  token,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("DescribeVolumes: %w", err)
		}
		return out.Volumes, out.NextToken, nil
	})
	if err != nil {
		return nil, err
	}

	now := a.env.now()
	var candidates []*engine.Candidate
	for _, v := range volumes {
		id := aws.ToString(v.VolumeId)
		tags := tagsFromEC2(v.Tags)
		if !a.cfg.Filters.Match(id, tags) {
			continue
		}

		checks := []classify.Check{
			classify.Condition("state", v.State == ec2types.VolumeStateAvailable, "state available"),
		}
		var age any
		if v.CreateTime != nil {
			days := daysSince(now, *v.CreateTime)
			age = days
			if a.cfg.OlderThanDays > 0 {
				checks = append(checks, classify.Check{
					Name: "age_days", Observed: float64(days), Threshold: float64(a.cfg.OlderThanDays), Op: classify.AtLeast,
				})
			}
		}

		size := aws.ToInt32(v.Size)
		rec := models.NewRecord(
			"region", region,
			"volume_id", id,
			"size_gb", size,
			"type", string(v.VolumeType),
			"iops", optInt32(v.Iops),
			"throughput", optInt32(v.Throughput),
			"age_days", age,
			"tags", tags,
			"estimated_monthly_cost_usd", round2(float64(size)*a.cfg.CostPerGB),
			"snapshot_id", nil,
			"snapshot_error", nil,
		)

		candidates = append(candidates, &engine.Candidate{
			ID:      id,
			Region:  region,
			Record:  rec,
			Verdict: classify.Classify(checks, classify.All),
			Target:  clients,
		})
	}
	return candidates, nil
}

// delete optionally snapshots the volume and then deletes it. A failed
// snapshot keeps the volume.
func (a *EBSUnattached) delete(ctx context.Context, c *engine.Candidate) error {
	clients := c.Target.(*Clients)

	if a.cfg.SnapshotBeforeDelete {
		in := &ec2svc.CreateSnapshotInput{
			VolumeId:    aws.String(c.ID),
			Description: aws.String(fmt.Sprintf("Pre-delete snapshot of %s via opsaudit", c.ID)),
		}
		if len(a.cfg.SnapshotTags) > 0 {
			in.TagSpecifications = []ec2types.TagSpecification{
				{ResourceType: ec2types.ResourceTypeSnapshot, Tags: ec2Tags(a.cfg.SnapshotTags)},
			}
		}
		out, err := clients.EC2.CreateSnapshot(ctx, in)
		if err != nil {
			c.Record.Set("snapshot_error", err.Error())
			return fmt.Errorf("snapshot failed, volume kept: %w", err)
		}
		c.Record.Set("snapshot_id", aws.ToString(out.SnapshotId))
	}

	if _, err := clients.EC2.DeleteVolume(ctx, &ec2svc.DeleteVolumeInput{VolumeId: aws.String(c.ID)}); err != nil {
		return fmt.Errorf("DeleteVolume: %w", err)
	}
	return nil
}
