package main

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/baseline"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/providers/aws/auditors"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/providers/aws/common"
)

func newAWSCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aws",
		Short: "AWS auditors",
	}
	cmd.AddCommand(
		newEBSUnattachedCmd(a),
		newEC2IdleCmd(a),
		newEC2TypeDriftCmd(a),
		newNATIdleCmd(a),
		newRDSIdleCmd(a),
		newELBIdleCmd(a),
		newIAMKeyAgeCmd(a),
		newS3EncryptionCmd(a),
		newCostSpikeCmd(a),
	)
	return cmd
}

// awsFlags are shared by every AWS auditor.
type awsFlags struct {
	outputFlags
	profile      string
	regions      []string
	nameFilter   string
	requiredTags []string
	excludeTags  []string
}

func (f *awsFlags) bind(cmd *cobra.Command, withFilters bool) {
	fl := cmd.Flags()
	f.outputFlags.bind(fl)
	fl.StringVar(&f.profile, "profile", "", "AWS profile name (default: config aws.default_profile, then the SDK chain)")
	fl.StringSliceVar(&f.regions, "region", nil, "Region(s) to audit, repeatable or comma separated (default: all enabled regions)")
	// Shares the value so mixed --region and --regions flags accumulate.
	fl.Var(fl.Lookup("region").Value, "regions", "Alias of --region")
	if withFilters {
		fl.StringVar(&f.nameFilter, "name-filter", "", "Only resources whose Name tag or ID contains this substring")
		fl.StringArrayVar(&f.requiredTags, "required-tag", nil, "Only resources carrying KEY=VALUE (repeatable, all must match)")
		fl.StringArrayVar(&f.excludeTags, "exclude-tag", nil, "Skip resources carrying KEY=VALUE (repeatable)")
	}
}

func (f *awsFlags) filters() (auditors.Filters, error) {
	req, err := auditors.ParseTagPairs(f.requiredTags)
	if err != nil {
		return auditors.Filters{}, fmt.Errorf("--required-tag: %w", err)
	}
	exc, err := auditors.ParseTagPairs(f.excludeTags)
	if err != nil {
		return auditors.Filters{}, fmt.Errorf("--exclude-tag: %w", err)
	}
	return auditors.Filters{NameContains: f.nameFilter, RequiredTags: req, ExcludeTags: exc}, nil
}

func bindReviewTag(cmd *cobra.Command, enabled *bool, tag *auditors.ReviewTag, maxApply *int) {
	fl := cmd.Flags()
	fl.BoolVar(enabled, "apply-tag", false, "Tag flagged resources for review (default is a dry-run)")
	fl.StringVar(&tag.Key, "tag-key", tag.Key, "Review tag key")
	fl.StringVar(&tag.Value, "tag-value", tag.Value, "Review tag value")
	fl.IntVar(maxApply, "max-apply", *maxApply, "Maximum number of successful remediations per run")
}

// awsSession is a loaded profile ready for auditors.
type awsSession struct {
	provider common.AWSClientProvider
	profile  *common.ProfileConfig
	env      *auditors.Env
}

func (a *app) awsSession(cmd *cobra.Command, f *awsFlags) (*awsSession, error) {
	provider := a.newAWSProvider(common.Settings{
		FallbackRegion: a.cfg.AWS.FallbackRegion,
		MaxAttempts:    a.cfg.AWS.MaxAttempts,
		MaxBackoff:     a.cfg.AWS.MaxBackoff,
	})

	name := f.profile
	if name == "" {
		name = a.cfg.AWS.DefaultProfile
	}
	pc, err := provider.LoadProfile(cmd.Context(), name)
	if err != nil {
		return nil, fmt.Errorf("load AWS profile: %w", err)
	}

	env := auditors.NewEnv(provider, pc)
	if a.awsClients != nil {
		env.Factory = a.awsClients
	}
	return &awsSession{provider: provider, profile: pc, env: env}, nil
}

// runAWS resolves regions for regional auditors and executes auditor.
func (a *app) runAWS(cmd *cobra.Command, s *awsSession, f *awsFlags, auditor engine.Auditor) (*models.AuditReport, error) {
	opts := engine.RunOptions{Profile: s.profile.ProfileName, AccountID: s.profile.AccountID}
	if auditor.Info().Scope == engine.Regional {
		opts.Regions = s.provider.ResolveRegions(cmd.Context(), s.profile, f.regions)
	}
	return a.execute(cmd, auditor, opts, f.outputFlags)
}

// awsRunE wires the common session and filter handling around build.
func (a *app) awsRunE(f *awsFlags, build func(s *awsSession, filters auditors.Filters) (engine.Auditor, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		filters, err := f.filters()
		if err != nil {
			return err
		}
		s, err := a.awsSession(cmd, f)
		if err != nil {
			return err
		}
		auditor, err := build(s, filters)
		if err != nil {
			return err
		}
		_, err = a.runAWS(cmd, s, f, auditor)
		return err
	}
}

func newEBSUnattachedCmd(a *app) *cobra.Command {
	var f awsFlags
	var snapshotTags []string
	cfg := auditors.DefaultEBSConfig()

	cmd := auditorCmd(auditors.EBSUnattachedID, "ebs-unattached", "Find unattached EBS volumes and optionally delete them")
	cmd.RunE = a.awsRunE(&f, func(s *awsSession, filters auditors.Filters) (engine.Auditor, error) {
		tags, err := auditors.ParseTagPairs(snapshotTags)
		if err != nil {
			return nil, fmt.Errorf("--snapshot-tag: %w", err)
		}
		cfg.Filters = filters
		cfg.SnapshotTags = tags
		return auditors.NewEBSUnattached(s.env, cfg), nil
	})

	f.bind(cmd, true)
	fl := cmd.Flags()
	fl.IntVar(&cfg.OlderThanDays, "older-than-days", 0, "Only volumes at least this many days old (0 = any age)")
	fl.BoolVar(&cfg.Apply, "apply", false, "Delete flagged volumes (default is a dry-run)")
	fl.BoolVar(&cfg.SnapshotBeforeDelete, "snapshot-before-delete", false, "Snapshot each volume before deleting it")
	fl.StringArrayVar(&snapshotTags, "snapshot-tag", nil, "Tag KEY=VALUE added to pre-delete snapshots (repeatable)")
	fl.IntVar(&cfg.MaxApply, "max-apply", cfg.MaxApply, "Maximum number of volumes deleted per run")
	fl.Float64Var(&cfg.CostPerGB, "cost-per-gb", cfg.CostPerGB, "USD per GB-month used for the cost estimate")
	markThresholds(cmd, "older-than-days", "max-apply", "cost-per-gb")
	return cmd
}

func newEC2IdleCmd(a *app) *cobra.Command {
	var f awsFlags
	cfg := auditors.DefaultEC2IdleConfig()

	cmd := auditorCmd(auditors.EC2IdleID, "ec2-idle", "Find running EC2 instances with low CPU and network use")
	cmd.RunE = a.awsRunE(&f, func(s *awsSession, filters auditors.Filters) (engine.Auditor, error) {
		cfg.Filters = filters
		return auditors.NewEC2Idle(s.env, cfg), nil
	})

	f.bind(cmd, true)
	fl := cmd.Flags()
	fl.IntVar(&cfg.WindowDays, "days", cfg.WindowDays, "Metric lookback window in days")
	fl.DurationVar(&cfg.Period, "period", cfg.Period, "CloudWatch statistics period")
	fl.Float64Var(&cfg.MaxCPUAvg, "max-cpu-avg", cfg.MaxCPUAvg, "Flag when average CPU percent is at most this")
	fl.Float64Var(&cfg.MaxNetworkMB, "max-network-mb", cfg.MaxNetworkMB, "Flag when NetworkIn+NetworkOut over the window is at most this many MB")
	fl.BoolVar(&cfg.TreatMissingMetricsIdle, "treat-missing-metrics-idle", false, "Classify instances without metrics as idle")
	bindReviewTag(cmd, &cfg.ApplyTag, &cfg.Tag, &cfg.MaxTag)
	markThresholds(cmd, "days", "max-cpu-avg", "max-network-mb", "max-apply")
	return cmd
}

func newEC2TypeDriftCmd(a *app) *cobra.Command {
	var f awsFlags
	path := auditors.DefaultTypeBaselinePath

	cmd := auditorCmd(auditors.EC2TypeDriftID, "ec2-type-drift", "Report instances whose type changed since the last run")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		filters, err := f.filters()
		if err != nil {
			return err
		}
		base, err := baseline.Load(path)
		if err != nil {
			return err
		}
		s, err := a.awsSession(cmd, &f)
		if err != nil {
			return err
		}

		drift := auditors.NewEC2TypeDrift(s.env, base, filters)
		report, runErr := a.runAWS(cmd, s, &f, drift)
		if report != nil {
			if err := drift.Next().Save(path); err != nil {
				return err
			}
		}
		return runErr
	}

	f.bind(cmd, true)
	cmd.Flags().StringVar(&path, "baseline", path, "Baseline file recording the last seen instance types")
	return cmd
}

func newNATIdleCmd(a *app) *cobra.Command {
	var f awsFlags
	cfg := auditors.DefaultNATIdleConfig()

	cmd := auditorCmd(auditors.NATIdleID, "nat-idle", "Find NAT gateways with little traffic")
	cmd.RunE = a.awsRunE(&f, func(s *awsSession, filters auditors.Filters) (engine.Auditor, error) {
		cfg.Filters = filters
		return auditors.NewNATIdle(s.env, cfg), nil
	})

	f.bind(cmd, true)
	fl := cmd.Flags()
	fl.IntVar(&cfg.WindowDays, "days", cfg.WindowDays, "Metric lookback window in days")
	fl.DurationVar(&cfg.Period, "period", cfg.Period, "CloudWatch statistics period")
	fl.Float64Var(&cfg.MinBytes, "min-bytes", cfg.MinBytes, "Flag when total bytes over the window are at most this")
	fl.Float64Var(&cfg.MaxActiveConnAvg, "max-active-conn-avg", cfg.MaxActiveConnAvg, "Flag when average ActiveConnectionCount is at most this")
	fl.BoolVar(&cfg.CheckRoutes, "check-routes", false, "Count route table entries pointing at each gateway")
	fl.Float64Var(&cfg.HourlyRate, "hourly-rate", cfg.HourlyRate, "USD per NAT gateway hour used for the cost estimate")
	fl.Float64Var(&cfg.PerGBRate, "per-gb-rate", cfg.PerGBRate, "USD per processed GB used for the cost estimate")
	bindReviewTag(cmd, &cfg.ApplyTag, &cfg.Tag, &cfg.MaxApply)
	markThresholds(cmd, "days", "min-bytes", "max-active-conn-avg", "hourly-rate", "per-gb-rate", "max-apply")
	return cmd
}

func newRDSIdleCmd(a *app) *cobra.Command {
	var f awsFlags
	cfg := auditors.DefaultRDSIdleConfig()

	cmd := auditorCmd(auditors.RDSIdleID, "rds-idle", "Find RDS instances and clusters with low CPU, connections and IOPS")
	cmd.RunE = a.awsRunE(&f, func(s *awsSession, filters auditors.Filters) (engine.Auditor, error) {
		cfg.Filters = filters
		return auditors.NewRDSIdle(s.env, cfg), nil
	})

	f.bind(cmd, true)
	fl := cmd.Flags()
	fl.IntVar(&cfg.WindowDays, "days", cfg.WindowDays, "Metric lookback window in days")
	fl.DurationVar(&cfg.Period, "period", cfg.Period, "CloudWatch statistics period")
	fl.Float64Var(&cfg.MaxCPUAvg, "max-cpu-avg", cfg.MaxCPUAvg, "Flag when average CPU percent is at most this")
	fl.Float64Var(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "Flag when average DatabaseConnections is at most this")
	fl.Float64Var(&cfg.MaxIOPSSum, "max-iops-sum", cfg.MaxIOPSSum, "Flag when ReadIOPS+WriteIOPS averages sum to at most this")
	fl.BoolVar(&cfg.IncludeClusters, "include-clusters", cfg.IncludeClusters, "Also audit Aurora DB clusters")
	bindReviewTag(cmd, &cfg.ApplyTag, &cfg.Tag, &cfg.MaxTag)
	markThresholds(cmd, "days", "max-cpu-avg", "max-connections", "max-iops-sum", "max-apply")
	return cmd
}

func newELBIdleCmd(a *app) *cobra.Command {
	var f awsFlags
	cfg := auditors.DefaultELBIdleConfig()

	cmd := auditorCmd(auditors.ELBIdleID, "elb-idle", "Find application and network load balancers with no traffic")
	cmd.RunE = a.awsRunE(&f, func(s *awsSession, filters auditors.Filters) (engine.Auditor, error) {
		cfg.Filters = filters
		return auditors.NewELBIdle(s.env, cfg), nil
	})

	f.bind(cmd, true)
	fl := cmd.Flags()
	fl.IntVar(&cfg.WindowDays, "days", cfg.WindowDays, "Metric lookback window in days")
	fl.DurationVar(&cfg.Period, "period", cfg.Period, "CloudWatch statistics period")
	fl.Float64Var(&cfg.MinRequests, "min-requests", cfg.MinRequests, "ALB: flag when RequestCount over the window is at most this")
	fl.Float64Var(&cfg.MaxActiveFlows, "max-active-flows", cfg.MaxActiveFlows, "NLB: flag when average ActiveFlowCount is at most this")
	fl.Float64Var(&cfg.MinBytes, "min-bytes", cfg.MinBytes, "Flag when ProcessedBytes over the window are at most this")
	fl.BoolVar(&cfg.CheckTargetHealth, "check-target-health", false, "Summarise registered target health")
	bindReviewTag(cmd, &cfg.ApplyTag, &cfg.Tag, &cfg.MaxApply)
	markThresholds(cmd, "days", "min-requests", "max-active-flows", "min-bytes", "max-apply")
	return cmd
}

func newIAMKeyAgeCmd(a *app) *cobra.Command {
	var f awsFlags
	var userRegex string
	cfg := auditors.DefaultIAMKeyAgeConfig()

	cmd := auditorCmd(auditors.IAMKeyAgeID, "iam-key-age", "Find old or unused IAM access keys")
	cmd.RunE = a.awsRunE(&f, func(s *awsSession, _ auditors.Filters) (engine.Auditor, error) {
		if userRegex != "" {
			re, err := regexp.Compile(userRegex)
			if err != nil {
				return nil, fmt.Errorf("--user-regex: %w", err)
			}
			cfg.UserRegex = re
		}
		return auditors.NewIAMKeyAge(s.env, cfg), nil
	})

	f.bind(cmd, false)
	fl := cmd.Flags()
	fl.IntVar(&cfg.MaxAgeDays, "max-age-days", cfg.MaxAgeDays, "Flag keys older than this many days")
	fl.IntVar(&cfg.UnusedDays, "unused-days", cfg.UnusedDays, "Flag keys unused for more than this many days")
	fl.StringVar(&cfg.UserPrefix, "user-prefix", "", "Only users whose name starts with this prefix")
	fl.StringVar(&userRegex, "user-regex", "", "Only users whose name matches this regular expression")
	fl.StringSliceVar(&cfg.ExcludeUsers, "exclude-user", nil, "Skip these users (repeatable)")
	fl.BoolVar(&cfg.Deactivate, "deactivate", false, "Set flagged active keys to Inactive (default is a dry-run)")
	fl.IntVar(&cfg.MaxApply, "max-apply", cfg.MaxApply, "Maximum number of keys deactivated per run")
	markThresholds(cmd, "max-age-days", "unused-days", "max-apply")
	return cmd
}

func newS3EncryptionCmd(a *app) *cobra.Command {
	var f awsFlags
	cfg := auditors.DefaultS3EncryptionConfig()

	cmd := auditorCmd(auditors.S3EncryptionID, "s3-encryption", "Find S3 buckets without default encryption")
	cmd.RunE = a.awsRunE(&f, func(s *awsSession, filters auditors.Filters) (engine.Auditor, error) {
		cfg.NameContains = filters.NameContains
		return auditors.NewS3Encryption(s.env, cfg), nil
	})

	f.bind(cmd, false)
	fl := cmd.Flags()
	fl.StringVar(&f.nameFilter, "name-filter", "", "Only buckets whose name contains this substring")
	fl.BoolVar(&cfg.Apply, "apply", false, "Enable SSE-S3 default encryption on flagged buckets (default is a dry-run)")
	fl.IntVar(&cfg.MaxApply, "max-apply", cfg.MaxApply, "Maximum number of buckets changed per run")
	markThresholds(cmd, "max-apply")
	return cmd
}

func newCostSpikeCmd(a *app) *cobra.Command {
	var f awsFlags
	cfg := auditors.DefaultCostSpikeConfig()

	cmd := auditorCmd(auditors.CostSpikeID, "cost-spike", "Report services whose latest daily cost spiked above the recent average")
	cmd.RunE = a.awsRunE(&f, func(s *awsSession, _ auditors.Filters) (engine.Auditor, error) {
		return auditors.NewCostSpike(s.env, cfg), nil
	})

	f.bind(cmd, false)
	fl := cmd.Flags()
	fl.IntVar(&cfg.BaselineDays, "baseline-days", cfg.BaselineDays, "Complete days averaged before the latest day")
	fl.Float64Var(&cfg.SpikePct, "spike-pct", cfg.SpikePct, "Flag when the latest day exceeds the average by at least this percent")
	fl.Float64Var(&cfg.MinDailyUSD, "min-daily-usd", cfg.MinDailyUSD, "Ignore services whose latest day costs less than this")
	markThresholds(cmd, "baseline-days", "spike-pct", "min-daily-usd")
	return cmd
}
