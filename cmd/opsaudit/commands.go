package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/config"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/logging"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/notify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/output"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/policy"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/promfile"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/providers/aws/auditors"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/providers/aws/common"
	kube "github.com/pankaj-dahiya-devops/opsaudit/internal/providers/kubernetes"
)

// DefaultPolicyPath is read when --policy is not given and the file exists.
const DefaultPolicyPath = "opsaudit.yaml"

const (
	// auditorAnnotation on a command names the auditor it runs.
	auditorAnnotation = "opsaudit/auditor"
	// thresholdAnnotation on a flag makes it overridable from the policy file.
	thresholdAnnotation = "opsaudit/threshold"
)

// app carries the persistent flag values, the loaded configuration and the
// provider constructors shared by every command.
type app struct {
	configPath   string
	policyPath   string
	logLevel     string
	logFormat    string
	metricsFile  string
	slackWebhook string
	rate         float64
	noColor      bool

	cfg    *config.Config
	policy *policy.PolicyConfig

	newAWSProvider  func(common.Settings) common.AWSClientProvider
	newKubeProvider func(kubeconfig string) kube.KubeClientProvider
	// awsClients replaces the SDK clients when non-nil.
	awsClients auditors.ClientFactory
}

func newApp() *app {
	return &app{
		newAWSProvider: func(s common.Settings) common.AWSClientProvider {
			return common.NewDefaultAWSClientProvider(s)
		},
		newKubeProvider: func(path string) kube.KubeClientProvider {
			return kube.NewDefaultKubeClientProvider(path)
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "opsaudit",
		Short:         "opsaudit audits cloud and cluster resources and optionally remediates them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			if _, ok := cmd.Annotations[auditorAnnotation]; ok {
				return a.applyPolicy(cmd)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Config file (default ~/.config/opsaudit/config.yaml)")
	pf.StringVar(&a.policyPath, "policy", "", "Threshold policy file (default ./"+DefaultPolicyPath+" when present)")
	pf.StringVar(&a.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	pf.StringVar(&a.logFormat, "log-format", "console", "Log format: console or json")
	pf.StringVar(&a.metricsFile, "metrics-file", "", "Write run metrics to this node-exporter textfile")
	pf.StringVar(&a.slackWebhook, "slack-webhook", "", "Post a summary to this Slack webhook when something is flagged")
	pf.Float64Var(&a.rate, "rate", 0, "Maximum remediation calls per second (0 = unlimited)")
	pf.BoolVar(&a.noColor, "no-color", false, "Disable colored table footers")

	root.AddCommand(newAWSCmd(a))
	root.AddCommand(newK8sCmd(a))
	root.AddCommand(newTLSCmd(a))
	root.AddCommand(newDoctorCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}

// setup loads the config file, builds the logger and decides on color.
// Flags set on the command line win over the config file.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, format := cfg.Log.Level, cfg.Log.Format
	if cmd.Flags().Changed("log-level") {
		level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		format = a.logFormat
	}
	log, err := logging.New(logging.Options{Level: level, Format: format, Writer: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	cmd.SetContext(log.WithContext(cmd.Context()))

	if a.slackWebhook == "" {
		a.slackWebhook = cfg.Notify.SlackWebhook
	}
	color.NoColor = a.noColor || !isTerminal(cmd.OutOrStdout())
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// loadPolicy reads --policy, or DefaultPolicyPath when it exists, and
// validates it against every threshold flag in the command tree.
func (a *app) loadPolicy(root *cobra.Command) error {
	path := a.policyPath
	if path == "" {
		if _, err := os.Stat(DefaultPolicyPath); err != nil {
			return nil
		}
		path = DefaultPolicyPath
	}

	cfg, err := policy.LoadPolicy(path)
	if err != nil {
		return fmt.Errorf("load policy %s: %w", path, err)
	}
	if errs := policy.Validate(cfg, policyKeys(root)); len(errs) > 0 {
		return fmt.Errorf("invalid policy %s: %w", path, errors.Join(errs...))
	}
	a.policy = cfg
	return nil
}

// applyPolicy loads the policy and copies its parameters into the threshold
// flags of cmd that were not set explicitly.
func (a *app) applyPolicy(cmd *cobra.Command) error {
	if err := a.loadPolicy(cmd.Root()); err != nil {
		return err
	}
	if a.policy == nil {
		return nil
	}

	id := cmd.Annotations[auditorAnnotation]
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		if _, ok := f.Annotations[thresholdAnnotation]; !ok {
			return
		}
		cur, perr := strconv.ParseFloat(f.Value.String(), 64)
		if perr != nil {
			return
		}
		v := policy.GetThreshold(id, policyKey(f.Name), cur, a.policy)
		if v == cur {
			return
		}
		if serr := f.Value.Set(strconv.FormatFloat(v, 'f', -1, 64)); serr != nil {
			err = fmt.Errorf("policy auditors.%s.params.%s: %w", id, policyKey(f.Name), serr)
		}
	})
	return err
}

// policyKeys maps every auditor ID in the tree to its policy parameter keys.
func policyKeys(root *cobra.Command) map[string][]string {
	keys := make(map[string][]string)
	var walk func(*cobra.Command)
	walk = func(c *cobra.Command) {
		if id, ok := c.Annotations[auditorAnnotation]; ok {
			var ks []string
			c.LocalFlags().VisitAll(func(f *pflag.Flag) {
				if _, ok := f.Annotations[thresholdAnnotation]; ok {
					ks = append(ks, policyKey(f.Name))
				}
			})
			keys[id] = ks
		}
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(root)
	return keys
}

// policyKey turns a flag name into its policy parameter key.
func policyKey(flag string) string {
	return strings.ReplaceAll(flag, "-", "_")
}

// auditorCmd returns a command annotated with the auditor it runs.
func auditorCmd(id, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:         use,
		Short:       short,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{auditorAnnotation: id},
	}
}

// markThresholds makes the named flags overridable from the policy file.
func markThresholds(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.Flags().SetAnnotation(n, thresholdAnnotation, []string{"true"}); err != nil {
			panic(err)
		}
	}
}

// outputFlags are shared by every auditing command.
type outputFlags struct {
	jsonOut        bool
	failOnFindings bool
}

func (o *outputFlags) bind(fl *pflag.FlagSet) {
	fl.BoolVar(&o.jsonOut, "json", false, "Print the JSON report instead of a table")
	fl.BoolVar(&o.failOnFindings, "fail-on-findings", false, "Exit with code 2 when anything is flagged")
}

// execute runs auditor, renders the report and performs the post-run side
// effects. The report is returned even when the run failed after listing.
func (a *app) execute(cmd *cobra.Command, auditor engine.Auditor, opts engine.RunOptions, out outputFlags) (*models.AuditReport, error) {
	ctx := cmd.Context()
	log := zerolog.Ctx(ctx)
	info := auditor.Info()

	if !policy.IsEnabled(info.ID, a.policy) {
		log.Warn().Str("auditor", info.ID).Msg("auditor disabled by policy")
		return nil, nil
	}

	var observers []engine.Observer
	var recorder *promfile.Recorder
	if a.metricsFile != "" {
		recorder = promfile.NewRecorder(a.metricsFile)
		observers = append(observers, recorder)
	}
	if a.rate > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(a.rate), 1)
	}

	report, runErr := engine.NewDefaultEngine(observers...).RunAudit(ctx, auditor, opts)
	if report == nil {
		return nil, runErr
	}

	format := output.FormatTable
	if out.jsonOut {
		format = output.FormatJSON
	}
	ropts := output.ReportOptions{
		Table: output.TableOptions{Columns: info.Columns, EmptyMessage: info.EmptyMessage},
	}
	if info.Remediation != nil {
		ropts.DryRunHint = info.Remediation.Hint
	}
	if err := output.RenderReport(cmd.OutOrStdout(), report, format, ropts); err != nil {
		return report, fmt.Errorf("render report: %w", err)
	}

	if recorder != nil {
		if err := recorder.Flush(); err != nil {
			log.Warn().Err(err).Msg("metrics not written")
		}
	}
	if a.slackWebhook != "" {
		if err := notify.NewSlack(a.slackWebhook).NotifyReport(ctx, report, idColumn(info)); err != nil {
			log.Warn().Err(err).Msg("slack notification failed")
		}
	}

	if runErr != nil {
		return report, runErr
	}
	if report.Summary.Flagged > 0 && (out.failOnFindings || policy.ShouldFail(info.ID, report.Summary.Flagged, a.policy)) {
		return report, errFindings
	}
	return report, nil
}

// idColumn picks the column that identifies a resource in notifications.
func idColumn(info engine.Info) string {
	for _, c := range info.Columns {
		if c != "region" && c != "namespace" {
			return c
		}
	}
	return ""
}
