package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/policy"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/providers/aws/common"
	kube "github.com/pankaj-dahiya-devops/opsaudit/internal/providers/kubernetes"
)

// DoctorResult is the structured output of opsaudit doctor. It can be
// serialised to JSON via --format=json or rendered as a human-readable
// table (default).
type DoctorResult struct {
	AWS struct {
		Profile     string `json:"profile,omitempty"`
		Credentials bool   `json:"credentials_ok"`
		AccountID   string `json:"account_id,omitempty"`
		RegionsOK   bool   `json:"regions_ok"`
		Regions     int    `json:"regions,omitempty"`
		Error       string `json:"error,omitempty"`
		// AllProfiles is set only by --all-profiles.
		AllProfiles *DoctorProfiles `json:"all_profiles,omitempty"`
	} `json:"aws"`

	Kubernetes struct {
		KubeconfigOK bool   `json:"kubeconfig_ok"`
		Context      string `json:"context,omitempty"`
		APIReachable bool   `json:"api_reachable"`
		Error        string `json:"error,omitempty"`
	} `json:"kubernetes"`

	Policy struct {
		Path    string   `json:"path"`
		Present bool     `json:"present"`
		Valid   bool     `json:"valid"`
		Errors  []string `json:"errors,omitempty"`
	} `json:"policy"`

	OverallHealthy bool `json:"overall_healthy"`
}

// DoctorProfiles lists the shared-config profiles whose credentials resolved
// to an account. Profiles that fail to load are left out.
type DoctorProfiles struct {
	Loaded []DoctorProfile `json:"loaded"`
	Error  string          `json:"error,omitempty"`
}

// DoctorProfile is one loadable profile.
type DoctorProfile struct {
	Name      string `json:"name"`
	AccountID string `json:"account_id"`
	Region    string `json:"region"`
}

// doctorOptions selects what the checks connect to.
type doctorOptions struct {
	Format      string
	Profile     string
	AllProfiles bool
	KubeContext string
	PolicyPath  string
	// PolicyKeys is the schema the policy file is validated against.
	PolicyKeys map[string][]string
}

func newDoctorCmd(a *app) *cobra.Command {
	var (
		opts       doctorOptions
		kubeconfig string
	)
	cmd := &cobra.Command{
		Use:           "doctor",
		Short:         "Run environment diagnostics",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Profile == "" && a.cfg != nil {
				opts.Profile = a.cfg.AWS.DefaultProfile
			}
			opts.PolicyPath = a.policyPath
			opts.PolicyKeys = policyKeys(cmd.Root())

			var settings common.Settings
			if a.cfg != nil {
				settings = common.Settings{
					FallbackRegion: a.cfg.AWS.FallbackRegion,
					MaxAttempts:    a.cfg.AWS.MaxAttempts,
					MaxBackoff:     a.cfg.AWS.MaxBackoff,
				}
			}
			result, err := runDoctor(cmd.Context(), a.newAWSProvider(settings), a.newKubeProvider(kubeconfig), cmd.OutOrStdout(), opts)
			if err != nil {
				// Rendering failure.
				return err
			}
			if !result.OverallHealthy {
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Format, "format", "table", `Output format: "table" or "json"`)
	cmd.Flags().StringVar(&opts.Profile, "profile", "", "AWS profile to use (default: credential chain)")
	cmd.Flags().BoolVar(&opts.AllProfiles, "all-profiles", false, "Also check every profile in ~/.aws/credentials and ~/.aws/config")
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig")
	cmd.Flags().StringVar(&opts.KubeContext, "context", "", "Kubeconfig context (default: current context)")
	return cmd
}

// runDoctor collects all diagnostic results, renders them to w in the
// requested format, and returns the result.
// The returned error covers only rendering failures (e.g. JSON encode error).
// Callers must inspect result.OverallHealthy to determine whether the
// environment is healthy; runDoctor itself never returns an error for an
// unhealthy result so that no error text leaks into JSON output.
func runDoctor(ctx context.Context, awsProvider common.AWSClientProvider, kubeProvider kube.KubeClientProvider, w io.Writer, opts doctorOptions) (DoctorResult, error) {
	result := collectDoctorResult(ctx, awsProvider, kubeProvider, opts)

	switch opts.Format {
	case "json":
		if err := json.NewEncoder(w).Encode(result); err != nil {
			return result, fmt.Errorf("encode doctor result: %w", err)
		}
	default:
		renderDoctorTable(result, w)
	}

	return result, nil
}

// collectDoctorResult runs all environment checks and populates a DoctorResult.
// It performs no rendering; callers decide how to present the result.
func collectDoctorResult(ctx context.Context, awsProvider common.AWSClientProvider, kubeProvider kube.KubeClientProvider, opts doctorOptions) DoctorResult {
	var result DoctorResult

	// AWS: credentials → STS account ID → region discovery.
	// An empty profile string selects the default credential chain.
	result.AWS.Profile = opts.Profile
	profileCfg, err := awsProvider.LoadProfile(ctx, opts.Profile)
	if err != nil {
		result.AWS.Error = err.Error()
	} else {
		result.AWS.Credentials = true
		result.AWS.AccountID = profileCfg.AccountID

		var regionClient common.EC2RegionClient
		if profileCfg.Clients != nil {
			regionClient = profileCfg.Clients.EC2
		}
		regions, err := common.DiscoverRegions(ctx, regionClient)
		if err != nil {
			result.AWS.Error = err.Error()
		} else {
			result.AWS.RegionsOK = true
			result.AWS.Regions = len(regions)
		}
	}

	if opts.AllProfiles {
		result.AWS.AllProfiles = checkAllProfiles(ctx, awsProvider)
	}

	// Kubernetes: kubeconfig load → context → API reachability check.
	clientset, info, err := kubeProvider.ClientsetForContext(opts.KubeContext)
	if err != nil {
		result.Kubernetes.Error = err.Error()
	} else {
		result.Kubernetes.KubeconfigOK = true
		result.Kubernetes.Context = info.ContextName
		_, err = clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{Limit: 1})
		if err != nil {
			result.Kubernetes.Error = err.Error()
		} else {
			result.Kubernetes.APIReachable = true
		}
	}

	// Policy: stat → load → validate. The default file is optional; an
	// explicit --policy must exist.
	path := opts.PolicyPath
	if path == "" {
		path = DefaultPolicyPath
	}
	result.Policy.Path = path
	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		result.Policy.Present = true
		cfg, loadErr := policy.LoadPolicy(path)
		if loadErr != nil {
			result.Policy.Errors = []string{loadErr.Error()}
			break
		}
		errs := policy.Validate(cfg, opts.PolicyKeys)
		if len(errs) == 0 {
			result.Policy.Valid = true
		}
		for _, e := range errs {
			result.Policy.Errors = append(result.Policy.Errors, e.Error())
		}
	case !os.IsNotExist(statErr) || opts.PolicyPath != "":
		// Unreadable, or an explicit path that does not exist.
		result.Policy.Present = true
		result.Policy.Errors = []string{statErr.Error()}
	}

	result.OverallHealthy = result.AWS.Credentials &&
		result.AWS.RegionsOK &&
		(result.AWS.AllProfiles == nil || result.AWS.AllProfiles.Error == "") &&
		result.Kubernetes.KubeconfigOK &&
		result.Kubernetes.APIReachable &&
		(!result.Policy.Present || result.Policy.Valid)

	return result
}

// checkAllProfiles loads every shared-config profile. Finding none that
// loads is an error.
func checkAllProfiles(ctx context.Context, awsProvider common.AWSClientProvider) *DoctorProfiles {
	out := &DoctorProfiles{Loaded: []DoctorProfile{}}
	profiles, err := awsProvider.LoadAllProfiles(ctx)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	for _, pc := range profiles {
		out.Loaded = append(out.Loaded, DoctorProfile{Name: pc.ProfileName, AccountID: pc.AccountID, Region: pc.Region})
	}
	if len(out.Loaded) == 0 {
		out.Error = "no loadable profiles found"
	}
	return out
}

// renderDoctorTable writes the human-readable diagnostic output from result to w.
func renderDoctorTable(result DoctorResult, w io.Writer) {
	fmt.Fprintln(w, "Environment Diagnostics")

	if result.AWS.Profile != "" {
		fmt.Fprintf(w, "\nAWS (profile: %s):\n", result.AWS.Profile)
	} else {
		fmt.Fprintln(w, "\nAWS:")
	}
	if !result.AWS.Credentials {
		doctorPrint(w, "Credentials", "FAIL", result.AWS.Error)
		doctorPrint(w, "STS Identity", "FAIL", "skipped")
		doctorPrint(w, "Regions API", "FAIL", "skipped")
	} else {
		doctorPrint(w, "Credentials", "OK", "")
		doctorPrint(w, "STS Identity", "OK", "Account: "+result.AWS.AccountID)
		if result.AWS.RegionsOK {
			doctorPrint(w, "Regions API", "OK", fmt.Sprintf("%d enabled", result.AWS.Regions))
		} else {
			doctorPrint(w, "Regions API", "FAIL", result.AWS.Error)
		}
	}
	if all := result.AWS.AllProfiles; all != nil {
		if all.Error != "" {
			doctorPrint(w, "All Profiles", "FAIL", all.Error)
		} else {
			doctorPrint(w, "All Profiles", "OK", fmt.Sprintf("%d loaded", len(all.Loaded)))
		}
		for _, p := range all.Loaded {
			doctorPrint(w, "  "+p.Name, "OK", "Account: "+p.AccountID)
		}
	}

	fmt.Fprintln(w, "\nKubernetes:")
	if !result.Kubernetes.KubeconfigOK {
		doctorPrint(w, "Kubeconfig", "FAIL", result.Kubernetes.Error)
		doctorPrint(w, "Current Context", "FAIL", "skipped")
		doctorPrint(w, "API Reachable", "FAIL", "skipped")
	} else {
		doctorPrint(w, "Kubeconfig", "OK", "")
		doctorPrint(w, "Current Context", "OK", result.Kubernetes.Context)
		if result.Kubernetes.APIReachable {
			doctorPrint(w, "API Reachable", "OK", "")
		} else {
			doctorPrint(w, "API Reachable", "FAIL", result.Kubernetes.Error)
		}
	}

	fmt.Fprintln(w, "\nPolicy:")
	label := result.Policy.Path + " present"
	if !result.Policy.Present {
		doctorPrint(w, label, "Not found (optional)", "")
	} else {
		doctorPrint(w, label, "YES", "")
		if result.Policy.Valid {
			doctorPrint(w, "Policy valid", "OK", "")
		} else {
			for _, e := range result.Policy.Errors {
				doctorPrint(w, "Policy valid", "FAIL", e)
			}
		}
	}
}

// doctorPrint writes a single diagnostic check line to w.
// When detail is non-empty it is appended in parentheses.
func doctorPrint(w io.Writer, label, status, detail string) {
	if detail != "" {
		fmt.Fprintf(w, "  %s: %s (%s)\n", label, status, detail)
	} else {
		fmt.Fprintf(w, "  %s: %s\n", label, status)
	}
}
