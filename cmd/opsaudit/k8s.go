package main

import (
	"fmt"

	"github.com/spf13/cobra"
	k8sclient "k8s.io/client-go/kubernetes"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	kube "github.com/pankaj-dahiya-devops/opsaudit/internal/providers/kubernetes"
)

func newK8sCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "k8s",
		Short: "Kubernetes auditors",
	}
	cmd.AddCommand(newOrphanedServicesCmd(a), newPodRestartsCmd(a))
	return cmd
}

// kubeFlags select the cluster and the namespaces to audit.
type kubeFlags struct {
	outputFlags
	kubeconfig        string
	context           string
	namespaces        []string
	excludeNamespaces []string
	selector          string
}

func (f *kubeFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	f.outputFlags.bind(fl)
	fl.StringVar(&f.kubeconfig, "kubeconfig", "", "Path to kubeconfig (default $KUBECONFIG or ~/.kube/config)")
	fl.StringVar(&f.context, "context", "", "Kubeconfig context (default: current context)")
	fl.StringSliceVarP(&f.namespaces, "namespace", "n", nil, "Namespace(s) to audit (default: all)")
	fl.StringSliceVar(&f.excludeNamespaces, "exclude-namespace", nil, "Namespace(s) to skip")
	fl.StringVarP(&f.selector, "selector", "l", "", "Label selector applied to every list call")
}

func (f *kubeFlags) scope() kube.Scope {
	return kube.Scope{Namespaces: f.namespaces, ExcludeNamespaces: f.excludeNamespaces, LabelSelector: f.selector}
}

// kubeRunE connects to the selected cluster and executes the auditor build
// returns. Cluster auditors are global: one collection per run.
func (a *app) kubeRunE(f *kubeFlags, build func(k8sclient.Interface, kube.ClusterInfo) engine.Auditor) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		clientset, cluster, err := a.newKubeProvider(f.kubeconfig).ClientsetForContext(f.context)
		if err != nil {
			return fmt.Errorf("load kubeconfig: %w", err)
		}
		_, err = a.execute(cmd, build(clientset, cluster), engine.RunOptions{Profile: cluster.ContextName}, f.outputFlags)
		return err
	}
}

func newOrphanedServicesCmd(a *app) *cobra.Command {
	var f kubeFlags
	cfg := kube.DefaultOrphanedServicesConfig()

	cmd := auditorCmd(kube.OrphanedServicesID, "orphaned-services", "Find Services with a selector but no ready endpoints")
	cmd.RunE = a.kubeRunE(&f, func(cs k8sclient.Interface, cluster kube.ClusterInfo) engine.Auditor {
		cfg.Scope = f.scope()
		return kube.NewOrphanedServices(cs, cluster, cfg)
	})

	f.bind(cmd)
	fl := cmd.Flags()
	fl.Float64Var(&cfg.MinAgeHours, "min-age-hours", cfg.MinAgeHours, "Ignore services younger than this many hours")
	fl.BoolVar(&cfg.Delete, "delete", false, "Delete flagged Services (default is a dry-run)")
	fl.IntVar(&cfg.MaxDelete, "max-delete", cfg.MaxDelete, "Maximum number of Services deleted per run")
	markThresholds(cmd, "min-age-hours", "max-delete")
	return cmd
}

func newPodRestartsCmd(a *app) *cobra.Command {
	var f kubeFlags
	cfg := kube.DefaultPodRestartsConfig()

	cmd := auditorCmd(kube.PodRestartsID, "pod-restarts", "Find young pods whose containers keep restarting")
	cmd.RunE = a.kubeRunE(&f, func(cs k8sclient.Interface, cluster kube.ClusterInfo) engine.Auditor {
		cfg.Scope = f.scope()
		return kube.NewPodRestarts(cs, cluster, cfg)
	})

	f.bind(cmd)
	fl := cmd.Flags()
	fl.IntVar(&cfg.MinRestarts, "min-restarts", cfg.MinRestarts, "Flag when a container restarted at least this many times")
	fl.Float64Var(&cfg.MaxAgeHours, "max-age-hours", cfg.MaxAgeHours, "Only pods at most this many hours old")
	fl.BoolVar(&cfg.IncludeOlder, "include-older", false, "Ignore pod age")
	fl.BoolVar(&cfg.Annotate, "apply-annotate", false, "Annotate flagged pods (default is a dry-run)")
	fl.StringVar(&cfg.AnnotationKey, "annotation-key", cfg.AnnotationKey, "Annotation key written to flagged pods")
	fl.StringVar(&cfg.AnnotationValue, "annotation-value", cfg.AnnotationValue, "Annotation value written to flagged pods")
	fl.IntVar(&cfg.MaxAnnotate, "max-annotate", cfg.MaxAnnotate, "Maximum number of pods annotated per run")
	markThresholds(cmd, "min-restarts", "max-age-hours", "max-annotate")
	return cmd
}
