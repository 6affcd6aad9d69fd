package kubernetes

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	discoveryv1 "k8s.io/api/discovery/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sclient "k8s.io/client-go/kubernetes"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/classify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
)

// OrphanedServicesID is the auditor identifier used in reports and policy files.
const OrphanedServicesID = "k8s-orphaned-services"

// OrphanedServicesConfig holds the switches of the orphaned service auditor.
type OrphanedServicesConfig struct {
	Scope Scope
	// MinAgeHours ignores services younger than this, so freshly created
	// services whose pods are still starting are not reported.
	MinAgeHours float64

	Delete    bool
	MaxDelete int
}

// DefaultOrphanedServicesConfig returns the documented defaults.
func DefaultOrphanedServicesConfig() OrphanedServicesConfig {
	return OrphanedServicesConfig{MinAgeHours: 1, MaxDelete: 20}
}

// OrphanedServices flags Services with a selector that have no ready
// endpoint in any EndpointSlice. ExternalName services and services without
// a selector are never flagged.
type OrphanedServices struct {
	clientset k8sclient.Interface
	cluster   ClusterInfo
	cfg       OrphanedServicesConfig
	now       func() time.Time
}

// NewOrphanedServices returns the orphaned service auditor.
func NewOrphanedServices(clientset k8sclient.Interface, cluster ClusterInfo, cfg OrphanedServicesConfig) *OrphanedServices {
	return &OrphanedServices{clientset: clientset, cluster: cluster, cfg: cfg, now: time.Now}
}

// Info implements engine.Auditor.
func (a *OrphanedServices) Info() engine.Info {
	return engine.Info{
		ID:    OrphanedServicesID,
		Scope: engine.Global,
		Params: models.NewRecord(
			"context", a.cluster.ContextName,
			"namespaces", a.cfg.Scope.Namespaces,
			"exclude_namespaces", a.cfg.Scope.ExcludeNamespaces,
			"label_selector", a.cfg.Scope.LabelSelector,
			"min_age_hours", a.cfg.MinAgeHours,
			"delete", a.cfg.Delete,
			"max_delete", a.cfg.MaxDelete,
		),
		Columns:      []string{"namespace", "service", "type", "selector", "age_hours", "delete_attempted", "delete_error"},
		EmptyMessage: "No orphaned Services found.",
		Remediation: &engine.Remediation{
			Verb:    "delete",
			Enabled: a.cfg.Delete,
			Max:     a.cfg.MaxDelete,
			Hint:    "use --delete to remove flagged Services.",
			Action:  a.delete,
		},
	}
}

// Collect implements engine.Auditor.
func (a *OrphanedServices) Collect(ctx context.Context, _ string) ([]*engine.Candidate, error) {
	services, err := listServices(ctx, a.clientset, a.cfg.Scope)
	if err != nil {
		return nil, err
	}
	slices, err := listEndpointSlices(ctx, a.clientset, a.cfg.Scope)
	if err != nil {
		return nil, err
	}
	ready := readyEndpointCounts(slices)

	now := a.now()
	var candidates []*engine.Candidate
	for _, svc := range services {
		if svc.Spec.Type == corev1.ServiceTypeExternalName || len(svc.Spec.Selector) == 0 {
			continue
		}
		key := svc.Namespace + "/" + svc.Name
		ageHours := now.Sub(svc.CreationTimestamp.Time).Hours()
		endpoints := ready[key]

		checks := []classify.Check{
			{Name: "ready_endpoints", Observed: float64(endpoints), Threshold: 0, Op: classify.AtMost, Text: "no ready endpoints"},
			{Name: "age_hours", Observed: ageHours, Threshold: a.cfg.MinAgeHours, Op: classify.AtLeast},
		}

		candidates = append(candidates, &engine.Candidate{
			ID: key,
			Record: models.NewRecord(
				"namespace", svc.Namespace,
				"service", svc.Name,
				"type", string(svc.Spec.Type),
				"cluster_ip", svc.Spec.ClusterIP,
				"selector", svc.Spec.Selector,
				"ready_endpoints", endpoints,
				"age_hours", round1(ageHours),
			),
			Verdict: classify.Classify(checks, classify.All),
			Target:  svc.DeepCopy(),
		})
	}
	return candidates, nil
}

func (a *OrphanedServices) delete(ctx context.Context, c *engine.Candidate) error {
	svc := c.Target.(*corev1.Service)
	// Preconditions guard against deleting a Service recreated under the
	// same name since it was listed.
	err := a.clientset.CoreV1().Services(svc.Namespace).Delete(ctx, svc.Name, metav1.DeleteOptions{
		Preconditions: &metav1.Preconditions{UID: &svc.UID},
	})
	if err != nil {
		return fmt.Errorf("delete service %s: %w", c.ID, err)
	}
	return nil
}

// readyEndpointCounts returns, per "<namespace>/<service>", the number of
// ready endpoints across all of the service's EndpointSlices. An endpoint
// with an unknown ready condition counts as ready.
func readyEndpointCounts(slices []discoveryv1.EndpointSlice) map[string]int {
	counts := make(map[string]int)
	for _, s := range slices {
		svc := s.Labels[discoveryv1.LabelServiceName]
		if svc == "" {
			continue
		}
		key := s.Namespace + "/" + svc
		for _, ep := range s.Endpoints {
			if ep.Conditions.Ready == nil || *ep.Conditions.Ready {
				counts[key]++
			}
		}
	}
	return counts
}
