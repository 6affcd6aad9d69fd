package kubernetes

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	k8sclient "k8s.io/client-go/kubernetes"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/classify"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
)

// PodRestartsID is the auditor identifier used in reports and policy files.
const PodRestartsID = "k8s-pod-restarts"

// PodRestartsConfig holds the thresholds and switches of the restart auditor.
type PodRestartsConfig struct {
	Scope       Scope
	MinRestarts int
	MaxAgeHours float64
	// IncludeOlder drops the age condition; only restarts count.
	IncludeOlder bool

	Annotate        bool
	AnnotationKey   string
	AnnotationValue string
	MaxAnnotate     int
}

// DefaultPodRestartsConfig returns the documented defaults.
func DefaultPodRestartsConfig() PodRestartsConfig {
	return PodRestartsConfig{
		MinRestarts:     5,
		MaxAgeHours:     24,
		AnnotationKey:   "ops/restart-spike",
		AnnotationValue: "true",
		MaxAnnotate:     100,
	}
}

// PodRestarts flags young pods whose containers restart a lot, a typical
// crash loop signature.
type PodRestarts struct {
	clientset k8sclient.Interface
	cluster   ClusterInfo
	cfg       PodRestartsConfig
	now       func() time.Time
}

// NewPodRestarts returns the pod restart auditor.
func NewPodRestarts(clientset k8sclient.Interface, cluster ClusterInfo, cfg PodRestartsConfig) *PodRestarts {
	return &PodRestarts{clientset: clientset, cluster: cluster, cfg: cfg, now: time.Now}
}

// Info implements engine.Auditor.
func (a *PodRestarts) Info() engine.Info {
	return engine.Info{
		ID:    PodRestartsID,
		Scope: engine.Global,
		Params: models.NewRecord(
			"context", a.cluster.ContextName,
			"namespaces", a.cfg.Scope.Namespaces,
			"exclude_namespaces", a.cfg.Scope.ExcludeNamespaces,
			"label_selector", a.cfg.Scope.LabelSelector,
			"min_restarts", a.cfg.MinRestarts,
			"max_age_hours", a.cfg.MaxAgeHours,
			"include_older", a.cfg.IncludeOlder,
			"apply_annotate", a.cfg.Annotate,
		),
		Columns:      []string{"namespace", "pod", "age_hours", "max_restart", "containers_flagged", "annotate_attempted", "annotate_error"},
		EmptyMessage: "No pods with restart spikes found.",
		Remediation: &engine.Remediation{
			Verb:    "annotate",
			Enabled: a.cfg.Annotate,
			Max:     a.cfg.MaxAnnotate,
			Hint:    fmt.Sprintf("use --apply-annotate to mark flagged pods with %s=%s.", a.cfg.AnnotationKey, a.cfg.AnnotationValue),
			Action:  a.annotate,
		},
	}
}

// Collect implements engine.Auditor. Pods without container statuses are
// skipped.
func (a *PodRestarts) Collect(ctx context.Context, _ string) ([]*engine.Candidate, error) {
	pods, err := listPods(ctx, a.clientset, a.cfg.Scope)
	if err != nil {
		return nil, err
	}

	now := a.now()
	var candidates []*engine.Candidate
	for _, pod := range pods {
		statuses := pod.Status.ContainerStatuses
		if len(statuses) == 0 {
			continue
		}

		var maxRestart int32
		flaggedContainers := []string{}
		for _, s := range statuses {
			if s.RestartCount > maxRestart {
				maxRestart = s.RestartCount
			}
			if int(s.RestartCount) >= a.cfg.MinRestarts {
				flaggedContainers = append(flaggedContainers, s.Name)
			}
		}

		ageHours := 0.0
		if !pod.CreationTimestamp.IsZero() {
			ageHours = now.Sub(pod.CreationTimestamp.Time).Hours()
		}

		checks := []classify.Check{
			{Name: "max_restart", Observed: float64(maxRestart), Threshold: float64(a.cfg.MinRestarts), Op: classify.AtLeast},
		}
		if !a.cfg.IncludeOlder {
			checks = append(checks, classify.Check{Name: "age_hours", Observed: ageHours, Threshold: a.cfg.MaxAgeHours, Op: classify.AtMost})
		}

		candidates = append(candidates, &engine.Candidate{
			ID: pod.Namespace + "/" + pod.Name,
			Record: models.NewRecord(
				"namespace", pod.Namespace,
				"pod", pod.Name,
				"node", pod.Spec.NodeName,
				"phase", string(pod.Status.Phase),
				"age_hours", round1(ageHours),
				"max_restart", maxRestart,
				"containers_flagged", flaggedContainers,
			),
			Verdict: classify.Classify(checks, classify.All),
			Target:  &corev1.ObjectReference{Namespace: pod.Namespace, Name: pod.Name},
		})
	}
	return candidates, nil
}

// annotate merges the review annotation into the pod metadata.
func (a *PodRestarts) annotate(ctx context.Context, c *engine.Candidate) error {
	ref := c.Target.(*corev1.ObjectReference)
	patch, err := json.Marshal(map[string]any{
		"metadata": map[string]any{
			"annotations": map[string]string{a.cfg.AnnotationKey: a.cfg.AnnotationValue},
		},
	})
	if err != nil {
		return err
	}
	_, err = a.clientset.CoreV1().Pods(ref.Namespace).Patch(ctx, ref.Name, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("annotate pod %s: %w", c.ID, err)
	}
	return nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
