package kubernetes

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/engine"
	"github.com/pankaj-dahiya-devops/opsaudit/internal/models"
)

// makeRestartingPod is a test helper that builds a pod created ageHours ago
// with one container per restart count.
func makeRestartingPod(namespace, name string, ageHours int, restarts ...int32) *corev1.Pod {
	p := makePod(namespace, name, nil)
	p.CreationTimestamp = metav1.NewTime(testNow.Add(-time.Duration(ageHours) * time.Hour))
	for i, r := range restarts {
		p.Status.ContainerStatuses = append(p.Status.ContainerStatuses, corev1.ContainerStatus{
			Name:         []string{"app", "sidecar", "init"}[i],
			RestartCount: r,
		})
	}
	return p
}

func restartFixture() *fake.Clientset {
	return fake.NewSimpleClientset(
		makeRestartingPod("prod", "crashy", 3, 12, 0),
		makeRestartingPod("prod", "stable", 3, 1),
		makeRestartingPod("prod", "old-crashy", 72, 40),
		makeRestartingPod("prod", "pending", 1),
	)
}

func runRestarts(t *testing.T, client *fake.Clientset, cfg PodRestartsConfig) *models.AuditReport {
	t.Helper()
	a := NewPodRestarts(client, ClusterInfo{ContextName: "test"}, cfg)
	a.now = func() time.Time { return testNow }
	report, err := engine.NewDefaultEngine().RunAudit(context.Background(), a, engine.RunOptions{})
	if err != nil {
		t.Fatalf("RunAudit error: %v", err)
	}
	return report
}

func flaggedPods(report *models.AuditReport) []string {
	var out []string
	for _, r := range report.Results {
		name, _ := r.Get("pod")
		out = append(out, name.(string))
	}
	return out
}

// TestPodRestarts_YoungPodsOnly verifies the default heuristic: restarts at
// or above the threshold on a pod younger than MaxAgeHours.
func TestPodRestarts_YoungPodsOnly(t *testing.T) {
	report := runRestarts(t, restartFixture(), DefaultPodRestartsConfig())

	if got := flaggedPods(report); len(got) != 1 || got[0] != "crashy" {
		t.Fatalf("flagged = %v; want [crashy]", got)
	}
	if report.Summary.Scanned != 3 {
		t.Errorf("Scanned = %d; want 3 (pods without statuses skipped)", report.Summary.Scanned)
	}
	containers, _ := report.Results[0].Get("containers_flagged")
	if c, ok := containers.([]string); !ok || len(c) != 1 || c[0] != "app" {
		t.Errorf("containers_flagged = %v; want [app]", containers)
	}
	maxRestart, _ := report.Results[0].Get("max_restart")
	if maxRestart != int32(12) {
		t.Errorf("max_restart = %v; want 12", maxRestart)
	}
}

// TestPodRestarts_IncludeOlder verifies that the age condition is dropped.
func TestPodRestarts_IncludeOlder(t *testing.T) {
	cfg := DefaultPodRestartsConfig()
	cfg.IncludeOlder = true
	got := flaggedPods(runRestarts(t, restartFixture(), cfg))
	if !sameSet(got, []string{"crashy", "old-crashy"}) {
		t.Errorf("flagged = %v; want crashy and old-crashy", got)
	}
}

// TestPodRestarts_Annotate verifies that the review annotation is merged into
// the flagged pod.
func TestPodRestarts_Annotate(t *testing.T) {
	client := restartFixture()
	cfg := DefaultPodRestartsConfig()
	cfg.Annotate = true

	report := runRestarts(t, client, cfg)
	if report.Summary.Applied != 1 {
		t.Fatalf("Applied = %d; want 1", report.Summary.Applied)
	}

	pod, err := client.CoreV1().Pods("prod").Get(context.Background(), "crashy", metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if pod.Annotations["ops/restart-spike"] != "true" {
		t.Errorf("annotations = %v", pod.Annotations)
	}
}
