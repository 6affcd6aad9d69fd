package kubernetes

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	discoveryv1 "k8s.io/api/discovery/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sclient "k8s.io/client-go/kubernetes"

	"github.com/pankaj-dahiya-devops/opsaudit/internal/paginate"
)

// pageSize is the Limit sent with every List call; the server returns a
// Continue token when more objects remain.
const pageSize = 500

// listPages pages a namespaced List call through every namespace in scope
// and drops objects from excluded namespaces.
func listPages[T any](ctx context.Context, scope Scope, namespaceOf func(T) string,
	list func(ctx context.Context, namespace string, opts metav1.ListOptions) ([]T, string, error)) ([]T, error) {
	var out []T
	for _, ns := range scope.listNamespaces() {
		items, err := paginate.ListAll(ctx, func(ctx context.Context, token *string) ([]T, *string, error) {
			items, next, err := list(ctx, ns, metav1.ListOptions{
				LabelSelector: scope.LabelSelector,
				Limit:         pageSize,
				Continue:      paginate.Value(token),
			})
			if err != nil {
				return nil, nil, err
			}
			return items, paginate.Token(next), nil
		})
		if err != nil {
			if ns == "" {
				return nil, err
			}
			return nil, fmt.Errorf("namespace %s: %w", ns, err)
		}
		for _, item := range items {
			if !scope.excluded(namespaceOf(item)) {
				out = append(out, item)
			}
		}
	}
	return out, nil
}

// listServices lists the Services in scope.
func listServices(ctx context.Context, clientset k8sclient.Interface, scope Scope) ([]corev1.Service, error) {
	services, err := listPages(ctx, scope, func(s corev1.Service) string { return s.Namespace },
		func(ctx context.Context, ns string, opts metav1.ListOptions) ([]corev1.Service, string, error) {
			l, err := clientset.CoreV1().Services(ns).List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			return l.Items, l.Continue, nil
		})
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	return services, nil
}

// listEndpointSlices lists the EndpointSlices in the namespaces in scope.
// The label selector is not applied: slices carry their own labels.
func listEndpointSlices(ctx context.Context, clientset k8sclient.Interface, scope Scope) ([]discoveryv1.EndpointSlice, error) {
	scope.LabelSelector = ""
	slices, err := listPages(ctx, scope, func(s discoveryv1.EndpointSlice) string { return s.Namespace },
		func(ctx context.Context, ns string, opts metav1.ListOptions) ([]discoveryv1.EndpointSlice, string, error) {
			l, err := clientset.DiscoveryV1().EndpointSlices(ns).List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			return l.Items, l.Continue, nil
		})
	if err != nil {
		return nil, fmt.Errorf("list endpointslices: %w", err)
	}
	return slices, nil
}

// listPods lists the Pods in scope.
func listPods(ctx context.Context, clientset k8sclient.Interface, scope Scope) ([]corev1.Pod, error) {
	pods, err := listPages(ctx, scope, func(p corev1.Pod) string { return p.Namespace },
		func(ctx context.Context, ns string, opts metav1.ListOptions) ([]corev1.Pod, string, error) {
			l, err := clientset.CoreV1().Pods(ns).List(ctx, opts)
			if err != nil {
				return nil, "", err
			}
			return l.Items, l.Continue, nil
		})
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	return pods, nil
}
