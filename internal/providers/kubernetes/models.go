package kubernetes

// ClusterInfo identifies a Kubernetes cluster and the kubeconfig context used
// to connect to it.
type ClusterInfo struct {
	// ContextName is the kubeconfig context name used to connect.
	// "in-cluster" when running inside a pod.
	ContextName string

	// Server is the Kubernetes API server URL resolved from the kubeconfig.
	Server string
}

// Scope narrows which namespaces and objects an auditor lists.
type Scope struct {
	// Namespaces limits listing to these namespaces. Empty means all.
	Namespaces []string

	// ExcludeNamespaces drops objects in these namespaces.
	ExcludeNamespaces []string

	// LabelSelector is passed to every List call (e.g. "app=my-api").
	LabelSelector string
}

// listNamespaces returns the namespaces to list: the configured ones, or a
// single "" (all namespaces) when none are configured.
func (s Scope) listNamespaces() []string {
	if len(s.Namespaces) == 0 {
		return []string{""}
	}
	out := make([]string, 0, len(s.Namespaces))
	for _, ns := range s.Namespaces {
		if !s.excluded(ns) {
			out = append(out, ns)
		}
	}
	return out
}

func (s Scope) excluded(namespace string) bool {
	for _, ns := range s.ExcludeNamespaces {
		if ns == namespace {
			return true
		}
	}
	return false
}
