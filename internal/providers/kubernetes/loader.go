package kubernetes

import (
	"fmt"
	"os"
	"path/filepath"

	k8sclient "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// InClusterContext is the context name reported for in-cluster connections.
const InClusterContext = "in-cluster"

// resolveKubeconfigPath returns the effective kubeconfig file path.
// Prefers $KUBECONFIG if set; falls back to ~/.kube/config.
func resolveKubeconfigPath() string {
	if path := os.Getenv("KUBECONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kube", "config")
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func inCluster() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// LoadClientset builds a kubernetes clientset from the kubeconfig file at path,
// targeting the given context (empty = current context).
//
// Returns the clientset and the resolved ClusterInfo (context name + server URL).
func LoadClientset(kubeconfigPath, contextName string) (k8sclient.Interface, ClusterInfo, error) {
	loadingRules := &clientcmd.ClientConfigLoadingRules{
		ExplicitPath: kubeconfigPath,
	}
	overrides := &clientcmd.ConfigOverrides{}
	if contextName != "" {
		overrides.CurrentContext = contextName
	}

	cfg := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides)

	info, err := resolveClusterInfo(cfg, contextName)
	if err != nil {
		return nil, ClusterInfo{}, fmt.Errorf("load kubeconfig %q: %w", kubeconfigPath, err)
	}

	restCfg, err := cfg.ClientConfig()
	if err != nil {
		return nil, ClusterInfo{}, fmt.Errorf("build REST config for context %q: %w", info.ContextName, err)
	}

	clientset, err := k8sclient.NewForConfig(restCfg)
	if err != nil {
		return nil, ClusterInfo{}, fmt.Errorf("build clientset for context %q: %w", info.ContextName, err)
	}
	return clientset, info, nil
}

// resolveClusterInfo reads the effective context name and server URL from
// the raw kubeconfig.
func resolveClusterInfo(cfg clientcmd.ClientConfig, contextName string) (ClusterInfo, error) {
	rawCfg, err := cfg.RawConfig()
	if err != nil {
		return ClusterInfo{}, err
	}

	effectiveContext := rawCfg.CurrentContext
	if contextName != "" {
		effectiveContext = contextName
	}
	if _, ok := rawCfg.Contexts[effectiveContext]; !ok {
		return ClusterInfo{}, fmt.Errorf("context %q not found", effectiveContext)
	}

	server := ""
	if cluster, ok := rawCfg.Clusters[rawCfg.Contexts[effectiveContext].Cluster]; ok {
		server = cluster.Server
	}
	return ClusterInfo{ContextName: effectiveContext, Server: server}, nil
}

// LoadInCluster builds a clientset from the service account mounted into
// the pod.
func LoadInCluster() (k8sclient.Interface, ClusterInfo, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, ClusterInfo{}, fmt.Errorf("in-cluster config: %w", err)
	}
	clientset, err := k8sclient.NewForConfig(restCfg)
	if err != nil {
		return nil, ClusterInfo{}, fmt.Errorf("build in-cluster clientset: %w", err)
	}
	return clientset, ClusterInfo{ContextName: InClusterContext, Server: restCfg.Host}, nil
}
