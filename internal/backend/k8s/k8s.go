// Package k8s implements [backend.Backend] over Kubernetes Pods: a
// watcher's children become Pods in a namespace instead of local child
// processes. Adapted from the session provider's execInPod/listPods/
// deletePod/getPod pattern, reshaped around one Pod per spawned watcher
// child rather than one long-lived Pod per session.
package k8s

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/procwatch/arbiter/internal/backend"
)

// Environment variables configuring the backend. Mirrors the session
// provider's GC_K8S_* variables, renamed into the arbiter's namespace.
const (
	EnvNamespace  = "ARBITER_K8S_NAMESPACE"
	EnvImage      = "ARBITER_K8S_IMAGE"
	EnvContext    = "ARBITER_K8S_CONTEXT"
	EnvCPURequest = "ARBITER_K8S_CPU_REQUEST"
	EnvMemRequest = "ARBITER_K8S_MEM_REQUEST"
	EnvCPULimit   = "ARBITER_K8S_CPU_LIMIT"
	EnvMemLimit   = "ARBITER_K8S_MEM_LIMIT"
)

// Backend spawns watcher children as Kubernetes Pods.
type Backend struct {
	ops        podOps
	namespace  string
	image      string
	k8sContext string
	cpuRequest string
	memRequest string
	cpuLimit   string
	memLimit   string

	mu   sync.Mutex
	pods map[int]string // synthetic pid -> pod name
}

// New builds a Backend from ARBITER_K8S_* environment variables. Uses
// rest.InClusterConfig() when running inside a cluster, falling back to
// the local kubeconfig for development.
func New() (*Backend, error) {
	namespace := envOrDefault(EnvNamespace, "arbiter")
	image := os.Getenv(EnvImage)
	k8sContext := os.Getenv(EnvContext)

	restConfig, err := buildRESTConfig(k8sContext)
	if err != nil {
		return nil, fmt.Errorf("k8s backend: building config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("k8s backend: creating clientset: %w", err)
	}

	return newWithOps(&realPodOps{clientset: clientset, namespace: namespace}, namespace, image, k8sContext), nil
}

func init() {
	backend.Register("k8s", func() (backend.Backend, error) { return New() })
}

func newWithOps(ops podOps, namespace, image, k8sContext string) *Backend {
	return &Backend{
		ops:        ops,
		namespace:  namespace,
		image:      image,
		k8sContext: k8sContext,
		cpuRequest: envOrDefault(EnvCPURequest, "250m"),
		memRequest: envOrDefault(EnvMemRequest, "256Mi"),
		cpuLimit:   os.Getenv(EnvCPULimit),
		memLimit:   os.Getenv(EnvMemLimit),
		pods:       make(map[int]string),
	}
}

func buildRESTConfig(k8sContext string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}
	if k8sContext != "" {
		overrides.CurrentContext = k8sContext
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

var pidCounter int64

// nextSuffix and the synthetic pid share the same monotonic counter:
// Pods have no OS pid, so Handle.Pid is assigned from this counter and
// carries no meaning beyond uniqueness within this process.
func nextSuffix() int64 { return atomic.AddInt64(&pidCounter, 1) }

// Spawn implements [backend.Backend].
func (b *Backend) Spawn(ctx context.Context, spec backend.ProcessSpec) (backend.Handle, error) {
	if b.image == "" {
		return backend.Handle{}, fmt.Errorf("k8s backend: %s is required", EnvImage)
	}
	pod := b.buildPod(spec)
	created, err := b.ops.createPod(ctx, pod)
	if err != nil {
		return backend.Handle{}, fmt.Errorf("k8s backend: creating pod for watcher %q: %w", spec.Watcher, err)
	}

	pid := int(-nextSuffix())
	b.mu.Lock()
	b.pods[pid] = created.Name
	b.mu.Unlock()

	return backend.Handle{Pid: pid, Opaque: created.Name}, nil
}

// Signal implements [backend.Backend]. Kubernetes Pods have no signal
// delivery API; any signal is mapped to Pod deletion, graceful for
// SIGTERM-class signals and immediate for SIGKILL.
func (b *Backend) Signal(ctx context.Context, h backend.Handle, sig os.Signal) error {
	grace := int64(10)
	if sig == os.Kill {
		grace = 0
	}
	return b.ops.deletePod(ctx, h.Opaque, grace)
}

// Wait implements [backend.Backend]. Polls Pod status until it leaves
// the Running/Pending phases or ctx is cancelled.
func (b *Backend) Wait(ctx context.Context, h backend.Handle) (backend.ExitStatus, error) {
	const pollInterval = 500 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		pod, err := b.ops.getPod(ctx, h.Opaque)
		if err != nil {
			return exitStatusFromErr(err), nil
		}
		if status, done := exitStatusFromPod(pod); done {
			b.mu.Lock()
			delete(b.pods, h.Pid)
			b.mu.Unlock()
			return status, nil
		}
		select {
		case <-ctx.Done():
			return backend.ExitStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// exitStatusFromErr treats a pod that has disappeared (deleted out from
// under us, e.g. by Signal) as a clean exit.
func exitStatusFromErr(_ error) backend.ExitStatus {
	return backend.ExitStatus{ExitCode: 0}
}

func exitStatusFromPod(pod *corev1.Pod) (backend.ExitStatus, bool) {
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return backend.ExitStatus{ExitCode: 0}, true
	case corev1.PodFailed:
		code := 1
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.State.Terminated != nil {
				code = int(cs.State.Terminated.ExitCode)
				break
			}
		}
		return backend.ExitStatus{ExitCode: code}, true
	default:
		return backend.ExitStatus{}, false
	}
}

// Alive implements [backend.Backend].
func (b *Backend) Alive(h backend.Handle) bool {
	pod, err := b.ops.getPod(context.Background(), h.Opaque)
	if err != nil {
		return false
	}
	if pod.DeletionTimestamp != nil {
		return false
	}
	return pod.Status.Phase == corev1.PodRunning || pod.Status.Phase == corev1.PodPending
}

var _ backend.Backend = (*Backend)(nil)
