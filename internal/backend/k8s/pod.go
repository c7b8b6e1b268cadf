package k8s

import (
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/procwatch/arbiter/internal/backend"
)

const podLabelWatcher = "arbiter.watcher"

// buildPod renders a one-container Pod manifest for a single watcher
// child. Unlike a long-lived session pod, this Pod's entrypoint runs the
// watcher's command directly and exits when it does: the arbiter's
// reconciliation loop supervises restarts, the Pod does not.
func (b *Backend) buildPod(spec backend.ProcessSpec) *corev1.Pod {
	podName := sanitizeName(spec.Watcher) + "-" + randSuffix()
	label := sanitizeName(spec.Watcher)

	fields := strings.Fields(spec.Cmd)
	var command []string
	if len(fields) > 0 {
		command = fields
	}

	var env []corev1.EnvVar
	for k, v := range spec.Env {
		env = append(env, corev1.EnvVar{Name: k, Value: v})
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: b.namespace,
			Labels: map[string]string{
				podLabelWatcher: label,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:      "watcher",
				Image:     b.image,
				Command:   command,
				Env:       env,
				Resources: b.resourceRequirements(),
			}},
		},
	}
}

func (b *Backend) resourceRequirements() corev1.ResourceRequirements {
	var req corev1.ResourceRequirements
	if b.cpuRequest != "" || b.memRequest != "" {
		req.Requests = corev1.ResourceList{}
		if b.cpuRequest != "" {
			req.Requests[corev1.ResourceCPU] = resource.MustParse(b.cpuRequest)
		}
		if b.memRequest != "" {
			req.Requests[corev1.ResourceMemory] = resource.MustParse(b.memRequest)
		}
	}
	if b.cpuLimit != "" || b.memLimit != "" {
		req.Limits = corev1.ResourceList{}
		if b.cpuLimit != "" {
			req.Limits[corev1.ResourceCPU] = resource.MustParse(b.cpuLimit)
		}
		if b.memLimit != "" {
			req.Limits[corev1.ResourceMemory] = resource.MustParse(b.memLimit)
		}
	}
	return req
}

// randSuffix returns a short pseudo-random suffix for pod name uniqueness.
// Seeded from the process-wide counter rather than time/rand, since the
// backend may spawn many children per second under the same watcher name.
func randSuffix() string {
	n := nextSuffix()
	return fmt.Sprintf("%06d", n%1000000)
}
