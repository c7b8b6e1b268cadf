package k8s

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// podOps abstracts the Kubernetes API surface the backend needs, so tests
// can substitute a fake without a real cluster.
type podOps interface {
	createPod(ctx context.Context, pod *corev1.Pod) (*corev1.Pod, error)
	getPod(ctx context.Context, name string) (*corev1.Pod, error)
	deletePod(ctx context.Context, name string, graceSeconds int64) error
	listPods(ctx context.Context, selector string) ([]corev1.Pod, error)
}

// realPodOps wraps a live clientset.
type realPodOps struct {
	clientset kubernetes.Interface
	namespace string
}

func (r *realPodOps) createPod(ctx context.Context, pod *corev1.Pod) (*corev1.Pod, error) {
	return r.clientset.CoreV1().Pods(r.namespace).Create(ctx, pod, metav1.CreateOptions{})
}

func (r *realPodOps) getPod(ctx context.Context, name string) (*corev1.Pod, error) {
	return r.clientset.CoreV1().Pods(r.namespace).Get(ctx, name, metav1.GetOptions{})
}

func (r *realPodOps) deletePod(ctx context.Context, name string, graceSeconds int64) error {
	return r.clientset.CoreV1().Pods(r.namespace).Delete(ctx, name, metav1.DeleteOptions{
		GracePeriodSeconds: &graceSeconds,
	})
}

func (r *realPodOps) listPods(ctx context.Context, selector string) ([]corev1.Pod, error) {
	list, err := r.clientset.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}
