package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/docker/go-units"
	"github.com/gluk-w/claworc/terminal-server/internal/config"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	utilrand "k8s.io/apimachinery/pkg/util/rand"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

type KubernetesOrchestrator struct {
	clientset kubernetes.Interface
	available bool
	inCluster bool
}

func (k *KubernetesOrchestrator) Initialize(ctx context.Context) error {
	cfg, err := rest.InClusterConfig()
	if err == nil {
		k.inCluster = true
	} else {
		kubeconfig := clientcmd.NewDefaultClientConfigLoadingRules().GetDefaultFilename()
		if home := homedir.HomeDir(); home != "" && kubeconfig == "" {
			kubeconfig = home + "/.kube/config"
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return fmt.Errorf("k8s config: %w", err)
		}
	}

	k.clientset, err = kubernetes.NewForConfig(cfg)
	if err != nil {
		return fmt.Errorf("k8s clientset: %w", err)
	}

	_, err = k.clientset.CoreV1().Namespaces().Get(ctx, config.Cfg.K8sNamespace, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("k8s namespace check: %w", err)
	}

	k.available = true
	return nil
}

func (k *KubernetesOrchestrator) IsAvailable(_ context.Context) bool {
	return k.available
}

func (k *KubernetesOrchestrator) BackendName() string {
	return "kubernetes"
}

func (k *KubernetesOrchestrator) ns() string {
	return config.Cfg.K8sNamespace
}

// workloadName names one container generation of a terminal. Every create
// gets a fresh suffix so a replaced workload never shares its ref.
func workloadName(terminalID string) string {
	return ContainerName(terminalID) + "-" + utilrand.String(5)
}

func (k *KubernetesOrchestrator) CreateContainer(ctx context.Context, params CreateParams) (*ContainerInfo, error) {
	ns := k.ns()
	name := workloadName(params.TerminalID)

	pod, err := buildPod(params, ns, name)
	if err != nil {
		return nil, err
	}
	created, err := k.clientset.CoreV1().Pods(ns).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("create pod: %w", err)
	}

	svc := buildService(params.TerminalID, ns, name)
	if _, err := k.clientset.CoreV1().Services(ns).Create(ctx, svc, metav1.CreateOptions{}); err != nil {
		k.clientset.CoreV1().Pods(ns).Delete(ctx, created.Name, metav1.DeleteOptions{})
		return nil, fmt.Errorf("create service: %w", err)
	}

	log.Printf("Created pod %s/%s", ns, created.Name)
	// The Service shares the pod name so the readiness poll resolves it.
	return &ContainerInfo{Ref: created.Name, Name: created.Name}, nil
}

func (k *KubernetesOrchestrator) DeleteContainer(ctx context.Context, ref string) error {
	return k.remove(ctx, ref, nil)
}

func (k *KubernetesOrchestrator) StopContainer(ctx context.Context, ref string) error {
	grace := int64(10)
	return k.remove(ctx, ref, &grace)
}

func (k *KubernetesOrchestrator) remove(ctx context.Context, name string, grace *int64) error {
	ns := k.ns()
	if err := k.clientset.CoreV1().Pods(ns).Delete(ctx, name, metav1.DeleteOptions{GracePeriodSeconds: grace}); err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("delete pod: %w", err)
	}
	if err := k.clientset.CoreV1().Services(ns).Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !errors.IsNotFound(err) {
		return fmt.Errorf("delete service: %w", err)
	}
	return nil
}

func (k *KubernetesOrchestrator) GetContainerStatus(ctx context.Context, ref string) (string, error) {
	pod, err := k.clientset.CoreV1().Pods(k.ns()).Get(ctx, ref, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("get pod: %w", err)
	}
	return string(pod.Status.Phase), nil
}

func (k *KubernetesOrchestrator) CountActiveContainers(ctx context.Context) (int, error) {
	pods, err := k.clientset.CoreV1().Pods(k.ns()).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", LabelApp, LabelAppValue),
		FieldSelector: "status.phase=Running",
	})
	if err != nil {
		return 0, fmt.Errorf("list pods: %w", err)
	}
	return len(pods.Items), nil
}

// GetContainerStats is not available without a metrics server.
func (k *KubernetesOrchestrator) GetContainerStats(_ context.Context, _ string) (*ResourceStats, error) {
	return nil, nil
}

// --- Resource builders ---

func buildPod(params CreateParams, ns, name string) (*corev1.Pod, error) {
	memBytes, err := units.RAMInBytes(config.Cfg.MemoryLimit)
	if err != nil {
		return nil, fmt.Errorf("parse memory limit %q: %w", config.Cfg.MemoryLimit, err)
	}
	resources := corev1.ResourceList{
		corev1.ResourceCPU:    *resource.NewMilliQuantity(int64(config.Cfg.CPULimit*1000), resource.DecimalSI),
		corev1.ResourceMemory: *resource.NewQuantity(memBytes, resource.BinarySI),
	}

	var envVars []corev1.EnvVar
	for k, v := range containerEnv(params) {
		envVars = append(envVars, corev1.EnvVar{Name: k, Value: v})
	}

	spec := corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
		Containers: []corev1.Container{{
			Name:            "terminal",
			Image:           config.Cfg.TerminalImage,
			ImagePullPolicy: corev1.PullIfNotPresent,
			Ports: []corev1.ContainerPort{
				{Name: "http", ContainerPort: int32(config.Cfg.ContainerPort)},
			},
			Env: envVars,
			Resources: corev1.ResourceRequirements{
				Requests: resources,
				Limits:   resources,
			},
		}},
	}
	if config.Cfg.UseGVisor {
		runtimeClass := "gvisor"
		spec.RuntimeClassName = &runtimeClass
		spec.DNSPolicy = corev1.DNSNone
		spec.DNSConfig = &corev1.PodDNSConfig{Nameservers: gvisorDNS}
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: ns,
			Labels:    workloadLabels(params.TerminalID, name),
		},
		Spec: spec,
	}, nil
}

func workloadLabels(terminalID, name string) map[string]string {
	labels := containerLabels(terminalID)
	labels[LabelWorkload] = name
	return labels
}

func buildService(terminalID, ns, name string) *corev1.Service {
	port := int32(config.Cfg.ContainerPort)
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: ns,
			Labels:    workloadLabels(terminalID, name),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: map[string]string{LabelWorkload: name},
			Ports: []corev1.ServicePort{
				{Name: "http", Port: port, TargetPort: intstr.FromInt32(port), Protocol: corev1.ProtocolTCP},
			},
		},
	}
}

var _ ContainerOrchestrator = (*KubernetesOrchestrator)(nil)
