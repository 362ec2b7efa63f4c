package k8s

import (
	"bufio"
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

// WorkloadYAML devolve o pod da sessão em YAML, para inspeção no painel.
func (r *Reconciler) WorkloadYAML(ctx context.Context, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pod, err := r.client.CoreV1().Pods(r.namespace).Get(ctx, WorkloadName(user), metav1.GetOptions{})
	if err != nil {
		return "", err
	}
	pod.ManagedFields = nil
	return toYAML(pod)
}

// EndpointYAML devolve o service da sessão em YAML.
func (r *Reconciler) EndpointYAML(ctx context.Context, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	svc, err := r.client.CoreV1().Services(r.namespace).Get(ctx, EndpointName(user), metav1.GetOptions{})
	if err != nil {
		return "", err
	}
	svc.ManagedFields = nil
	return toYAML(svc)
}

func toYAML(obj interface{}) (string, error) {
	// sigs.k8s.io/yaml respeita as tags json dos tipos do client-go
	y, err := yaml.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("erro ao converter para yaml: %w", err)
	}
	return string(y), nil
}

// WorkloadLogs busca as últimas linhas de log do container de desktop.
func (r *Reconciler) WorkloadLogs(ctx context.Context, user string, tailLines int64) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := &corev1.PodLogOptions{
		Container: guiContainer,
		TailLines: &tailLines,
	}

	req := r.client.CoreV1().Pods(r.namespace).GetLogs(WorkloadName(user), opts)
	podLogs, err := req.Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("erro ao abrir stream de logs: %w", err)
	}
	defer podLogs.Close()

	lines := []string{}
	scanner := bufio.NewScanner(podLogs)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("erro ao ler logs: %w", err)
	}
	return lines, nil
}
