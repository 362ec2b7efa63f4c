package k8s

import (
	"context"
	"fmt"
	"net"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// GraphNode representa um recurso de sessão no grafo.
type GraphNode struct {
	ID       string            `json:"id"`
	Kind     string            `json:"kind"`
	Name     string            `json:"name"`
	Username string            `json:"username"`
	Phase    string            `json:"phase,omitempty"`
	NodePort int32             `json:"nodePort,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// GraphEdge representa uma relação service -> pod.
type GraphEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// SessionGraph é o grafo das sessões do namespace, usado no painel de administração.
type SessionGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// SessionGraph lista pods e services com label de dono e liga cada service aos pods que ele seleciona.
// Services sem pod (sessões encerradas) aparecem soltos no grafo.
func (r *Reconciler) SessionGraph(ctx context.Context) (*SessionGraph, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	g := &SessionGraph{
		Nodes: []GraphNode{},
		Edges: []GraphEdge{},
	}

	opts := metav1.ListOptions{LabelSelector: ownerLabel}

	pods, err := r.client.CoreV1().Pods(r.namespace).List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("erro ao listar pods: %w", err)
	}
	svcs, err := r.client.CoreV1().Services(r.namespace).List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("erro ao listar services: %w", err)
	}

	for _, p := range pods.Items {
		g.Nodes = append(g.Nodes, GraphNode{
			ID:       "pod:" + p.Name,
			Kind:     "Pod",
			Name:     p.Name,
			Username: p.Labels[ownerLabel],
			Phase:    string(p.Status.Phase),
			Labels:   p.Labels,
		})
	}

	for _, s := range svcs.Items {
		port, _ := nodePortOf(&s)
		g.Nodes = append(g.Nodes, GraphNode{
			ID:       "svc:" + s.Name,
			Kind:     "Service",
			Name:     s.Name,
			Username: s.Labels[ownerLabel],
			NodePort: port,
			Labels:   s.Labels,
		})
		for _, p := range pods.Items {
			if podMatchesSelector(p.Labels, s.Spec.Selector) {
				g.Edges = append(g.Edges, GraphEdge{
					ID:     "edge:svc->pod:" + s.Name + "->" + p.Name,
					Source: "svc:" + s.Name,
					Target: "pod:" + p.Name,
				})
			}
		}
	}

	return g, nil
}

// NodeNames mapeia "<InternalIP>:<porta do exporter>" para o nome do node,
// que é como o node-exporter aparece no label instance do Prometheus.
func (r *Reconciler) NodeNames(ctx context.Context, exporterPort int) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	nodes, err := r.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("erro ao listar nodes: %w", err)
	}

	names := make(map[string]string, len(nodes.Items))
	port := strconv.Itoa(exporterPort)
	for _, n := range nodes.Items {
		for _, addr := range n.Status.Addresses {
			if addr.Type == corev1.NodeInternalIP {
				names[net.JoinHostPort(addr.Address, port)] = n.Name
			}
		}
	}
	return names, nil
}

func podMatchesSelector(labels, selector map[string]string) bool {
	if len(selector) == 0 {
		return false
	}
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}
