package k8s

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"

	"github.com/widen0814/VDI/internal/username"
)

// Faixa válida de NodePort do Kubernetes.
const (
	MinNodePort = 30000
	MaxNodePort = 32767
)

const (
	ownerLabel      = "user"
	guiContainer    = "gui"
	webPortName     = "web"
	sidecarInjectAn = "sidecar.istio.io/inject"
)

// SessionStatus indica se o workload já existia ou foi criado agora.
type SessionStatus string

const (
	StatusExists  SessionStatus = "EXISTS"
	StatusCreated SessionStatus = "CREATED"
)

// Intervalo de consulta enquanto um pod em encerramento não some.
const terminatingPoll = 250 * time.Millisecond

var (
	ErrNoNodePort          = errors.New("service sem NodePort atribuído")
	ErrWorkloadTerminating = errors.New("pod anterior ainda em encerramento")
)

// WorkloadSpec descreve a imagem de desktop de uma sessão.
type WorkloadSpec struct {
	Image   string
	WebPort int32
	VNCPort int32
}

// Session é o resultado de EnsureSession.
type Session struct {
	WorkloadName string        `json:"workload"`
	Status       SessionStatus `json:"status"`
	NodePort     int32         `json:"nodePort"`
	URL          string        `json:"url"`
}

// Reconciler mantém um pod e um service NodePort por usuário em um namespace.
type Reconciler struct {
	client      kubernetes.Interface
	namespace   string
	nodeAddress string
	basePort    int
	timeout     time.Duration
	log         *zap.Logger
}

// ReconcilerConfig agrupa os parâmetros do Reconciler.
type ReconcilerConfig struct {
	Namespace   string
	NodeAddress string
	BasePort    int
	Timeout     time.Duration
}

// NewReconciler cria o Reconciler. Timeout zero vira 5s.
func NewReconciler(client kubernetes.Interface, cfg ReconcilerConfig, log *zap.Logger) *Reconciler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Namespace == "" {
		cfg.Namespace = metav1.NamespaceDefault
	}
	return &Reconciler{
		client:      client,
		namespace:   cfg.Namespace,
		nodeAddress: cfg.NodeAddress,
		basePort:    cfg.BasePort,
		timeout:     cfg.Timeout,
		log:         log,
	}
}

func WorkloadName(user string) string  { return "gui-" + user }
func EndpointName(user string) string  { return "gui-svc-" + user }
func OwnerSelector(user string) string { return ownerLabel + "=" + user }

// NodePortFor calcula a porta determinística base + dígitos do nome.
// Sem dígitos ou fora da faixa de NodePort, retorna false e a porta fica a cargo do cluster.
func NodePortFor(base int, user string) (int32, bool) {
	n, ok := username.Number(user)
	if !ok {
		return 0, false
	}
	port := base + n
	if port < MinNodePort || port > MaxNodePort {
		return 0, false
	}
	return int32(port), true
}

// EnsureSession garante que o pod e o service do usuário existem e devolve a URL externa.
// Nunca cria duplicatas: existência é sempre consultada antes da criação.
func (r *Reconciler) EnsureSession(ctx context.Context, user string, spec WorkloadSpec) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	status, err := r.ensureWorkload(ctx, user, spec)
	if err != nil {
		return nil, err
	}

	port, err := r.ensureEndpoint(ctx, user, spec)
	if err != nil {
		return nil, err
	}

	return &Session{
		WorkloadName: WorkloadName(user),
		Status:       status,
		NodePort:     port,
		URL:          r.url(port),
	}, nil
}

func (r *Reconciler) ensureWorkload(ctx context.Context, user string, spec WorkloadSpec) (SessionStatus, error) {
	pods, err := r.client.CoreV1().Pods(r.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: OwnerSelector(user),
	})
	if err != nil {
		return "", fmt.Errorf("erro ao listar pods do usuário: %w", err)
	}

	// pod com DeletionTimestamp vai sumir: não serve como sessão existente
	terminating := false
	for i := range pods.Items {
		if pods.Items[i].DeletionTimestamp == nil {
			return StatusExists, nil
		}
		terminating = true
	}
	if terminating {
		if err := r.awaitWorkloadGone(ctx, user); err != nil {
			return "", err
		}
	}

	_, err = r.client.CoreV1().Pods(r.namespace).Create(ctx, workloadManifest(user, spec), metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		// outra requisição criou o pod entre o List e o Create
		pod, getErr := r.client.CoreV1().Pods(r.namespace).Get(ctx, WorkloadName(user), metav1.GetOptions{})
		if getErr == nil && pod.DeletionTimestamp == nil {
			return StatusExists, nil
		}
		return "", ErrWorkloadTerminating
	}
	if err != nil {
		return "", fmt.Errorf("erro ao criar pod: %w", err)
	}

	r.log.Info("pod de sessão criado", zap.String("username", user), zap.String("pod", WorkloadName(user)))
	return StatusCreated, nil
}

// awaitWorkloadGone força a remoção de um pod em encerramento e espera ele sumir,
// limitado pelo prazo do ctx.
func (r *Reconciler) awaitWorkloadGone(ctx context.Context, user string) error {
	pods := r.client.CoreV1().Pods(r.namespace)
	name := WorkloadName(user)

	r.log.Info("pod anterior em encerramento, forçando remoção", zap.String("username", user), zap.String("pod", name))
	err := pods.Delete(ctx, name, metav1.DeleteOptions{GracePeriodSeconds: ptr.To[int64](0)})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("erro ao remover pod em encerramento: %w", err)
	}

	err = wait.PollUntilContextCancel(ctx, terminatingPoll, true, func(ctx context.Context) (bool, error) {
		_, err := pods.Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return true, nil
		}
		return false, err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWorkloadTerminating, err)
	}
	return nil
}

func (r *Reconciler) ensureEndpoint(ctx context.Context, user string, spec WorkloadSpec) (int32, error) {
	services := r.client.CoreV1().Services(r.namespace)

	svc, err := services.Get(ctx, EndpointName(user), metav1.GetOptions{})
	if err == nil {
		return nodePortOf(svc)
	}
	if !apierrors.IsNotFound(err) {
		return 0, fmt.Errorf("erro ao buscar service: %w", err)
	}

	nodePort, explicit := NodePortFor(r.basePort, user)
	_, err = services.Create(ctx, endpointManifest(user, spec, nodePort), metav1.CreateOptions{})
	if explicit && apierrors.IsInvalid(err) {
		// porta já alocada por outro service: deixa o cluster escolher
		r.log.Warn("NodePort determinístico recusado, usando atribuição automática",
			zap.String("username", user), zap.Int32("nodePort", nodePort), zap.Error(err))
		_, err = services.Create(ctx, endpointManifest(user, spec, 0), metav1.CreateOptions{})
	}
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return 0, fmt.Errorf("erro ao criar service: %w", err)
	}

	svc, err = services.Get(ctx, EndpointName(user), metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("erro ao reler service: %w", err)
	}
	r.log.Info("service de sessão criado", zap.String("username", user), zap.String("service", svc.Name))
	return nodePortOf(svc)
}

// EndpointURL devolve a URL externa de uma sessão já existente.
func (r *Reconciler) EndpointURL(ctx context.Context, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	svc, err := r.client.CoreV1().Services(r.namespace).Get(ctx, EndpointName(user), metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("erro ao buscar service: %w", err)
	}
	port, err := nodePortOf(svc)
	if err != nil {
		return "", err
	}
	return r.url(port), nil
}

// DeleteWorkload remove o pod do usuário sem período de graça. Pod inexistente não é erro.
// O service fica órfão de propósito e é reaproveitado no próximo login.
func (r *Reconciler) DeleteWorkload(ctx context.Context, user string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.client.CoreV1().Pods(r.namespace).Delete(ctx, WorkloadName(user), metav1.DeleteOptions{
		GracePeriodSeconds: ptr.To[int64](0),
	})
	if err == nil || apierrors.IsNotFound(err) {
		return nil
	}
	return fmt.Errorf("erro ao remover pod: %w", err)
}

// IsRunning só é true quando o pod existe, está na fase Running e não está em encerramento.
// Qualquer falha de leitura vira false.
func (r *Reconciler) IsRunning(ctx context.Context, user string) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pod, err := r.client.CoreV1().Pods(r.namespace).Get(ctx, WorkloadName(user), metav1.GetOptions{})
	if err != nil {
		return false
	}
	return pod.DeletionTimestamp == nil && pod.Status.Phase == corev1.PodRunning
}

func (r *Reconciler) url(port int32) string {
	return fmt.Sprintf("http://%s:%d/", r.nodeAddress, port)
}

func workloadManifest(user string, spec WorkloadSpec) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:        WorkloadName(user),
			Labels:      map[string]string{ownerLabel: user},
			Annotations: map[string]string{sidecarInjectAn: "false"},
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:  guiContainer,
				Image: spec.Image,
				Ports: []corev1.ContainerPort{
					{Name: webPortName, ContainerPort: spec.WebPort},
					{Name: "vnc", ContainerPort: spec.VNCPort},
				},
			}},
		},
	}
}

func endpointManifest(user string, spec WorkloadSpec, nodePort int32) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:   EndpointName(user),
			Labels: map[string]string{ownerLabel: user},
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeNodePort,
			Selector: map[string]string{ownerLabel: user},
			Ports: []corev1.ServicePort{{
				Name:       webPortName,
				Port:       spec.WebPort,
				TargetPort: intstr.FromInt32(spec.WebPort),
				NodePort:   nodePort,
			}},
		},
	}
}

func nodePortOf(svc *corev1.Service) (int32, error) {
	for _, p := range svc.Spec.Ports {
		if p.Name == webPortName && p.NodePort != 0 {
			return p.NodePort, nil
		}
	}
	for _, p := range svc.Spec.Ports {
		if p.NodePort != 0 {
			return p.NodePort, nil
		}
	}
	return 0, ErrNoNodePort
}
