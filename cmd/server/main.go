package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/widen0814/VDI/internal/api"
	"github.com/widen0814/VDI/internal/config"
	"github.com/widen0814/VDI/internal/db"
	"github.com/widen0814/VDI/internal/k8s"
	"github.com/widen0814/VDI/internal/ledger"
	"github.com/widen0814/VDI/internal/lock"
	"github.com/widen0814/VDI/internal/logger"
	"github.com/widen0814/VDI/internal/metrics"
	"github.com/widen0814/VDI/internal/session"
)

func main() {
	envFile := flag.String("env-file", ".env", "arquivo .env carregado antes das variáveis de ambiente")
	flag.Parse()

	// Carrega variáveis de ambiente (.env em dev, env vars em prod)
	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "warn: erro ao carregar %s: %v\n", *envFile, err)
	}

	cfg := config.New()

	log, err := logger.New(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("erro ao subir servidor", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// Banco
	conn, err := db.InitPostgres(cfg, log)
	if err != nil {
		return fmt.Errorf("erro ao conectar no banco: %w", err)
	}
	defer db.Close(conn)

	if err := db.AutoMigrate(conn); err != nil {
		return fmt.Errorf("erro ao migrar modelos: %w", err)
	}

	l := ledger.New(conn)
	if cfg.SeedAdminPassword != "" {
		seeded, err := l.SeedAdmin(ctx, cfg.SeedAdminUser, cfg.SeedAdminPassword)
		if err != nil {
			return fmt.Errorf("erro ao criar admin inicial: %w", err)
		}
		if seeded {
			log.Info("admin inicial criado", zap.String("username", cfg.SeedAdminUser))
		}
	}
	if err := l.SeedDefaultImage(ctx, cfg.GUIImage, cfg.GUIWebPort, cfg.GUIVNCPort); err != nil {
		return fmt.Errorf("erro ao registrar imagem padrão: %w", err)
	}

	// Kubernetes
	client, err := k8s.NewClient(cfg.Kubeconfig)
	if err != nil {
		return err
	}
	reconciler := k8s.NewReconciler(client, k8s.ReconcilerConfig{
		Namespace:   cfg.Namespace,
		NodeAddress: cfg.NodeAddress,
		BasePort:    cfg.NodePortBase,
		Timeout:     cfg.K8sTimeout,
	}, log.Named("k8s"))

	// Prometheus
	querier, err := metrics.NewPrometheusQuerier(cfg.PrometheusURL)
	if err != nil {
		return err
	}
	aggregator := metrics.NewAggregator(querier, log.Named("metrics"),
		metrics.WithTimeout(cfg.MetricsTimeout),
		metrics.WithWindow(cfg.MetricsCPUWindow),
		metrics.WithNodeNamer(func(ctx context.Context) (map[string]string, error) {
			return reconciler.NodeNames(ctx, cfg.NodeExporterPort)
		}),
	)

	// Lock de sessão entre instâncias
	var locker lock.Locker = lock.Noop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("erro ao conectar no redis: %w", err)
		}
		locker = lock.NewRedis(rdb, cfg.SessionLockTTL)
		log.Info("lock de sessão via redis", zap.String("addr", cfg.RedisAddr))
	}

	sessions := session.NewService(l, reconciler, session.Config{
		Locker:   locker,
		Location: cfg.Location(),
		Fallback: k8s.WorkloadSpec{
			Image:   cfg.GUIImage,
			WebPort: int32(cfg.GUIWebPort),
			VNCPort: int32(cfg.GUIVNCPort),
		},
	}, log.Named("session"))

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(api.RequestLogger(log.Named("http")), api.Recovery(log))

	api.RegisterRoutes(r, &api.Env{
		Cfg:       cfg,
		Sessions:  sessions,
		Inspector: reconciler,
		Metrics:   aggregator,
		Log:       log.Named("api"),
	})

	addr := ":" + cfg.AppPort
	log.Info("servidor ouvindo", zap.String("addr", addr), zap.String("namespace", cfg.Namespace))
	return r.Run(addr)
}
