package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config agrega todas as configurações da aplicação.
type Config struct {
	AppPort      string
	Debug        bool
	CookieName   string
	CookieSecure bool

	JWTSecret     string
	JWTExpMinutes int

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Autenticação de administradores
	AdminAuthMode          string // local, ldap
	EnableLocalLogin       bool
	LocalAdminUser         string
	LocalAdminPasswordHash string
	SeedAdminUser          string
	SeedAdminPassword      string
	LDAPURL                string
	LDAPBaseDN             string
	LDAPBindDN             string
	LDAPBindPass           string
	LDAPAdminGroupDN       string

	// Kubernetes
	Kubeconfig   string
	Namespace    string
	K8sTimeout   time.Duration
	GUIImage     string
	GUIWebPort   int
	GUIVNCPort   int
	NodeAddress  string
	NodePortBase int

	// Prometheus
	PrometheusURL    string
	MetricsTimeout   time.Duration
	MetricsCPUWindow string
	NodeExporterPort int

	DisplayTZ string

	// Redis (opcional, lock de sessão entre instâncias)
	RedisAddr      string
	RedisPassword  string
	SessionLockTTL time.Duration
}

// LoadEnv tenta carregar variáveis de ambiente de um arquivo .env (modo dev).
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err == nil {
		return godotenv.Load(path)
	}
	return nil
}

// New cria uma nova instância de Config baseada em variáveis de ambiente.
func New() *Config {
	return &Config{
		AppPort:      getEnv("APP_PORT", "8080"),
		Debug:        getEnvBool("APP_DEBUG", false),
		CookieName:   getEnv("APP_COOKIE_NAME", "vdi_session"),
		CookieSecure: getEnvBool("APP_COOKIE_SECURE", false),

		JWTSecret:     getEnv("APP_JWT_SECRET", "change-me-secret"),
		JWTExpMinutes: getEnvInt("APP_JWT_EXP_MINUTES", 60),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "vdi"),
		DBPassword: getEnv("DB_PASSWORD", "vdi"),
		DBName:     getEnv("DB_NAME", "vdi"),

		AdminAuthMode:          strings.ToLower(getEnv("ADMIN_AUTH_MODE", "local")),
		EnableLocalLogin:       getEnvBool("ENABLE_LOCAL_LOGIN", false),
		LocalAdminUser:         getEnv("LOCAL_ADMIN_USER", ""),
		LocalAdminPasswordHash: getEnv("LOCAL_ADMIN_PASSWORD_HASH", ""),
		SeedAdminUser:          getEnv("SEED_ADMIN_USER", "admin"),
		SeedAdminPassword:      getEnv("SEED_ADMIN_PASSWORD", ""),
		LDAPURL:                getEnv("LDAP_URL", "ldap://ldap.example.com:389"),
		LDAPBaseDN:             getEnv("LDAP_BASE_DN", "dc=example,dc=com"),
		LDAPBindDN:             getEnv("LDAP_BIND_DN", "cn=admin,dc=example,dc=com"),
		LDAPBindPass:           getEnv("LDAP_BIND_PASSWORD", "admin"),
		LDAPAdminGroupDN:       getEnv("LDAP_ADMIN_GROUP_DN", ""),

		Kubeconfig:   getEnv("KUBECONFIG", ""),
		Namespace:    getEnv("K8S_NAMESPACE", "default"),
		K8sTimeout:   getEnvSeconds("K8S_TIMEOUT_SECONDS", 5),
		GUIImage:     getEnv("GUI_IMAGE", "dorowu/ubuntu-desktop-lxde-vnc"),
		GUIWebPort:   getEnvInt("GUI_WEB_PORT", 80),
		GUIVNCPort:   getEnvInt("GUI_VNC_PORT", 5900),
		NodeAddress:  getEnv("NODE_ADDRESS", "192.168.2.111"),
		NodePortBase: getEnvInt("NODE_PORT_BASE", 30680),

		PrometheusURL:    getEnv("PROMETHEUS_URL", "http://192.168.2.111:30900"),
		MetricsTimeout:   getEnvSeconds("METRICS_TIMEOUT_SECONDS", 4),
		MetricsCPUWindow: getEnv("METRICS_CPU_WINDOW", "2m"),
		NodeExporterPort: getEnvInt("NODE_EXPORTER_PORT", 9100),

		DisplayTZ: getEnv("DISPLAY_TZ", "America/Sao_Paulo"),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		SessionLockTTL: getEnvSeconds("SESSION_LOCK_TTL_SECONDS", 30),
	}
}

// Location devolve o fuso usado para exibir horários no painel.
// Fuso inválido cai para UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var val int
		_, err := fmt.Sscanf(v, "%d", &val)
		if err == nil {
			return val
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}

func getEnvSeconds(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Second
}
