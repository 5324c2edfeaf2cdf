package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	DatabaseMaxConns   int32
	RedisURL           string
	MigrateOnStart     bool
	CORSAllowedOrigins []string

	LogFormat        string
	LogLevel         string
	MetricsEnabled   bool
	MetricsNamespace string
	TracingEnabled   bool
	TracingExporter  string
	TracingEndpoint  string
	TracingSampling  float64
	PprofEnabled     bool
	PprofUser        string
	PprofPass        string

	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite

	CartTTL        time.Duration
	CartCookieName string
	CartLockTTL    time.Duration

	CatalogCacheTTL     time.Duration
	CatalogDefaultLimit int
	CatalogMaxLimit     int

	UploadDir          string
	UploadMaxFileBytes int64
	UploadMaxFiles     int
	// UploadMaxRequestBytes caps one upload request body as a whole.
	UploadMaxRequestBytes int64

	PublicBaseURL   string
	FrontendBaseURL string
	Currency        string

	PaymentProvider     string
	MPAccessToken       string
	MPWebhookSecret     string
	MPBaseURL           string
	PaymentHTTPTimeout  time.Duration
	PaymentMaxAttempts  int
	WebhookReplayTTL    time.Duration
	IdempotencyTTL      time.Duration
	RateLimitWindow     time.Duration
	RateLimitCoupon     int64
	RateLimitCheckout   int64
	RateLimitLogin      int64
	RateLimitUpload     int64
	AsynqConcurrency    int
	DeliveryMaxRetry    int
	DeliveryEmailSender string
	WorkerMetricsAddr   string
	AuditEnabled        bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return loadEnv()
}

func loadEnv() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("API_PORT"), valueOrDefault(k.String("PORT"), "8080")),
		DatabaseURL:        k.String("DATABASE_URL"),
		DatabaseMaxConns:   int32(parseInt(k.String("DATABASE_MAX_CONNS"), 0)),
		RedisURL:           k.String("REDIS_URL"),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		LogFormat:        valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:         valueOrDefault(k.String("LOG_LEVEL"), "info"),
		MetricsEnabled:   parseBoolDefault(k.String("METRICS_ENABLED"), true),
		MetricsNamespace: valueOrDefault(k.String("METRICS_NAMESPACE"), "fotoko"),
		TracingEnabled:   parseBoolDefault(k.String("OTEL_ENABLED"), false),
		TracingExporter:  valueOrDefault(k.String("OTEL_EXPORTER"), "otlp"),
		TracingEndpoint:  k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracingSampling:  parseFloat(k.String("OTEL_SAMPLING_RATIO"), 1.0),
		PprofEnabled:     parseBool(k.String("ENABLE_PPROF")),
		PprofUser:        strings.TrimSpace(k.String("PPROF_BASIC_AUTH_USER")),
		PprofPass:        strings.TrimSpace(k.String("PPROF_BASIC_AUTH_PASS")),

		JWTSecret:      k.String("JWT_SECRET"),
		JWTIssuer:      valueOrDefault(k.String("JWT_ISSUER"), "fotoko-api"),
		JWTAudience:    valueOrDefault(k.String("JWT_AUDIENCE"), "fotoko-web"),
		AccessTokenTTL: parseDuration(k.String("ACCESS_TOKEN_TTL"), "24h"),
		CookieDomain:   strings.TrimSpace(k.String("COOKIE_DOMAIN")),
		CookieSecure:   parseBool(k.String("COOKIE_SECURE")),
		CookieSameSite: parseSameSite(k.String("COOKIE_SAMESITE")),

		CartTTL:        parseDuration(k.String("CART_TTL"), "720h"),
		CartCookieName: valueOrDefault(k.String("CART_COOKIE_NAME"), "cart_session"),
		CartLockTTL:    parseDuration(k.String("CART_LOCK_TTL"), "5s"),

		CatalogCacheTTL:     parseDuration(k.String("CATALOG_CACHE_TTL"), "60s"),
		CatalogDefaultLimit: parseInt(k.String("CATALOG_DEFAULT_LIMIT"), 20),
		CatalogMaxLimit:     parseInt(k.String("CATALOG_MAX_LIMIT"), 100),

		UploadDir:          valueOrDefault(k.String("UPLOAD_DIR"), filepath.Join(os.TempDir(), "fotoko-uploads")),
		UploadMaxFileBytes: parseInt64(k.String("UPLOAD_MAX_FILE_BYTES"), 15<<20),
		UploadMaxFiles:     parseInt(k.String("UPLOAD_MAX_FILES"), 1000),

		UploadMaxRequestBytes: parseInt64(k.String("UPLOAD_MAX_REQUEST_BYTES"), 512<<20),

		PublicBaseURL:   strings.TrimRight(valueOrDefault(k.String("PUBLIC_BASE_URL"), "http://localhost:8080"), "/"),
		FrontendBaseURL: strings.TrimRight(valueOrDefault(k.String("FRONTEND_BASE_URL"), "http://localhost:3000"), "/"),
		Currency:        strings.ToUpper(valueOrDefault(k.String("CURRENCY"), "ARS")),

		PaymentProvider:     strings.ToLower(valueOrDefault(k.String("PAYMENT_PROVIDER"), "sandbox")),
		MPAccessToken:       strings.TrimSpace(k.String("MP_ACCESS_TOKEN")),
		MPWebhookSecret:     strings.TrimSpace(k.String("MP_WEBHOOK_SECRET")),
		MPBaseURL:           strings.TrimRight(valueOrDefault(k.String("MP_BASE_URL"), "https://api.mercadopago.com"), "/"),
		PaymentHTTPTimeout:  parseDuration(k.String("PAYMENT_HTTP_TIMEOUT"), "10s"),
		PaymentMaxAttempts:  parseInt(k.String("PAYMENT_MAX_ATTEMPTS"), 3),
		WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitWindow:     parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitCoupon:     parseInt64(k.String("RATE_LIMIT_COUPON"), 10),
		RateLimitCheckout:   parseInt64(k.String("RATE_LIMIT_CHECKOUT"), 5),
		RateLimitLogin:      parseInt64(k.String("RATE_LIMIT_LOGIN"), 10),
		RateLimitUpload:     parseInt64(k.String("RATE_LIMIT_UPLOAD"), 30),
		AsynqConcurrency:    parseInt(k.String("ASYNQ_CONCURRENCY"), 10),
		DeliveryMaxRetry:    parseInt(k.String("DELIVERY_MAX_RETRY"), 8),
		DeliveryEmailSender: valueOrDefault(k.String("DELIVERY_EMAIL_SENDER"), "log"),
		WorkerMetricsAddr:   valueOrDefault(k.String("WORKER_METRICS_ADDR"), ":9091"),
		AuditEnabled:        parseBoolDefault(k.String("AUDIT_ENABLED"), true),
	}

	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.PaymentProvider {
	case "sandbox":
	case "mercadopago":
		if c.MPAccessToken == "" {
			return errors.New("MP_ACCESS_TOKEN is required for the mercadopago provider")
		}
	default:
		return fmt.Errorf("unknown PAYMENT_PROVIDER %q", c.PaymentProvider)
	}
	if c.UploadMaxFileBytes <= 0 || c.UploadMaxFiles <= 0 || c.UploadMaxRequestBytes <= 0 {
		return errors.New("upload limits must be positive")
	}
	if c.UploadMaxRequestBytes < c.UploadMaxFileBytes {
		return errors.New("UPLOAD_MAX_REQUEST_BYTES must be at least UPLOAD_MAX_FILE_BYTES")
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseInt64(value string, fallback int64) int64 {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests overrides environment variables for the duration of the load
// and never reads a .env file.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key := range env {
		if v, ok := os.LookupEnv(key); ok {
			original[key] = &v
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := loadEnv()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]*string) error {
	var errs []string
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
