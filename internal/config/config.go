package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// DefaultRazorpayBaseURL is the public Razorpay REST endpoint.
const DefaultRazorpayBaseURL = "https://api.razorpay.com/v1"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	CORSAllowedOrigins []string

	RazorpayKeyID           string
	RazorpayKeySecret       string
	RazorpayBaseURL         string
	RazorpayTimeout         time.Duration
	RazorpayDefaultCurrency string

	RedisURL        string
	ReceiptCacheTTL time.Duration
	ReceiptLockTTL  time.Duration

	BodyLimitBytes  int64
	RateLimitMax    int
	RateLimitWindow time.Duration

	SecurityHeaders       bool
	HSTSEnabled           bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	ShutdownTimeout    time.Duration
	HealthRedisTimeout time.Duration

	LogFormat            string
	LogLevel             string
	MetricsEnabled       bool
	MetricsNamespace     string
	MetricsBucketsMS     string
	TracingEnabled       bool
	TracingExporter      string
	TracingEndpoint      string
	TracingSamplingRatio float64
	PprofEnabled         bool
	PprofBasicAuthUser   string
	PprofBasicAuthPass   string
}

// Load reads configuration from environment variables and optional .env files.
//
// Missing Razorpay credentials are not an error here: the payment handlers
// fail closed per request so the process can still answer health probes.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		RazorpayKeyID:           strings.TrimSpace(k.String("RAZORPAY_KEY_ID")),
		RazorpayKeySecret:       strings.TrimSpace(k.String("RAZORPAY_KEY_SECRET")),
		RazorpayBaseURL:         strings.TrimRight(valueOrDefault(k.String("RAZORPAY_BASE_URL"), DefaultRazorpayBaseURL), "/"),
		RazorpayTimeout:         parseDuration(k.String("RAZORPAY_TIMEOUT"), "5s"),
		RazorpayDefaultCurrency: strings.ToUpper(valueOrDefault(k.String("RAZORPAY_DEFAULT_CURRENCY"), "INR")),

		RedisURL:        strings.TrimSpace(k.String("REDIS_URL")),
		ReceiptCacheTTL: parseDuration(k.String("RECEIPT_CACHE_TTL"), "24h"),
		ReceiptLockTTL:  parseDuration(k.String("RECEIPT_LOCK_TTL"), "15s"),

		BodyLimitBytes:  int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 64<<10)),
		RateLimitMax:    parseInt(k.String("RATE_LIMIT_MAX"), 30),
		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),

		SecurityHeaders:       parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
		HSTSEnabled:           parseBoolDefault(k.String("SECURITY_HSTS_ENABLED"), false),
		HSTSMaxAge:            parseInt(k.String("SECURITY_HSTS_MAX_AGE"), 31536000),
		HSTSIncludeSubdomains: parseBoolDefault(k.String("SECURITY_HSTS_INCLUDE_SUBDOMAINS"), false),

		ShutdownTimeout:    parseDuration(k.String("SHUTDOWN_TIMEOUT"), "10s"),
		HealthRedisTimeout: time.Duration(parseInt(k.String("HEALTH_READY_REDIS_TIMEOUT_MS"), 300)) * time.Millisecond,

		LogFormat:            valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:             valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsEnabled:       parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsNamespace:     valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "checkout"),
		MetricsBucketsMS:     strings.TrimSpace(k.String("OBS_METRICS_BUCKETS_MS")),
		TracingEnabled:       parseBoolDefault(k.String("OBS_ENABLE_TRACING"), true),
		TracingExporter:      valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		TracingEndpoint:      strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSamplingRatio: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		PprofEnabled:         parseBoolDefault(k.String("OBS_ENABLE_PPROF"), false),
		PprofBasicAuthUser:   strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofBasicAuthPass:   strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
	}

	if len(cfg.RazorpayDefaultCurrency) != 3 {
		return nil, fmt.Errorf("RAZORPAY_DEFAULT_CURRENCY must be a 3-letter code, got %q", cfg.RazorpayDefaultCurrency)
	}
	if cfg.RazorpayTimeout <= 0 {
		return nil, fmt.Errorf("RAZORPAY_TIMEOUT must be positive")
	}

	return cfg, nil
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

// GatewayConfigured reports whether both Razorpay credentials are present.
func (c *Config) GatewayConfigured() bool {
	return c != nil && c.RazorpayKeyID != "" && c.RazorpayKeySecret != ""
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
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
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

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
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

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
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
