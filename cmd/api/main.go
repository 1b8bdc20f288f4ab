package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/razorpay-checkout/internal/config"
	"github.com/noah-isme/razorpay-checkout/internal/health"
	"github.com/noah-isme/razorpay-checkout/internal/obs"
	"github.com/noah-isme/razorpay-checkout/internal/payment"
	"github.com/noah-isme/razorpay-checkout/internal/ratelimit"
	"github.com/noah-isme/razorpay-checkout/internal/razorpay"
	"github.com/noah-isme/razorpay-checkout/internal/resilience"
	"github.com/noah-isme/razorpay-checkout/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "checkout-api",
			Endpoint:      cfg.TracingEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if !cfg.GatewayConfigured() {
		logger.Error().Msg("razorpay credentials missing; payment endpoints will refuse requests")
	}

	redisClient := connectRedis(cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	}

	breaker := resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("razorpay").WithLogger(logger)
	gateway := razorpay.New(razorpay.Options{
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		BaseURL:   cfg.RazorpayBaseURL,
		Timeout:   cfg.RazorpayTimeout,
		Breaker:   breaker,
	})

	var receipts payment.ReceiptStore = payment.NopReceipts{}
	var limiter ratelimit.Allower = ratelimit.NewMemoryLimiter()
	if redisClient != nil {
		receipts = payment.RedisReceipts{Client: redisClient, TTL: cfg.ReceiptCacheTTL, LockTTL: cfg.ReceiptLockTTL}
		limiter = ratelimit.Limiter{Client: redisClient, Prefix: "checkout:ratelimit:"}
	}

	paymentHandler := payment.NewHandler(payment.HandlerConfig{
		Gateway:         gateway,
		KeyID:           cfg.RazorpayKeyID,
		KeySecret:       cfg.RazorpayKeySecret,
		DefaultCurrency: cfg.RazorpayDefaultCurrency,
		Receipts:        receipts,
		Logger:          logger,
	})

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		buckets := obs.ParseBucketsCSV(cfg.MetricsBucketsMS)
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, buckets, nil)
	}

	handler := newRouter(routerDeps{
		Logger:   logger,
		Payments: paymentHandler,
		Health: health.Handler{
			Checker:      health.Deps{Gateway: gateway, Redis: redisClient},
			RedisTimeout: cfg.HealthRedisTimeout,
		},
		RateLimit: ratelimit.Handler{
			Limiter: limiter,
			Config:  ratelimit.Config{Key: ratelimit.KeyByIPAndPath, Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
			OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
		},
		Headers: security.Headers{
			Enable:                cfg.SecurityHeaders,
			EnableHSTS:            cfg.HSTSEnabled,
			HSTSMaxAge:            cfg.HSTSMaxAge,
			HSTSIncludeSubdomains: cfg.HSTSIncludeSubdomains,
		},
		BodyLimit:      security.BodyLimit{Max: cfg.BodyLimitBytes},
		AllowedOrigins: cfg.CORSAllowedOrigins,
		HTTPMetrics:    httpMetrics,
		Tracing:        tracingEnabled,
		Metrics:        cfg.MetricsEnabled,
		Pprof:          cfg.PprofEnabled,
		PprofUser:      cfg.PprofBasicAuthUser,
		PprofPass:      cfg.PprofBasicAuthPass,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RazorpayTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Bool("gateway_configured", cfg.GatewayConfigured()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
		return
	case <-ctx.Done():
	}

	logger.Info().Msg("shutdown signal received")
	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

// connectRedis returns nil when REDIS_URL is unset or unparseable; the API
// then runs without receipt caching and with in-process rate limiting. An
// unreachable server still yields a client so readiness can report it.
func connectRedis(cfg *config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		logger.Info().Msg("redis not configured; using in-memory rate limiting")
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error().Err(err).Msg("parse redis url; continuing without redis")
		return nil
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis ping failed at startup; readiness will report it")
	}
	return client
}
