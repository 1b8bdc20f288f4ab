package main

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/razorpay-checkout/internal/health"
	"github.com/noah-isme/razorpay-checkout/internal/obs"
	"github.com/noah-isme/razorpay-checkout/internal/payment"
	"github.com/noah-isme/razorpay-checkout/internal/ratelimit"
	"github.com/noah-isme/razorpay-checkout/internal/security"
)

type routerDeps struct {
	Logger         zerolog.Logger
	Payments       *payment.Handler
	Health         health.Handler
	RateLimit      ratelimit.Handler
	Headers        security.Headers
	BodyLimit      security.BodyLimit
	AllowedOrigins []string
	HTTPMetrics    *obs.HTTPMetrics
	Tracing        bool
	Metrics        bool
	Pprof          bool
	PprofUser      string
	PprofPass      string
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if d.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(d.AllowedOrigins),
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(d.Headers.Middleware)

	if d.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	if d.Pprof {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), d.PprofUser, d.PprofPass))
	}

	r.Get("/health/live", d.Health.Live)
	r.Get("/health/ready", d.Health.Ready)

	r.Route("/api", func(api chi.Router) {
		api.Use(d.BodyLimit.Middleware)
		api.Use(d.RateLimit.Middleware)
		// Registered for every method so the handlers answer 405 themselves.
		api.HandleFunc("/create-razorpay-order", d.Payments.CreateOrder)
		api.HandleFunc("/verify-razorpay-payment", d.Payments.VerifyPayment)
	})

	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func newPprofMux() http.Handler {
	// chi.Mount keeps the full URL path, and pprof.Index expects it.
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return http.HandlerFunc(http.NotFound)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
