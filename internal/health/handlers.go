package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/razorpay-checkout/internal/common"
)

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the process-wide readiness flag. Shutdown sets it to false
// before draining so load balancers stop routing new checkouts here.
func SetReady(v bool) {
	ready.Store(v)
}

// IsReady reports the readiness flag.
func IsReady() bool {
	return ready.Load()
}

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	GatewayConfigured() bool
	RedisEnabled() bool
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// GatewayStatus is satisfied by the Razorpay client.
type GatewayStatus interface {
	Configured() bool
}

// Deps probes the live dependencies of the API process.
type Deps struct {
	Gateway GatewayStatus
	Redis   *redis.Client
}

// GatewayConfigured implements Checker.
func (d Deps) GatewayConfigured() bool {
	return d.Gateway != nil && d.Gateway.Configured()
}

// RedisEnabled implements Checker.
func (d Deps) RedisEnabled() bool {
	return d.Redis != nil
}

// PingRedis implements Checker.
func (d Deps) PingRedis(ctx context.Context, timeout time.Duration) error {
	if d.Redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return d.Redis.Ping(ctx).Err()
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	RedisTimeout time.Duration
}

type readiness struct {
	Status  string `json:"status"`
	Gateway string `json:"gateway"`
	Redis   string `json:"redis"`
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes. An unconfigured gateway
// is reported but does not fail readiness; the payment endpoints answer that
// case themselves.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, readiness{Status: "unavailable", Gateway: "unknown", Redis: "unknown"})
		return
	}
	body := readiness{Status: "ok", Gateway: "configured", Redis: "disabled"}
	healthy := true

	if !h.Checker.GatewayConfigured() {
		body.Gateway = "not_configured"
	}
	if h.Checker.RedisEnabled() {
		body.Redis = "ok"
		if err := h.Checker.PingRedis(r.Context(), h.redisTimeout()); err != nil {
			body.Redis = err.Error()
			healthy = false
		}
	}

	status := http.StatusOK
	switch {
	case !IsReady():
		body.Status = "shutting_down"
		status = http.StatusServiceUnavailable
	case !healthy:
		body.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	common.JSON(w, status, body)
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
