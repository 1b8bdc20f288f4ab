package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentOrderTotal counts order-initiation outcomes by result kind.
	PaymentOrderTotal *prometheus.CounterVec
	// PaymentVerifyTotal counts payment-verification outcomes by result kind.
	PaymentVerifyTotal *prometheus.CounterVec
	// GatewayLatency records Razorpay order-creation latency in milliseconds.
	GatewayLatency *prometheus.HistogramVec
	// ReceiptCacheTotal counts receipt cache lookups by outcome (hit, miss, error).
	ReceiptCacheTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentOrderTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_order_total",
			Help:      "Count of gateway order creation outcomes.",
		}, []string{"result"})
		PaymentVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verify_total",
			Help:      "Count of payment signature verification outcomes.",
		}, []string{"result"})
		GatewayLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_ms",
			Help:      "Latency of payment gateway calls in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"operation", "result"})
		ReceiptCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_cache_total",
			Help:      "Count of receipt cache lookups by outcome.",
		}, []string{"outcome"})

		mustRegisterCollector(reg, PaymentOrderTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentOrderTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentVerifyTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentVerifyTotal = v
			}
		})
		mustRegisterCollector(reg, GatewayLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				GatewayLatency = v
			}
		})
		mustRegisterCollector(reg, ReceiptCacheTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReceiptCacheTotal = v
			}
		})
	})
}

// CountOrder increments PaymentOrderTotal when domain metrics are registered.
func CountOrder(result string) {
	if PaymentOrderTotal != nil {
		PaymentOrderTotal.WithLabelValues(result).Inc()
	}
}

// CountVerify increments PaymentVerifyTotal when domain metrics are registered.
func CountVerify(result string) {
	if PaymentVerifyTotal != nil {
		PaymentVerifyTotal.WithLabelValues(result).Inc()
	}
}

// CountReceiptCache increments ReceiptCacheTotal when domain metrics are registered.
func CountReceiptCache(outcome string) {
	if ReceiptCacheTotal != nil {
		ReceiptCacheTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveGateway records a gateway call latency when domain metrics are registered.
func ObserveGateway(operation, result string, ms float64) {
	if GatewayLatency != nil {
		GatewayLatency.WithLabelValues(operation, result).Observe(ms)
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
