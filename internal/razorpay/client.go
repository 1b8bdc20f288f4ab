package razorpay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/razorpay-checkout/internal/obs"
	"github.com/noah-isme/razorpay-checkout/internal/resilience"
)

const (
	// DefaultBaseURL is the public Razorpay REST endpoint.
	DefaultBaseURL = "https://api.razorpay.com/v1"
	// DefaultTimeout bounds a single order-creation call.
	DefaultTimeout = 5 * time.Second

	maxResponseBytes       = 1 << 20
	defaultFailDescription = "Failed to create order"
)

// ErrNotConfigured is returned when the key id or secret is empty.
var ErrNotConfigured = errors.New("razorpay: credentials not configured")

// OrderRequest is the body sent to the gateway's order endpoint.
type OrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// Order is the subset of the gateway's order entity the checkout needs.
type Order struct {
	ID       string `json:"id"`
	Entity   string `json:"entity,omitempty"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Options configures a Client.
type Options struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Timeout   time.Duration
	Transport http.RoundTripper
	Breaker   *resilience.Breaker
}

// Client talks to the gateway's REST API. It performs a single attempt per
// call; retry policy belongs to the caller.
type Client struct {
	keyID     string
	keySecret string
	baseURL   string
	http      resilience.HTTPClient
}

// New builds a Client. The transport is wrapped with otelhttp so each gateway
// call shows up as a client span.
func New(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("razorpay")
	}
	return &Client{
		keyID:     strings.TrimSpace(opts.KeyID),
		keySecret: strings.TrimSpace(opts.KeySecret),
		baseURL:   base,
		http: resilience.HTTPClient{
			Client:  &http.Client{Transport: otelhttp.NewTransport(transport)},
			Breaker: breaker,
			Timeout: timeout,
		},
	}
}

// Configured reports whether both credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.keyID != "" && c.keySecret != ""
}

// BasicAuth returns the base64 "keyId:secret" credential.
func (c *Client) BasicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(c.keyID + ":" + c.keySecret))
}

// CreateOrder opens a pending order at the gateway.
//
// The raw body is decoded before the status is looked at: an unparseable
// body is KindMalformedResponse whatever the status, a parseable body with a
// non-2xx status is KindUpstreamStatus carrying error.description.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if !c.Configured() {
		return Order{}, ErrNotConfigured
	}
	ctx, span := otel.Tracer("razorpay.Client").Start(ctx, "Razorpay.CreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("payment.amount_minor", req.Amount),
		attribute.String("payment.currency", req.Currency),
	)

	start := time.Now()
	order, err := c.createOrder(ctx, req)
	result := "ok"
	if err != nil {
		result = KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	} else {
		span.SetAttributes(attribute.String("razorpay.order_id", order.ID))
	}
	obs.ObserveGateway("create_order", result, obs.DurationMillis(time.Since(start)))
	return order, err
}

func (c *Client) createOrder(ctx context.Context, req OrderRequest) (Order, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Order{}, fmt.Errorf("encode order request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(payload))
	if err != nil {
		return Order{}, fmt.Errorf("build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Basic "+c.BasicAuth())

	resp, err := c.http.Do(ctx, httpReq)
	if err != nil {
		return Order{}, transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Order{}, transportError(fmt.Errorf("read gateway response: %w", err))
	}

	var env orderEnvelope
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return Order{}, &GatewayError{
				Kind:   KindMalformedResponse,
				Status: resp.StatusCode,
				Body:   snippet(trimmed),
				Err:    fmt.Errorf("decode gateway response: %w", err),
			}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		desc := env.description()
		if desc == "" {
			desc = defaultFailDescription
		}
		return Order{}, &GatewayError{
			Kind:        KindUpstreamStatus,
			Status:      resp.StatusCode,
			Code:        env.code(),
			Description: desc,
		}
	}
	if strings.TrimSpace(env.ID) == "" {
		return Order{}, &GatewayError{
			Kind:   KindMalformedResponse,
			Status: resp.StatusCode,
			Body:   snippet(raw),
			Err:    errors.New("gateway response missing order id"),
		}
	}
	return env.Order, nil
}

type orderEnvelope struct {
	Order
	Error json.RawMessage `json:"error,omitempty"`
}

type gatewayErrorBody struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e orderEnvelope) errorBody() gatewayErrorBody {
	var body gatewayErrorBody
	if len(e.Error) > 0 {
		_ = json.Unmarshal(e.Error, &body)
	}
	return body
}

func (e orderEnvelope) description() string {
	return strings.TrimSpace(e.errorBody().Description)
}

func (e orderEnvelope) code() string {
	return strings.TrimSpace(e.errorBody().Code)
}

func transportError(err error) error {
	if resilience.IsTimeout(err) {
		return &GatewayError{Kind: KindTimeout, Err: err}
	}
	return &GatewayError{Kind: KindTransport, Err: err}
}

func snippet(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
