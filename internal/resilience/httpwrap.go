package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTPClient wraps an http.Client with a per-call timeout and a circuit
// breaker. It makes exactly one attempt; retry policy belongs to the caller.
type HTTPClient struct {
	Client  *http.Client
	Breaker *Breaker
	Timeout time.Duration
}

// Do executes the request. The timeout stays armed until the returned
// response body is closed, so callers must always close it.
//
// A 5xx is returned as a response rather than an error so the caller can
// surface the upstream's own description; it still counts as a breaker
// failure. When the breaker is open ErrOpenCircuit is returned.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		breaker = NewBreaker(1, 1, time.Second)
	}
	target := breaker.Target()

	if !breaker.Allow(ctx) {
		recordAttempt(target, "circuit_open")
		return nil, ErrOpenCircuit
	}
	resp, err := cl.doOnce(ctx, req)
	switch {
	case err != nil:
		recordAttempt(target, errorOutcome(err))
		breaker.Report(ctx, false)
		return nil, err
	case resp.StatusCode >= 500:
		recordAttempt(target, "server_error")
		breaker.Report(ctx, false)
	default:
		recordAttempt(target, "ok")
		breaker.Report(ctx, true)
	}
	return resp, nil
}

// IsTimeout reports whether err came from an expired deadline, either the
// per-call timeout or the client's own.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (cl HTTPClient) doOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var callCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func errorOutcome(err error) string {
	if IsTimeout(err) {
		return "timeout"
	}
	return "transport_error"
}

func recordAttempt(target, outcome string) {
	if UpstreamAttempts == nil {
		return
	}
	UpstreamAttempts.WithLabelValues(target, outcome).Inc()
}
