// Package httputil provides optimized HTTP client utilities.
package httputil

import (
	"context"
	"net"
	"net/http"
	"time"
)

// =============================================================================
// Optimized HTTP Client Pool
// =============================================================================

// ClientConfig holds HTTP client configuration.
type ClientConfig struct {
	// Connection settings
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	// Timeout settings
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	ResponseTimeout     time.Duration

	// Keep-alive settings
	DisableKeepAlives bool
	KeepAliveInterval time.Duration
}

// DefaultClientConfig returns optimized default configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     30 * time.Second,
		DisableKeepAlives:   false,
		KeepAliveInterval:   30 * time.Second,
	}
}

// OpenAIClientConfig returns configuration for the fallback classifier API.
// Completions need long response timeouts but moderate concurrency.
func OpenAIClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        30,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     30,
		IdleConnTimeout:     120 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     120 * time.Second,
		DisableKeepAlives:   false,
		KeepAliveInterval:   30 * time.Second,
	}
}

// WebhookClientConfig returns configuration for escalation webhooks. These
// are fire-and-forget notifications, so short timeouts and few connections.
func WebhookClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     60 * time.Second,
		DialTimeout:         5 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		ResponseTimeout:     10 * time.Second,
		DisableKeepAlives:   false,
		KeepAliveInterval:   30 * time.Second,
	}
}

// NewOptimizedClient creates an optimized HTTP client with connection pooling.
func NewOptimizedClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		DisableKeepAlives:     cfg.DisableKeepAlives,
		ForceAttemptHTTP2:     true,
		DisableCompression:    false,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ResponseTimeout,
	}
}

// =============================================================================
// Global Shared Client Pool (Singleton)
// =============================================================================

var (
	defaultClient *http.Client
	openaiClient  *http.Client
	webhookClient *http.Client
)

func init() {
	defaultClient = NewOptimizedClient(DefaultClientConfig())
	openaiClient = NewOptimizedClient(OpenAIClientConfig())
	webhookClient = NewOptimizedClient(WebhookClientConfig())
}

// DefaultClient returns the shared default HTTP client.
func DefaultClient() *http.Client {
	return defaultClient
}

// OpenAIClient returns the HTTP client tuned for the fallback classifier.
func OpenAIClient() *http.Client {
	return openaiClient
}

// WebhookClient returns the HTTP client tuned for escalation webhooks.
func WebhookClient() *http.Client {
	return webhookClient
}

// =============================================================================
// Request Helper with Context
// =============================================================================

// DoWithContext executes HTTP request with context and timeout.
func DoWithContext(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	if client == nil {
		client = defaultClient
	}
	return client.Do(req.WithContext(ctx))
}
