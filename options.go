package finly

import (
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/finly-app/client-go/internal/cache"
	"github.com/finly-app/client-go/internal/retry"
)

// RetryPolicy controls retry behaviour for a category of operations.
type RetryPolicy = retry.Policy

// CachePolicy is the explicit cache policy: invalidation rules,
// revalidation allowlist and freshness TTLs. See cache.LoadPolicy for the
// YAML form.
type CachePolicy = cache.Policy

const (
	defaultTimeout        = 15 * time.Second
	defaultCacheEntries   = 10_000
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
)

type clientOptions struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	logger      *zerolog.Logger
	policy      *cache.Policy
	maxEntries  int
	readRetry   *retry.Policy
	createRetry *retry.Policy
	writeRetry  *retry.Policy
}

// Option configures the client.
type Option func(*clientOptions)

// WithBaseURL sets the backend base URL. Required unless constructing via
// NewFromEnv.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = client
	}
}

// WithTimeout sets the per-request timeout. Individual requests may
// override it via RequestOptions.
func WithTimeout(timeout time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

// WithLogger replaces the client's logger, which defaults to the global
// zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = &logger
	}
}

// WithCachePolicy replaces the built-in cache policy.
func WithCachePolicy(policy *CachePolicy) Option {
	return func(o *clientOptions) {
		o.policy = policy
	}
}

// WithCacheMaxEntries bounds the in-memory cache layer.
func WithCacheMaxEntries(n int) Option {
	return func(o *clientOptions) {
		o.maxEntries = n
	}
}

// WithRetryPolicy replaces the default policy for read operations.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(o *clientOptions) {
		p := policy
		o.readRetry = &p
	}
}

// WithCreateRetryPolicy replaces the policy for POST operations.
func WithCreateRetryPolicy(policy RetryPolicy) Option {
	return func(o *clientOptions) {
		p := policy
		o.createRetry = &p
	}
}

// WithWriteRetryPolicy replaces the policy for PUT, PATCH and DELETE
// operations.
func WithWriteRetryPolicy(policy RetryPolicy) Option {
	return func(o *clientOptions) {
		p := policy
		o.writeRetry = &p
	}
}

// RequestOptions carries per-request settings. The zero value is the
// default behaviour.
type RequestOptions struct {
	// Params are query parameters; they participate in the cache key in
	// canonical (key-sorted) order.
	Params url.Values

	// SkipCache bypasses the cache entirely: no lookup, no write.
	SkipCache bool

	// Timeout overrides the client's per-request timeout.
	Timeout time.Duration

	// Retry overrides the verb-derived retry policy.
	Retry *RetryPolicy
}
