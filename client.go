package finly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/finly-app/client-go/internal/apierrors"
	"github.com/finly-app/client-go/internal/auth"
	"github.com/finly-app/client-go/internal/cache"
	"github.com/finly-app/client-go/internal/config"
	"github.com/finly-app/client-go/internal/retry"
)

// Auth endpoints. These are public and exempt from the 401
// refresh-and-replay path, which would otherwise loop on itself.
const (
	loginPath   = "/auth/login"
	signupPath  = "/auth/signup"
	refreshPath = "/auth/refresh"
	logoutPath  = "/auth/logout"
)

// AuthEvent is a session lifecycle notification. See AuthEvents.
type AuthEvent = auth.Event

// Session lifecycle events.
const (
	TokensRefreshed = auth.TokensRefreshed
	SessionExpired  = auth.SessionExpired
)

// Client is the API client. All methods are safe for concurrent use; the
// request path holds no global lock.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger

	tokens *auth.Manager
	cache  *cache.Store
	policy *cache.Policy

	exec        retry.Executor
	readRetry   retry.Policy
	createRetry retry.Policy
	writeRetry  retry.Policy

	reval singleflight.Group
}

// New constructs a Client over the application's persistent store. The
// base URL is required. The context covers construction-time store reads
// (cache index, no network calls).
func New(ctx context.Context, store KeyValueStore, opts ...Option) (*Client, error) {
	o := &clientOptions{
		timeout:    defaultTimeout,
		maxEntries: defaultCacheEntries,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if store == nil {
		return nil, fmt.Errorf("persistent store is required")
	}

	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}

	policy := o.policy
	if policy == nil {
		policy = cache.DefaultPolicy()
	}

	cacheStore, err := cache.NewStore(ctx, store, policy, o.maxEntries)
	if err != nil {
		return nil, fmt.Errorf("initialising cache: %w", err)
	}
	cacheStore.SetLogger(logger)

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(o.baseURL, "/"),
		httpClient: httpClient,
		timeout:    o.timeout,
		logger:     logger,
		cache:      cacheStore,
		policy:     policy,
		exec:       retry.NewExecutor(),
	}

	c.readRetry = orPolicy(o.readRetry, retry.Policy{
		MaxAttempts: defaultRetryAttempts,
		BaseDelay:   defaultRetryBaseDelay,
		Multiplier:  2,
		Retryable:   apierrors.IsRetryable,
	})
	// Creates retry only on 503: retrying a generic POST on an ambiguous
	// failure risks duplicate side effects.
	c.createRetry = orPolicy(o.createRetry, retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   defaultRetryBaseDelay,
		Multiplier:  2,
		Retryable: func(err error) bool {
			return apierrors.IsStatus(err, http.StatusServiceUnavailable)
		},
	})
	c.writeRetry = orPolicy(o.writeRetry, retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   defaultRetryBaseDelay,
		Multiplier:  2,
		Retryable:   apierrors.IsRetryable,
	})

	c.tokens = auth.NewManager(store, c.refreshTokens)
	c.tokens.SetLogger(logger)

	return c, nil
}

// NewFromEnv constructs a Client from environment configuration. Explicit
// options take precedence over the environment.
func NewFromEnv(ctx context.Context, store KeyValueStore, opts ...Option) (*Client, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	envOpts := []Option{
		WithBaseURL(cfg.API.BaseURL),
		WithTimeout(time.Duration(cfg.API.TimeoutSeconds) * time.Second),
		WithCacheMaxEntries(cfg.Cache.MaxEntries),
		WithRetryPolicy(RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Retry.BaseDelayMillis) * time.Millisecond,
			Multiplier:  cfg.Retry.Multiplier,
			Retryable:   apierrors.IsRetryable,
		}),
	}

	if cfg.Cache.PolicyPath != "" {
		f, err := os.Open(cfg.Cache.PolicyPath)
		if err != nil {
			return nil, fmt.Errorf("opening cache policy: %w", err)
		}
		policy, perr := cache.LoadPolicy(f)
		f.Close()
		if perr != nil {
			return nil, fmt.Errorf("loading cache policy %s: %w", cfg.Cache.PolicyPath, perr)
		}
		envOpts = append(envOpts, WithCachePolicy(policy))
	}

	return New(ctx, store, append(envOpts, opts...)...)
}

// AuthEvents returns a channel of session lifecycle events
// (TokensRefreshed, SessionExpired). The channel is buffered and never
// blocks the request path; slow subscribers miss events.
func (c *Client) AuthEvents() <-chan AuthEvent {
	return c.tokens.Events()
}

// Login authenticates with the backend and stores the returned token pair.
func (c *Client) Login(ctx context.Context, email, password string) error {
	return c.authenticate(ctx, loginPath, map[string]string{
		"email":    email,
		"password": password,
	})
}

// Signup registers a new account and stores the returned token pair.
func (c *Client) Signup(ctx context.Context, email, password string) error {
	return c.authenticate(ctx, signupPath, map[string]string{
		"email":    email,
		"password": password,
	})
}

// Logout clears the local session. The backend logout call is best-effort:
// local state is wiped regardless of its outcome.
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.send(ctx, http.MethodPost, logoutPath, nil, nil, 0, true); err != nil {
		c.logger.Debug().Err(err).Msg("backend logout failed, clearing local session anyway")
	}
	return c.tokens.ClearTokens(ctx)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) error {
	raw, err := c.execute(ctx, http.MethodPost, path, RequestOptions{}, body)
	if err != nil {
		return err
	}

	pair, err := decodeTokenPair(raw)
	if err != nil {
		return err
	}
	return c.tokens.SetTokens(ctx, pair)
}

// refreshTokens is the auth.RefreshFunc wired into the token manager. It
// calls the refresh endpoint directly: no retry, no auth header, no 401
// replay.
func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	raw, err := c.send(ctx, http.MethodPost, refreshPath, nil, map[string]string{
		"refreshToken": refreshToken,
	}, 0, false)
	if err != nil {
		return auth.TokenPair{}, err
	}
	return decodeTokenPair(raw)
}

func decodeTokenPair(raw json.RawMessage) (auth.TokenPair, error) {
	var body struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return auth.TokenPair{}, fmt.Errorf("decoding token response: %w", err)
	}
	if body.AccessToken == "" || body.RefreshToken == "" {
		return auth.TokenPair{}, fmt.Errorf("token response missing token pair")
	}
	return auth.TokenPair{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
	}, nil
}

func orPolicy(override *retry.Policy, fallback retry.Policy) retry.Policy {
	if override != nil {
		return *override
	}
	return fallback
}

// isAuthPath reports whether a path belongs to the auth endpoints exempt
// from the 401 refresh-and-replay path.
func isAuthPath(path string) bool {
	return strings.HasPrefix("/"+strings.TrimPrefix(path, "/"), "/auth/")
}
