package finly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/finly-app/client-go/internal/apierrors"
	"github.com/finly-app/client-go/internal/cache"
	"github.com/finly-app/client-go/internal/retry"
)

// GetJSON performs a read-through GET. A fresh cache entry is returned
// without a network call; a stale entry is returned immediately while a
// background refresh runs for revalidation-eligible resources; a miss goes
// to the network. A 429 falls back to any cached entry, however old,
// before the error is surfaced.
func (c *Client) GetJSON(ctx context.Context, path string, opts RequestOptions) (json.RawMessage, error) {
	key := cache.Key(path, opts.Params)

	if !opts.SkipCache {
		lookup := c.cache.Get(ctx, key)
		switch lookup.Freshness {
		case cache.Fresh:
			return lookup.Payload, nil
		case cache.Stale:
			if c.policy.Revalidates(cache.Resource(path)) {
				c.revalidateInBackground(path, opts, key)
			}
			return lookup.Payload, nil
		}
	}

	payload, err := c.fetch(ctx, path, opts, key)
	if err == nil {
		return payload, nil
	}

	if !opts.SkipCache && apierrors.IsStatus(err, http.StatusTooManyRequests) {
		if cached, ok := c.cache.GetAny(ctx, key); ok {
			c.logger.Info().Str("key", key).Msg("rate limited, serving cached entry")
			return cached, nil
		}
	}
	return nil, err
}

// PostJSON performs a POST and, on success, synchronously invalidates the
// cache prefixes mapped to the mutated resource. Mutations are never
// served from cache and never cached.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPost, path, body)
}

// PutJSON performs a PUT with mutation cache invalidation.
func (c *Client) PutJSON(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPut, path, body)
}

// PatchJSON performs a PATCH with mutation cache invalidation.
func (c *Client) PatchJSON(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodPatch, path, body)
}

// DeleteJSON performs a DELETE with mutation cache invalidation.
func (c *Client) DeleteJSON(ctx context.Context, path string) (json.RawMessage, error) {
	return c.mutate(ctx, http.MethodDelete, path, nil)
}

// fetch runs the network path for a GET and writes the result through the
// cache. The write is conditional on the invalidation generation observed
// before the network call, so a mutation landing mid-fetch wins over the
// fetched payload. Cache write failures are logged, not surfaced: the
// caller has a usable response.
func (c *Client) fetch(ctx context.Context, path string, opts RequestOptions, key string) (json.RawMessage, error) {
	var gen uint64
	if !opts.SkipCache {
		gen = c.cache.Generation(key)
	}

	payload, err := c.execute(ctx, http.MethodGet, path, opts, nil)
	if err != nil {
		return nil, err
	}

	if !opts.SkipCache {
		if cerr := c.cache.SetIfGeneration(ctx, key, payload, gen); cerr != nil {
			c.logger.Warn().Err(cerr).Str("key", key).Msg("cache write failed")
		}
	}
	return payload, nil
}

func (c *Client) mutate(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	payload, err := c.execute(ctx, method, path, RequestOptions{}, body)
	if err != nil {
		return nil, err
	}

	// Invalidation happens before the mutation returns, so a read issued
	// after this call is guaranteed a cache miss for the mapped prefixes.
	resource := cache.Resource(path)
	if ierr := c.cache.InvalidateResource(ctx, resource); ierr != nil {
		c.logger.Warn().Err(ierr).Str("resource", resource).Msg("cache invalidation incomplete")
	}
	return payload, nil
}

// execute sends a request under the verb's retry policy, then applies the
// 401 refresh-and-replay path: at most one refresh and one replay per
// original request, never for auth endpoints.
func (c *Client) execute(ctx context.Context, method, path string, opts RequestOptions, body any) (json.RawMessage, error) {
	policy := c.retryPolicyFor(method, opts)

	payload, err := retry.Do(ctx, c.exec, policy, func(ctx context.Context) (json.RawMessage, error) {
		return c.send(ctx, method, path, opts.Params, body, opts.Timeout, true)
	})
	if err == nil || isAuthPath(path) || !apierrors.IsStatus(err, http.StatusUnauthorized) {
		return payload, err
	}

	if _, rerr := c.tokens.Refresh(ctx); rerr != nil {
		// The session is terminated; the caller gets an auth error, not a
		// generic server error.
		return nil, rerr
	}

	c.logger.Debug().Str("method", method).Str("path", path).Msg("replaying request after token refresh")
	return c.send(ctx, method, path, opts.Params, body, opts.Timeout, true)
}

// send performs a single HTTP round trip: build the request, attach auth,
// decode the response envelope. It never retries.
func (c *Client) send(ctx context.Context, method, path string, params url.Values, body any, timeout time.Duration, attachAuth bool) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.requestURL(path, params), reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if attachAuth {
		c.tokens.AttachAuth(ctx, req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apierrors.Transport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierrors.Transport(err)
	}

	return apierrors.DecodeEnvelope(resp.StatusCode, raw)
}

// revalidateInBackground refreshes a stale cache entry without blocking
// the caller. Concurrent revalidations of the same key collapse into one
// network call; failures are logged, never surfaced, and the operation is
// not cancelled by the caller's navigation.
func (c *Client) revalidateInBackground(path string, opts RequestOptions, key string) {
	go func() {
		_, err, shared := c.reval.Do(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			return c.fetch(ctx, path, opts, key)
		})
		if shared {
			return
		}
		if err != nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("background revalidation failed")
			return
		}
		c.logger.Debug().Str("key", key).Msg("cache entry revalidated")
	}()
}

func (c *Client) retryPolicyFor(method string, opts RequestOptions) retry.Policy {
	if opts.Retry != nil {
		return *opts.Retry
	}
	switch method {
	case http.MethodGet:
		return c.readRetry
	case http.MethodPost:
		return c.createRetry
	default:
		return c.writeRetry
	}
}

func (c *Client) requestURL(path string, params url.Values) string {
	u := c.baseURL + "/" + trimLeadingSlash(path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func trimLeadingSlash(path string) string {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return path
}
