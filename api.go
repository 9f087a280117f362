package finly

import (
	"context"
	"encoding/json"
	"fmt"
)

// Get performs a read-through GET and decodes the response payload into T.
func Get[T any](ctx context.Context, c *Client, path string, opts RequestOptions) (T, error) {
	raw, err := c.GetJSON(ctx, path, opts)
	return decode[T](path, raw, err)
}

// Post performs a POST with mutation cache invalidation, decoding the
// response payload into T.
func Post[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	raw, err := c.PostJSON(ctx, path, body)
	return decode[T](path, raw, err)
}

// Put performs a PUT with mutation cache invalidation.
func Put[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	raw, err := c.PutJSON(ctx, path, body)
	return decode[T](path, raw, err)
}

// Patch performs a PATCH with mutation cache invalidation.
func Patch[T any](ctx context.Context, c *Client, path string, body any) (T, error) {
	raw, err := c.PatchJSON(ctx, path, body)
	return decode[T](path, raw, err)
}

// Delete performs a DELETE with mutation cache invalidation.
func Delete[T any](ctx context.Context, c *Client, path string) (T, error) {
	raw, err := c.DeleteJSON(ctx, path)
	return decode[T](path, raw, err)
}

func decode[T any](path string, raw json.RawMessage, err error) (T, error) {
	var v T
	if err != nil {
		return v, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if uerr := json.Unmarshal(raw, &v); uerr != nil {
		return v, fmt.Errorf("decoding %s response: %w", path, uerr)
	}
	return v, nil
}
