// Package finly is the resilient API client for the finly backend. It
// mediates every network call the application makes: bearer-token
// authentication with automatic single-flight refresh, retry with
// exponential backoff, and a read-through response cache with
// stale-while-revalidate semantics and mutation-triggered invalidation.
//
// Basic usage:
//
//	client, err := finly.New(ctx, store, finly.WithBaseURL("https://api.finly.app/v1"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := client.Login(ctx, email, password); err != nil {
//	    log.Fatal(err)
//	}
//
//	expenses, err := finly.Get[[]Expense](ctx, client, "/expenses", finly.RequestOptions{})
//
// Retries, token refresh and cache fallbacks are resolved inside the
// client; callers only ever see a final, unrecoverable failure.
package finly
