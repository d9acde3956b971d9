// Copyright 2025 The FBF Authors
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"context"
	"log"
	"time"
)

// DefaultBackoff is the wait before each retry after a rate-limited attempt.
// Its length plus one is the total number of attempts. Three attempts leave
// room for two waits, so the doubling stops before a 2s step.
var DefaultBackoff = []time.Duration{500 * time.Millisecond, time.Second}

// RetryingClient wraps a Client and retries rate-limited requests. Any other
// error is returned immediately.
type RetryingClient struct {
	Client  Client
	Backoff []time.Duration
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryingClient wraps client with DefaultBackoff.
func NewRetryingClient(client Client) *RetryingClient {
	return &RetryingClient{
		Client:  client,
		Backoff: DefaultBackoff,
		Sleep:   sleepContext,
	}
}

// Search implements Client.
func (r *RetryingClient) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; ; attempt++ {
		res, err := r.Client.Search(ctx, query, limit)
		if err == nil || !IsRateLimitError(err) || attempt >= len(r.Backoff) {
			return res, err
		}

		log.Printf("[geocoding] rate limited on %q, retrying in %s (attempt %d/%d)",
			query, r.Backoff[attempt], attempt+1, len(r.Backoff)+1)

		if serr := sleep(ctx, r.Backoff[attempt]); serr != nil {
			return nil, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
