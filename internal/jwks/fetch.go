package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxDocumentSize bounds the JWKS response body we are willing to read.
const maxDocumentSize = 1 << 20

// RetryPolicy controls how transient fetch failures are retried.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy retries three times with exponential backoff starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// permanentError marks a failure that retrying cannot fix (4xx, undecodable body).
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// fetchKeySet GETs and decodes the document at url, retrying transient
// failures according to policy. Any error returned wraps ErrUnavailable.
func fetchKeySet(ctx context.Context, client *http.Client, url string, policy RetryPolicy) (KeySet, error) {
	attempts := max(policy.Attempts, 1)
	delay := policy.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		ks, err := fetchOnce(ctx, client, url)
		if err == nil {
			return ks, nil
		}
		lastErr = err

		var perm permanentError
		if errors.As(err, &perm) || attempt == attempts {
			break
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-t.C:
		}
		delay *= 2
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return nil, fmt.Errorf("%w: fetch %s: %v", ErrUnavailable, url, lastErr)
}

func fetchOnce(ctx context.Context, client *http.Client, url string) (KeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, permanentError{err}
	}
	req.Header.Set("Accept", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return nil, permanentError{fmt.Errorf("unexpected status %d", res.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxDocumentSize))
	if err != nil {
		return nil, err
	}
	ks, err := ParseKeySet(body)
	if err != nil {
		return nil, permanentError{err}
	}
	return ks, nil
}
