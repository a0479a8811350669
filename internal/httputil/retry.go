// Package httputil holds the outbound HTTP retry loop shared by the order
// gateway and the webhook sender.
package httputil

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Log receives one warning per failed attempt. Nil disables it.
	Log *logrus.Entry
}

var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
}

// StatusError is the last retryable response once attempts run out.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// Retryable reports whether a response code is worth another attempt:
// 5xx and 429. Everything else goes straight back to the caller.
func Retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// Do sends the request built by buildReq, retrying transport errors and
// Retryable responses with exponential backoff. buildReq runs once per attempt
// because request bodies are consumed. A Retry-After header in seconds
// replaces the backoff delay for that attempt, capped at MaxDelay.
func Do(ctx context.Context, client *http.Client, cfg RetryConfig, buildReq func() (*http.Request, error)) (*http.Response, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetry.MaxAttempts
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetry.MaxDelay
	}

	var lastErr error
	backoff := cfg.BaseDelay

	for attempt := 1; ; attempt++ {
		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		wait := backoff
		resp, err := client.Do(req)
		switch {
		case err != nil:
			lastErr = err
		case !Retryable(resp.StatusCode):
			return resp, nil
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
			if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
				wait = d
			}
		}

		if attempt >= cfg.MaxAttempts {
			return nil, fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
		}
		wait = min(wait, cfg.MaxDelay)

		if cfg.Log != nil {
			cfg.Log.WithError(lastErr).WithFields(logrus.Fields{
				"url":     req.URL.Redacted(),
				"attempt": attempt,
				"max":     cfg.MaxAttempts,
				"delay":   wait.String(),
			}).Warn("request failed, retrying")
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, cfg.MaxDelay)
	}
}

func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
