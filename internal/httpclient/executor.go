// Package httpclient fetches JSON snapshots from venue REST endpoints with
// rate limiting and retries.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/metrics"
)

// Limiter is satisfied by *rate.Manager.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// StatusError is a non-retryable HTTP failure.
type StatusError struct {
	Tag  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Tag, e.Code, e.Body)
}

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Executor runs GET requests, retrying transport errors, 429 and 5xx.
type Executor struct {
	logger   *zap.Logger
	limiter  Limiter
	http     *http.Client
	retryMax int
	tag      string
}

// New creates an Executor. limiter may be nil; tag prefixes log events.
func New(logger *zap.Logger, limiter Limiter, httpClient *http.Client, retryMax int, tag string) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Executor{
		logger:   logger,
		limiter:  limiter,
		http:     httpClient,
		retryMax: retryMax,
		tag:      tag,
	}
}

// GetJSON fetches url and decodes the body into out. rateKey scopes the limiter.
func (e *Executor) GetJSON(ctx context.Context, url, rateKey string, out any) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, rateKey); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, Backoff(attempt-1)); err != nil {
				return err
			}
		}

		start := time.Now()
		status, body, err := e.get(ctx, url)
		elapsed := time.Since(start)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			e.logger.Warn(e.tag+".http_failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		case status >= 500 || status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("%s server error: %d", e.tag, status)
			e.logger.Warn(e.tag+".server_error",
				zap.String("url", url),
				zap.Int("status", status),
				zap.Int("attempt", attempt),
				zap.Duration("latency", elapsed))
			continue
		case status >= 400:
			metrics.IncError(e.tag, "client_error")
			return &StatusError{Tag: e.tag, Code: status, Body: string(body)}
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				metrics.IncError(e.tag, "decode_failed")
				e.logger.Warn(e.tag+".decode_failed",
					zap.String("url", url),
					zap.String("body", string(body)),
					zap.Error(err))
				return fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug(e.tag+".http_success",
			zap.String("url", url),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))
		return nil
	}

	metrics.IncError(e.tag, "retries_exhausted")
	return fmt.Errorf("%s request failed after %d attempts: %w", e.tag, e.retryMax+1, lastErr)
}

func (e *Executor) get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
