package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/heimdex/heimdex-matting/internal/logging"
	"github.com/heimdex/heimdex-matting/internal/observability"
)

func (r *Resolver) fetchHTTP(ctx context.Context, url, scratchDir string) (Resolved, error) {
	dst := inputPath(scratchDir)
	err := r.retry(ctx, url, func(ctx context.Context) error {
		return r.download(ctx, url, dst)
	})
	if err != nil {
		_ = os.Remove(dst)
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{Source: logging.SanitizeSource(url), Err: err}
		}
		return Resolved{}, err
	}
	return Resolved{Path: dst, Owned: true}, nil
}

// retry runs op up to maxAttempts times with exponential backoff. Only
// retryable *FetchError values are retried.
func (r *Resolver) retry(ctx context.Context, src string, op func(context.Context) error) error {
	safe := logging.SanitizeSource(src)
	attempt := 0

	operation := func() error {
		attempt++
		attemptCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		err := op(attemptCtx)
		if err == nil {
			observability.FetchAttemptsTotal.WithLabelValues("ok").Inc()
			return nil
		}

		var fe *FetchError
		if !errors.As(err, &fe) {
			fe = &FetchError{Source: safe, Err: err}
		}
		if ctx.Err() != nil || !fe.IsRetryable() {
			observability.FetchAttemptsTotal.WithLabelValues("permanent").Inc()
			return backoff.Permanent(fe)
		}
		observability.FetchAttemptsTotal.WithLabelValues("retryable").Inc()
		return fe
	}

	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0
	if r.retryInterval > 0 {
		eb.InitialInterval = r.retryInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.maxAttempts-1)), ctx)

	return backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		r.logger.Warn("input fetch failed, retrying",
			"source", safe,
			"attempt", attempt,
			"retry_in", wait.String(),
			"error", err,
		)
	})
}

// download writes the response body to dst, replacing any earlier partial
// attempt.
func (r *Resolver) download(ctx context.Context, url, dst string) error {
	safe := logging.SanitizeSource(url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &FetchError{Source: safe, Err: fmt.Errorf("%w: %v", errBadSource, err)}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return &FetchError{Source: safe, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &FetchError{Source: safe, StatusCode: resp.StatusCode}
	}

	if r.maxBytes > 0 && resp.ContentLength > r.maxBytes {
		return &FetchError{Source: safe, Err: errTooLarge}
	}

	f, err := os.Create(dst)
	if err != nil {
		return &FetchError{Source: safe, Err: fmt.Errorf("%w: %v", errLocalWrite, err)}
	}

	var body io.Reader = resp.Body
	if r.maxBytes > 0 {
		body = io.LimitReader(resp.Body, r.maxBytes+1)
	}
	n, copyErr := io.Copy(f, body)
	closeErr := f.Close()

	if copyErr != nil {
		return &FetchError{Source: safe, Err: copyErr}
	}
	if closeErr != nil {
		return &FetchError{Source: safe, Err: closeErr}
	}
	if r.maxBytes > 0 && n > r.maxBytes {
		return &FetchError{Source: safe, Err: errTooLarge}
	}

	r.logger.Info("input downloaded", "source", safe, "bytes", n)
	return nil
}
