// Package transport builds the HTTP client shared by index, segment and
// subtitle downloads.
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// retryStatuses are the server errors worth another attempt.
var retryStatuses = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Options configures the client.
type Options struct {
	// Retries is the number of additional attempts after a failed request.
	Retries int
	// RetryWaitMin and RetryWaitMax bound the exponential backoff.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Timeout bounds a single attempt, including reading the body. Zero
	// means no limit.
	Timeout time.Duration
	// Headers are set on every request.
	Headers map[string]string
	// UserAgent overrides the Go default when not empty.
	UserAgent string
	// Verbose enables per-attempt request logging.
	Verbose bool
}

// NewClient returns an *http.Client that follows redirects and retries
// connection failures and 500/502/503/504 responses with backoff. Once
// retries are exhausted the last response is handed back unchanged so
// callers see the real status code.
func NewClient(opts Options, logger *slog.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.Retries
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = newHCLogger(logger, opts.Verbose)
	if logger != nil {
		rc.RequestLogHook = retryLogHook(logger)
		rc.ErrorHandler = giveUpHandler(logger)
	}

	rc.HTTPClient.Timeout = opts.Timeout
	if len(opts.Headers) > 0 || opts.UserAgent != "" {
		rc.HTTPClient.Transport = &HeaderMapTransport{
			Headers:   opts.Headers,
			UserAgent: opts.UserAgent,
			Base:      rc.HTTPClient.Transport,
		}
	}

	return rc.StandardClient()
}

// checkRetry retries transport errors the way the default policy does, but
// only the fixed set of server-error statuses.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return retryStatuses[resp.StatusCode], nil
}

// retryLogHook reports every attempt after the first at Warn, since the
// retrying client itself only logs them at Debug.
func retryLogHook(logger *slog.Logger) retryablehttp.RequestLogHook {
	return func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("retrying request", "url", req.URL.String(), "attempt", attempt)
		}
	}
}

// giveUpHandler logs a request that failed after retrying and hands the last
// response back unchanged.
func giveUpHandler(logger *slog.Logger) retryablehttp.ErrorHandler {
	return func(resp *http.Response, err error, numTries int) (*http.Response, error) {
		if numTries > 1 {
			args := []any{"attempts", numTries}
			if resp != nil {
				args = append(args, "url", resp.Request.URL.String(), "status", resp.StatusCode)
			}
			if err != nil {
				args = append(args, "error", err)
			}
			logger.Warn("giving up on request", args...)
		}
		return retryablehttp.PassthroughErrorHandler(resp, err, numTries)
	}
}

// HeaderMapTransport sets fixed headers on every outgoing request.
type HeaderMapTransport struct {
	Headers   map[string]string
	UserAgent string
	Base      http.RoundTripper
}

func (t *HeaderMapTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
