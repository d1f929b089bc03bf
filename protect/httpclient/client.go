// Outbound HTTP clients for webhook notifications and the chat platform API.
package httpclient

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// leveledSlog reports retried failures at WARN, since most of them recover.
type leveledSlog struct {
	inner *slog.Logger
}

func (l leveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l leveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

type Config struct {
	Logger     *slog.Logger
	MaxRetries int
	WaitMin    time.Duration
	WaitMax    time.Duration
	Timeout    time.Duration
	// retry 429 responses, honoring Retry-After
	RetryRateLimited bool
	// wraps the pooled transport; nil means otelhttp instrumentation
	Transport func(http.RoundTripper) http.RoundTripper
}

// New returns a stdlib client with retryablehttp logic inside. It retries on
// connection errors and 5xx responses (except 501).
func New(cfg Config) *http.Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wrap := cfg.Transport
	if wrap == nil {
		wrap = func(rt http.RoundTripper) http.RoundTripper { return otelhttp.NewTransport(rt) }
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = wrap(cleanhttp.DefaultPooledTransport())
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.WaitMin
	retryClient.RetryWaitMax = cfg.WaitMax
	retryClient.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: logger.With("subsystem", "httpclient")})
	retryClient.CheckRetry = retryPolicy(cfg.RetryRateLimited)

	client := retryClient.StandardClient()
	client.Timeout = cfg.Timeout
	return client
}

// WebhookClient is used for notification webhooks. Rate limited posts are
// retried after the delay the receiver asks for.
func WebhookClient(logger *slog.Logger) *http.Client {
	return New(Config{
		Logger:           logger,
		MaxRetries:       3,
		WaitMin:          1 * time.Second,
		WaitMax:          10 * time.Second,
		Timeout:          30 * time.Second,
		RetryRateLimited: true,
	})
}

// APIClient is used by the chat platform session. The session library keeps
// its own rate limit buckets, so 429 responses are passed back untouched.
func APIClient(logger *slog.Logger) *http.Client {
	return New(Config{
		Logger:     logger,
		MaxRetries: 2,
		WaitMin:    500 * time.Millisecond,
		WaitMax:    5 * time.Second,
		Timeout:    20 * time.Second,
	})
}

func retryPolicy(rateLimited bool) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if !rateLimited && err == nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
}
