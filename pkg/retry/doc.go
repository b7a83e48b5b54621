// Package retry provides backoff strategies and a context-aware retry loop.
//
// The scraper wraps browser login in Do so a network hiccup or a slow page
// gets another chance while a rejected password does not:
//
//	cfg := retry.FromSettings(2, 2*time.Second, 15*time.Second, log)
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return auth.Login(ctx, page, creds)
//	}, cfg)
//
// Whether an error is retried is decided by Config.RetryIf, which defaults
// to the retryable types declared in pkg/errors.
package retry
