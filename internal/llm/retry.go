package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spherical/text-extractor/internal/domain"
	"github.com/spherical/text-extractor/internal/observability"
)

// RetryConfig bounds how often a model request is repeated after a
// transient failure.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{MaxRetries: 3, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second}
}

// transient status codes: rate limiting and upstream trouble.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// calculateBackoff doubles InitialBackoff per attempt up to MaxBackoff.
func calculateBackoff(attempt int, cfg *RetryConfig) time.Duration {
	d := cfg.InitialBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	if cfg.MaxBackoff > 0 && d > cfg.MaxBackoff {
		return cfg.MaxBackoff
	}
	return d
}

// retryWithBackoff calls send until it gets a 200 or a status that is not
// worth repeating. Such a response goes back to the caller with its body
// unread; everything else is closed here.
func retryWithBackoff(ctx context.Context, cfg *RetryConfig, logger *observability.Logger, send func() (*http.Response, error)) (*http.Response, error) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := send()
		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode == http.StatusOK || !retryableStatus[resp.StatusCode]:
			return resp, nil
		default:
			lastErr = fmt.Errorf("HTTP %d", resp.StatusCode)
			resp.Body.Close()
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		wait := calculateBackoff(attempt, cfg)
		logger.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Msg("Model request failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, domain.APIError(fmt.Sprintf("request failed after %d attempts", cfg.MaxRetries+1), lastErr)
}
