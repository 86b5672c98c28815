package observability

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tendrel/signalforge/internal/config"
)

// InitSentry configures the global Sentry hub. A disabled or empty DSN
// leaves Sentry off; capture calls become no-ops.
func InitSentry(cfg config.SentryConfig, release, environment string) error {
	if !cfg.Enabled || cfg.DSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Release:     release,
		Environment: environment,
	})
}

// CaptureException reports an error to Sentry if a hub is configured.
func CaptureException(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// CaptureMessage reports a warning-level message.
func CaptureMessage(msg string) {
	sentry.CaptureMessage(msg)
}

// Flush drains pending Sentry events before shutdown.
func Flush(ctx context.Context) {
	deadline := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		deadline = time.Until(dl)
	}
	sentry.Flush(deadline)
}
