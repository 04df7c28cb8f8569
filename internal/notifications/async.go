package notifications

import (
	"context"
	"time"

	"github.com/velora-commerce/storefront-backend/pkg/logger"
)

const sendDeadline = 10 * time.Second

// AsyncSink dispatches sends on their own goroutine with a fresh
// deadline, so a slow provider cannot stall or fail the request path.
// Errors are logged and swallowed.
type AsyncSink struct {
	inner  Sink
	logger *logger.Logger
}

// NewAsyncSink wraps a sink with fire-and-forget semantics.
func NewAsyncSink(inner Sink, logg *logger.Logger) *AsyncSink {
	return &AsyncSink{inner: inner, logger: logg}
}

func (a *AsyncSink) SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error {
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendDeadline)
		defer cancel()
		if err := a.inner.SendOrderConfirmation(sendCtx, msg); err != nil && a.logger != nil {
			a.logger.Warn(sendCtx, "order confirmation send failed: "+err.Error())
		}
	}()
	return nil
}

func (a *AsyncSink) SendNewsletterWelcome(ctx context.Context, email string) error {
	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendDeadline)
		defer cancel()
		if err := a.inner.SendNewsletterWelcome(sendCtx, email); err != nil && a.logger != nil {
			a.logger.Warn(sendCtx, "newsletter welcome send failed: "+err.Error())
		}
	}()
	return nil
}
