package graceful

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Context returns a context that is cancelled on SIGTERM/SIGINT. In-flight
// confirmation polls observe the cancellation between attempts.
func Context(parent context.Context, logger *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(signals)
		select {
		case sig := <-signals:
			logger.WithField("signal", sig.String()).Info("got exit signal, stopping after current attempt")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
